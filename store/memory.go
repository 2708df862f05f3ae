package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemoryBackend keeps documents in process memory. Bodies are stored as
// JSON so values come back with the same types the S3 backend yields.
type MemoryBackend struct {
	mu   sync.RWMutex
	docs map[string]map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string]map[string][]byte)}
}

func (m *MemoryBackend) Ping(ctx context.Context) error { return nil }

func (m *MemoryBackend) Put(ctx context.Context, collection, id string, fields Fields) error {
	body, err := encodeFields(fields)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.docs[collection]
	if !ok {
		coll = make(map[string][]byte)
		m.docs[collection] = coll
	}
	coll[id] = body
	return nil
}

func (m *MemoryBackend) Get(ctx context.Context, collection, id string) (Fields, error) {
	m.mu.RLock()
	body, ok := m.docs[collection][id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decodeFields(body)
}

// Scan snapshots the collection in id order.
func (m *MemoryBackend) Scan(ctx context.Context, collection string) (Cursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll := m.docs[collection]
	ids := make([]string, 0, len(coll))
	for id := range coll {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	bodies := make([][]byte, len(ids))
	for i, id := range ids {
		bodies[i] = coll[id]
	}
	return &memoryCursor{ids: ids, bodies: bodies}, nil
}

type memoryCursor struct {
	ids    []string
	bodies [][]byte
	pos    int
}

func (c *memoryCursor) Next(ctx context.Context) (Document, error) {
	if c.pos >= len(c.ids) {
		return Document{}, ErrDone
	}
	id, body := c.ids[c.pos], c.bodies[c.pos]
	c.pos++
	fields, err := decodeFields(body)
	if err != nil {
		return Document{}, err
	}
	return Document{ID: id, Fields: fields}, nil
}

func (c *memoryCursor) Close() error { return nil }

func encodeFields(fields Fields) ([]byte, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return body, nil
}

// decodeFields parses a stored body. Integral numbers come back as int64
// and the rest as float64, so integers above 2^53 survive the round trip.
func decodeFields(body []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	fields := Fields{}
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		fields[k] = normalizeNumbers(v)
	}
	return fields, nil
}

func normalizeNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	case map[string]interface{}:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	case []interface{}:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
		return t
	}
	return v
}
