package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEqual        Op = "=="
	OpNotEqual     Op = "!="
	OpLess         Op = "<"
	OpLessEqual    Op = "<="
	OpGreater      Op = ">"
	OpGreaterEqual Op = ">="
	OpIn           Op = "in"
)

// Filter matches documents whose Field compares to Value with Op.
// Documents missing the field never match.
type Filter struct {
	Field string
	Op    Op
	Value interface{}
}

func Where(field string, op Op, value interface{}) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

func (f Filter) validate() error {
	if f.Field == "" {
		return fmt.Errorf("%w: filter with empty field", ErrInvalidArgument)
	}
	switch f.Op {
	case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		return nil
	case OpIn:
		if f.Value == nil || reflect.ValueOf(f.Value).Kind() != reflect.Slice {
			return fmt.Errorf("%w: %q filter on %s needs a slice value", ErrInvalidArgument, f.Op, f.Field)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown filter operator %q", ErrInvalidArgument, f.Op)
}

func (f Filter) match(fields Fields) bool {
	got, ok := fields[f.Field]
	if !ok {
		return false
	}
	switch f.Op {
	case OpEqual:
		return equal(got, f.Value)
	case OpNotEqual:
		return !equal(got, f.Value)
	case OpIn:
		list := reflect.ValueOf(f.Value)
		for i := 0; i < list.Len(); i++ {
			if equal(got, list.Index(i).Interface()) {
				return true
			}
		}
		return false
	}

	c, ok := compare(got, f.Value)
	if !ok {
		return false
	}
	switch f.Op {
	case OpLess:
		return c < 0
	case OpLessEqual:
		return c <= 0
	case OpGreater:
		return c > 0
	case OpGreaterEqual:
		return c >= 0
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// toInt reports integer values exactly; toFloat would round above 2^53.
func toInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func equal(a, b interface{}) bool {
	if ia, ok := toInt(a); ok {
		if ib, ok := toInt(b); ok {
			return ia == ib
		}
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

// compare orders numbers numerically and strings lexically; mixed or
// other types are incomparable.
func compare(a, b interface{}) (int, bool) {
	if ia, ok := toInt(a); ok {
		if ib, ok := toInt(b); ok {
			switch {
			case ia < ib:
				return -1, true
			case ia > ib:
				return 1, true
			}
			return 0, true
		}
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	sa, ok := a.(string)
	if !ok {
		return 0, false
	}
	sb, ok := b.(string)
	if !ok {
		return 0, false
	}
	switch {
	case sa < sb:
		return -1, true
	case sa > sb:
		return 1, true
	}
	return 0, true
}

// Iterator yields the results of one Query. It is single pass: once it
// returns ErrDone or an error, every later Next returns the same value.
type Iterator struct {
	ctx        context.Context
	client     *Client
	collection string
	filters    []Filter

	cursor  Cursor
	started bool
	err     error
}

// Next returns the next matching document, ErrDone at the end, or an
// *OperationError. Opening the query is retried like any other call;
// a failure after that ends the iteration and the query must be reissued.
func (it *Iterator) Next() (Document, error) {
	if it.err != nil {
		return Document{}, it.err
	}
	if !it.started {
		it.started = true
		if err := it.open(); err != nil {
			it.err = err
			return Document{}, err
		}
	}
	for {
		doc, err := it.cursor.Next(it.ctx)
		if errors.Is(err, ErrDone) {
			it.finish(ErrDone)
			it.client.record("query", it.collection, "", 1)
			return Document{}, ErrDone
		}
		if err != nil {
			opErr := it.client.fail("query", it.collection, "", 1, err)
			it.finish(opErr)
			return Document{}, opErr
		}
		if it.matches(doc.Fields) {
			return doc, nil
		}
	}
}

func (it *Iterator) open() error {
	for _, f := range it.filters {
		if err := f.validate(); err != nil {
			return it.client.fail("query", it.collection, "", 0, err)
		}
	}
	if err := validateName("collection", it.collection); err != nil {
		return it.client.fail("query", it.collection, "", 0, err)
	}
	attempts, err := it.client.policy.Do(it.ctx, func(attempt int) error {
		if attempt > 1 {
			it.client.noteRetry("query", it.collection, "", attempt)
		}
		if err := it.client.wait(it.ctx); err != nil {
			return err
		}
		cursor, err := it.client.backend.Scan(it.ctx, it.collection)
		if err != nil {
			return err
		}
		it.cursor = cursor
		return nil
	})
	if err != nil {
		return it.client.fail("query", it.collection, "", attempts, err)
	}
	return nil
}

func (it *Iterator) matches(fields Fields) bool {
	for _, f := range it.filters {
		if !f.match(fields) {
			return false
		}
	}
	return true
}

func (it *Iterator) finish(err error) {
	it.err = err
	if it.cursor != nil {
		_ = it.cursor.Close()
	}
}

// Stop releases the cursor. Later calls to Next return ErrDone.
func (it *Iterator) Stop() {
	if it.err == nil {
		it.started = true
		it.finish(ErrDone)
	}
}

// All drains the iterator.
func (it *Iterator) All() ([]Document, error) {
	var docs []Document
	for {
		doc, err := it.Next()
		if errors.Is(err, ErrDone) {
			return docs, nil
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
}
