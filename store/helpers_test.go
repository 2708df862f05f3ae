package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"apte/config"
)

func testConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()
	creds := filepath.Join(t.TempDir(), "service-account.json")
	require.NoError(t, os.WriteFile(creds, []byte(`{"access_key_id":"id","secret_access_key":"secret"}`), 0o600))

	vars := map[string]string{
		"FIREBASE_PROJECT_ID":       "apte-test",
		"FIREBASE_CREDENTIALS_PATH": creds,
		"STORE_BACKEND":             "memory",
		"RETRY_DELAY_SECONDS":       "0",
	}
	for k, v := range env {
		vars[k] = v
	}
	cfg, err := config.NewLoader(
		config.WithLookup(func(key string) (string, bool) {
			v, ok := vars[key]
			return v, ok
		}),
		config.WithEnvFile(filepath.Join(t.TempDir(), "missing.env")),
	).Load()
	require.NoError(t, err)
	return cfg
}

// flakyBackend wraps a MemoryBackend and fails the next N calls of each
// kind with the configured error.
type flakyBackend struct {
	*MemoryBackend

	mu        sync.Mutex
	putFails  int
	getFails  int
	scanFails int
	err       error
	puts      int
	gets      int
	scans     int
	// cursorFailAfter > 0 makes cursors fail after yielding that many docs.
	cursorFailAfter int
}

func newFlaky(err error) *flakyBackend {
	return &flakyBackend{MemoryBackend: NewMemoryBackend(), err: err}
}

func (f *flakyBackend) Put(ctx context.Context, collection, id string, fields Fields) error {
	f.mu.Lock()
	f.puts++
	fail := f.putFails > 0
	if fail {
		f.putFails--
	}
	f.mu.Unlock()
	if fail {
		return f.err
	}
	return f.MemoryBackend.Put(ctx, collection, id, fields)
}

func (f *flakyBackend) Get(ctx context.Context, collection, id string) (Fields, error) {
	f.mu.Lock()
	f.gets++
	fail := f.getFails > 0
	if fail {
		f.getFails--
	}
	f.mu.Unlock()
	if fail {
		return nil, f.err
	}
	return f.MemoryBackend.Get(ctx, collection, id)
}

func (f *flakyBackend) Scan(ctx context.Context, collection string) (Cursor, error) {
	f.mu.Lock()
	f.scans++
	fail := f.scanFails > 0
	if fail {
		f.scanFails--
	}
	failAfter := f.cursorFailAfter
	f.mu.Unlock()
	if fail {
		return nil, f.err
	}
	cursor, err := f.MemoryBackend.Scan(ctx, collection)
	if err != nil || failAfter == 0 {
		return cursor, err
	}
	return &failingCursor{Cursor: cursor, left: failAfter, err: f.err}, nil
}

type failingCursor struct {
	Cursor
	left int
	err  error
}

func (c *failingCursor) Next(ctx context.Context) (Document, error) {
	if c.left == 0 {
		return Document{}, c.err
	}
	c.left--
	return c.Cursor.Next(ctx)
}

// readyClient returns a client over backend with a zero-delay policy.
func readyClient(t *testing.T, backend Backend, maxRetries int) *Client {
	t.Helper()
	conn := NewConnection(testConfig(t, nil),
		WithDialer(func(ctx context.Context) (Backend, error) { return backend, nil }),
		WithRetryPolicy(RetryPolicy{MaxRetries: maxRetries}),
	)
	client, err := conn.Client(context.Background())
	require.NoError(t, err)
	return client
}
