// Package store persists agent state in a remote document store through a
// single shared connection with fixed-delay retries.
package store

import (
	"context"
	"fmt"
	"strings"
)

// Fields is a schemaless document body.
type Fields map[string]interface{}

// Document is one query result.
type Document struct {
	ID     string
	Fields Fields
}

// Backend is the raw document store. Implementations report missing
// documents with ErrNotFound and do no retrying of their own.
type Backend interface {
	// Ping confirms the store accepts the configured project.
	Ping(ctx context.Context) error
	Put(ctx context.Context, collection, id string, fields Fields) error
	Get(ctx context.Context, collection, id string) (Fields, error)
	// Scan opens a single-pass cursor over a collection. Any request needed
	// to obtain the first results happens here, not in the first Next.
	Scan(ctx context.Context, collection string) (Cursor, error)
}

// Cursor walks the documents of one collection. Next returns ErrDone at
// the end.
type Cursor interface {
	Next(ctx context.Context) (Document, error)
	Close() error
}

func validateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty %s", ErrInvalidArgument, kind)
	}
	if strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return fmt.Errorf("%w: %s %q contains a path separator", ErrInvalidArgument, kind, name)
	}
	return nil
}
