package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"apte/logger"
)

// Client performs document I/O against a ready backend. It is safe for
// concurrent use; writes to the same document are arbitrated by the store.
type Client struct {
	backend    Backend
	policy     RetryPolicy
	limiter    *rate.Limiter
	collection string
	log        *logger.Log
}

// Collection is the default collection used when a call passes "".
func (c *Client) Collection() string { return c.collection }

func (c *Client) resolve(collection string) string {
	if collection == "" {
		return c.collection
	}
	return collection
}

// wait blocks on the request limiter when throttling is enabled.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// Write stores fields under id, or under a generated id when id is empty,
// and returns the document id.
func (c *Client) Write(ctx context.Context, collection, id string, fields Fields) (string, error) {
	collection = c.resolve(collection)
	if id == "" {
		id = uuid.NewString()
	}
	if err := validateName("collection", collection); err != nil {
		return "", c.fail("write", collection, id, 0, err)
	}
	if err := validateName("document id", id); err != nil {
		return "", c.fail("write", collection, id, 0, err)
	}
	if fields == nil {
		fields = Fields{}
	}

	start := time.Now()
	attempts, err := c.policy.Do(ctx, func(attempt int) error {
		if attempt > 1 {
			c.noteRetry("write", collection, id, attempt)
		}
		if err := c.wait(ctx); err != nil {
			return err
		}
		return c.backend.Put(ctx, collection, id, fields)
	})
	if err != nil {
		return "", c.fail("write", collection, id, attempts, err)
	}
	c.record("write", collection, id, attempts)
	logger.LogPerformanceEntry(c.log.WithComponent("store"), "store", "write", time.Since(start), logger.Fields{
		"collection":  collection,
		"document_id": id,
	})
	return id, nil
}

// Read returns the document's fields, or ErrNotFound when it does not exist.
func (c *Client) Read(ctx context.Context, collection, id string) (Fields, error) {
	collection = c.resolve(collection)
	if err := validateName("collection", collection); err != nil {
		return nil, c.fail("read", collection, id, 0, err)
	}
	if err := validateName("document id", id); err != nil {
		return nil, c.fail("read", collection, id, 0, err)
	}

	start := time.Now()
	var fields Fields
	attempts, err := c.policy.Do(ctx, func(attempt int) error {
		if attempt > 1 {
			c.noteRetry("read", collection, id, attempt)
		}
		if err := c.wait(ctx); err != nil {
			return err
		}
		got, err := c.backend.Get(ctx, collection, id)
		if err != nil {
			return err
		}
		fields = got
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		c.record("read", collection, id, attempts)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, c.fail("read", collection, id, attempts, err)
	}
	c.record("read", collection, id, attempts)
	logger.LogPerformanceEntry(c.log.WithComponent("store"), "store", "read", time.Since(start), logger.Fields{
		"collection":  collection,
		"document_id": id,
	})
	return fields, nil
}

// Query returns a lazy iterator over the documents in collection that
// match every filter. Nothing is requested until the first Next.
func (c *Client) Query(ctx context.Context, collection string, filters ...Filter) *Iterator {
	return &Iterator{
		ctx:        ctx,
		client:     c,
		collection: c.resolve(collection),
		filters:    append([]Filter(nil), filters...),
	}
}

func (c *Client) noteRetry(op, collection, id string, attempt int) {
	logger.IncrementStoreRetry()
	c.log.WithComponent("store").WithFields(logger.Fields{
		"operation":   op,
		"collection":  collection,
		"document_id": id,
		"attempt":     attempt,
		"delay":       c.policy.Delay.String(),
	}).Warn("retrying store call after transient failure")
}

func (c *Client) record(op, collection, id string, attempts int) {
	logger.IncrementStoreOp(op)
	c.log.WithComponent("store").WithFields(logger.Fields{
		"operation":   op,
		"collection":  collection,
		"document_id": id,
		"attempts":    attempts,
	}).Debug("store call completed")
}

func (c *Client) fail(op, collection, id string, attempts int, err error) *OperationError {
	logger.IncrementStoreFailure()
	opErr := &OperationError{Op: op, Collection: collection, DocumentID: id, Attempts: attempts, Err: err}
	c.log.WithComponent("store").WithError(err).WithFields(logger.Fields{
		"operation":   op,
		"collection":  collection,
		"document_id": id,
		"attempts":    attempts,
		"transient":   IsTransient(err),
	}).Error("store call failed")
	return opErr
}
