package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"apte/config"
	"apte/logger"
)

// State is the lifecycle stage of a Connection.
type State int32

const (
	Uninitialized State = iota
	Initializing
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Dialer builds the backend handle. It runs at most once per Connection.
type Dialer func(ctx context.Context) (Backend, error)

// Connection is the process-wide handle to the document store. Build one
// at startup and pass it to every consumer; the first Client call dials.
type Connection struct {
	dial       Dialer
	policy     RetryPolicy
	limiter    *rate.Limiter
	collection string
	projectID  string
	log        *logger.Log

	once   sync.Once
	state  atomic.Int32
	client *Client
	err    error
}

type Option func(*Connection)

// WithDialer replaces the backend chosen from configuration.
func WithDialer(d Dialer) Option {
	return func(c *Connection) { c.dial = d }
}

// WithRetryPolicy replaces the policy derived from MAX_RETRIES and
// RETRY_DELAY_SECONDS.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Connection) { c.policy = p }
}

func WithLogger(log *logger.Log) Option {
	return func(c *Connection) { c.log = log }
}

// NewConnection prepares, but does not open, the shared store connection.
func NewConnection(cfg *config.Config, opts ...Option) *Connection {
	c := &Connection{
		policy: RetryPolicy{
			MaxRetries: cfg.MaxRetries(),
			Delay:      cfg.RetryDelay(),
			Retryable:  IsTransient,
		},
		collection: cfg.Collection(),
		projectID:  cfg.StoreProjectID(),
		log:        logger.GetLogger(),
	}
	if rps := cfg.StoreRequestsPerSecond(); rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	c.dial = configDialer(cfg)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func configDialer(cfg *config.Config) Dialer {
	return func(ctx context.Context) (Backend, error) {
		if cfg.StoreBackend() == config.BackendMemory {
			return NewMemoryBackend(), nil
		}
		creds, err := LoadCredentials(cfg.StoreCredentialsPath())
		if err != nil {
			return nil, err
		}
		return NewS3Backend(ctx, cfg.StoreProjectID(), creds)
	}
}

// State reports the current lifecycle stage.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// Client returns the shared client, dialing on first use. Concurrent first
// callers share one attempt. A failed attempt is final: every later call
// returns the same *InitError without dialing again.
func (c *Connection) Client(ctx context.Context) (*Client, error) {
	c.once.Do(func() {
		c.state.Store(int32(Initializing))
		// one caller's cancellation must not decide the outcome for all
		c.client, c.err = c.connect(context.WithoutCancel(ctx))
		if c.err != nil {
			c.state.Store(int32(Failed))
			return
		}
		c.state.Store(int32(Ready))
	})
	return c.client, c.err
}

func (c *Connection) connect(ctx context.Context) (*Client, error) {
	log := c.log.WithComponent("store").WithFields(logger.Fields{
		"project_id": c.projectID,
		"collection": c.collection,
	})

	backend, err := c.dial(ctx)
	if err == nil {
		err = backend.Ping(ctx)
	}
	if err != nil {
		initErr := &InitError{Err: err}
		log.WithError(err).Error("remote store unavailable at startup")
		return nil, initErr
	}

	log.Info("store connection ready")
	return &Client{
		backend:    backend,
		policy:     c.policy,
		limiter:    c.limiter,
		collection: c.collection,
		log:        c.log,
	}, nil
}
