package store

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
)

// RetryPolicy retries transient failures with a fixed delay between
// attempts. A call makes at most MaxRetries+1 attempts.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
	// Retryable classifies errors; nil means IsTransient.
	Retryable func(error) bool
}

// NoRetry makes exactly one attempt.
var NoRetry = RetryPolicy{}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// budget is spent. attempt starts at 1. It returns the attempts made.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) (int, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	attempt := 0
	for {
		attempt++
		err := fn(attempt)
		if err == nil {
			return attempt, nil
		}
		if attempt > p.MaxRetries || !retryable(err) {
			return attempt, err
		}
		if p.Delay > 0 {
			timer := time.NewTimer(p.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, errors.Join(err, ctx.Err())
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return attempt, errors.Join(err, ctx.Err())
		}
	}
}

// Error codes the store returns for throttling and short outages.
var transientCodes = map[string]struct{}{
	"SlowDown":            {},
	"Throttling":          {},
	"ThrottlingException": {},
	"RequestTimeout":      {},
	"InternalError":       {},
	"ServiceUnavailable":  {},
	"TooManyRequests":     {},
}

var sdkRetryables = retry.IsErrorRetryables(retry.DefaultRetryables)

// IsTransient reports whether err is expected to clear on retry: network
// faults, throttling and 5xx responses. Permission and argument errors
// are permanent.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrTransient):
		return true
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidArgument), errors.Is(err, context.Canceled):
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, ok := transientCodes[apiErr.ErrorCode()]; ok {
			return true
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatusCode()
		if status == 429 || status >= 500 {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return sdkRetryables.IsErrorRetryable(err).Bool()
}
