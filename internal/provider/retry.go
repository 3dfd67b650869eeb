package provider

import (
	"context"
	"time"

	"github.com/trevorstenson/crowd-agent/internal/errors"
	"github.com/trevorstenson/crowd-agent/internal/log"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 1 * time.Second
	defaultMaxDelay    = 30 * time.Second
)

// Retrying wraps a Client with bounded exponential backoff on
// transient faults. Permanent faults fail fast, unclassified faults
// are not retried.
type Retrying struct {
	client      Client
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	logger      *log.Logger

	// OnAttempt fires before every underlying completion call,
	// including retries. Callers use it to count model calls.
	OnAttempt func()

	sleep func(ctx context.Context, d time.Duration) error
}

// WithRetry wraps client with the default retry policy.
func WithRetry(client Client, logger *log.Logger) *Retrying {
	return &Retrying{
		client:      client,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
		logger:      logger,
		sleep:       sleepCtx,
	}
}

func (r *Retrying) Name() string { return r.client.Name() }

// Complete issues the completion, retrying transient faults up to the
// attempt cap with exponential backoff.
func (r *Retrying) Complete(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	delay := r.baseDelay

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if r.OnAttempt != nil {
			r.OnAttempt()
		}

		resp, err := r.client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		switch errors.Classify(err) {
		case errors.ClassTransient:
			if attempt == r.maxAttempts {
				break
			}
			r.logger.WithError(err).Warn("transient provider fault, will retry",
				"attempt", attempt, "delay", delay.String())
			if err := r.sleep(ctx, delay); err != nil {
				return nil, err
			}
			delay *= 2
			if delay > r.maxDelay {
				delay = r.maxDelay
			}
		case errors.ClassPermanent:
			r.logger.WithError(err).Error("permanent provider fault, failing fast")
			if errors.CodeOf(err) == "" {
				return nil, errors.Wrap(errors.ErrCodeProviderPermanent, "completion failed", err)
			}
			return nil, err
		default:
			r.logger.WithError(err).Error("unclassified provider fault")
			return nil, err
		}
	}

	if errors.CodeOf(lastErr) == "" {
		return nil, errors.Wrap(errors.ErrCodeProviderTransient, "retries exhausted", lastErr)
	}
	return nil, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
