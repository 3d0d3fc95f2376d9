package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/almanacmail/almanac/internal/models"
)

const (
	// DefaultRatePerSecond bounds outbound sends so a large run does
	// not trip provider throttles.
	DefaultRatePerSecond = 5
	// DefaultMaxRetries is the number of re-attempts after the first
	// failed send.
	DefaultMaxRetries = 2
	// DefaultAttemptTimeout bounds a single gateway call.
	DefaultAttemptTimeout = 30 * time.Second
)

// DispatcherOpts holds configuration options for the dispatcher.
type DispatcherOpts struct {
	RatePerSecond   float64
	MaxRetries      uint64
	AttemptTimeout  time.Duration
	InitialInterval time.Duration
}

// DispatcherOption defines a configuration option for the dispatcher.
type DispatcherOption func(*DispatcherOpts)

func WithRatePerSecond(r float64) DispatcherOption {
	return func(o *DispatcherOpts) { o.RatePerSecond = r }
}

func WithMaxRetries(n uint64) DispatcherOption {
	return func(o *DispatcherOpts) { o.MaxRetries = n }
}

func WithAttemptTimeout(d time.Duration) DispatcherOption {
	return func(o *DispatcherOpts) { o.AttemptTimeout = d }
}

// WithInitialInterval sets the first backoff delay between retries.
func WithInitialInterval(d time.Duration) DispatcherOption {
	return func(o *DispatcherOpts) { o.InitialInterval = d }
}

// Dispatcher wraps a Gateway with rate limiting and exponential
// backoff retries. One dispatcher is shared by all scheduler workers.
type Dispatcher struct {
	gateway         Gateway
	limiter         *rate.Limiter
	maxRetries      uint64
	attemptTimeout  time.Duration
	initialInterval time.Duration
}

func NewDispatcher(gateway Gateway, opts ...DispatcherOption) *Dispatcher {
	cfg := DispatcherOpts{
		RatePerSecond:  DefaultRatePerSecond,
		MaxRetries:     DefaultMaxRetries,
		AttemptTimeout: DefaultAttemptTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultRatePerSecond
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	return &Dispatcher{
		gateway:         gateway,
		limiter:         rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		maxRetries:      cfg.MaxRetries,
		attemptTimeout:  cfg.AttemptTimeout,
		initialInterval: cfg.InitialInterval,
	}
}

// Dispatch sends one email, retrying transient gateway failures. It
// returns the provider message ID of the successful attempt.
func (d *Dispatcher) Dispatch(ctx context.Context, recipient string, emailType models.EmailType, contentRef string) (string, error) {
	if recipient == "" {
		return "", models.ErrEmptyRecipient
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait failed: %w", err)
	}

	var providerID string
	attempt := 0
	operation := func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
		defer cancel()

		id, err := d.gateway.Send(attemptCtx, recipient, emailType, contentRef)
		if err != nil {
			if errors.Is(err, models.ErrEmptyRecipient) {
				return backoff.Permanent(err)
			}
			slog.Warn("dispatch attempt failed", "to", recipient, "type", emailType, "attempt", attempt, "error", err)
			return err
		}
		providerID = id
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	if d.initialInterval > 0 {
		bo.InitialInterval = d.initialInterval
	}
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, d.maxRetries), ctx))
	if err != nil {
		return "", fmt.Errorf("dispatch to %s failed after %d attempts: %w", recipient, attempt, err)
	}

	slog.Debug("dispatched", "to", recipient, "type", emailType, "content_ref", contentRef, "provider_id", providerID, "attempts", attempt)
	return providerID, nil
}
