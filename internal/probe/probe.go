// Package probe gates a run on the service answering its status endpoint.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/efebarandurmaz/snapcheck/internal/rest"
)

// Config bounds the readiness poll.
type Config struct {
	MaxAttempts int
	Interval    time.Duration
}

// DefaultConfig polls once per second for half a minute.
func DefaultConfig() Config {
	return Config{MaxAttempts: 30, Interval: time.Second}
}

// Probe polls GET / until it answers 200.
type Probe struct {
	client *rest.Client
	cfg    Config
	logger *slog.Logger
}

// New creates a Probe.
func New(client *rest.Client, cfg Config, logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Probe{client: client, cfg: cfg, logger: logger}
}

// WaitUntilReady returns nil on the first 200 response. After MaxAttempts
// failed checks it returns an error wrapping rest.ErrServiceUnavailable.
func (p *Probe) WaitUntilReady(ctx context.Context) error {
	if p.cfg.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1", rest.ErrInvalidArgument)
	}

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		return struct{}{}, p.Check(ctx)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(p.cfg.Interval)),
		backoff.WithMaxTries(uint(p.cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.logger.Debug("service not ready", "attempt", attempts, "next", next, "error", err)
		}),
	)
	if err == nil {
		p.logger.Info("service ready", "endpoint", p.client.BaseURL().String(), "attempts", attempts)
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if ctx.Err() != nil {
			return fmt.Errorf("readiness wait aborted after %d attempts: %w", attempts, ctx.Err())
		}
	}
	return fmt.Errorf("%w: not ready after %d attempts: %w", rest.ErrServiceUnavailable, attempts, err)
}

// Check issues a single readiness request.
func (p *Probe) Check(ctx context.Context) error {
	return p.client.Do(ctx, rest.Request{Method: http.MethodGet, Path: "/"}, func(resp *http.Response) error {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	})
}
