// Package lifecycle releases everything a run acquired, on every exit path.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"
)

// Release priorities. Lower values run first.
const (
	PriorityHTTP       = 10
	PriorityWorker     = 20
	PriorityCollection = 30
	PriorityProcess    = 50
	PriorityStorage    = 60
	PriorityTracing    = 80
)

// Hook is a release function registered with a Scope.
type Hook struct {
	Name     string
	Priority int
	Fn       func(ctx context.Context) error

	seq int
}

// Config configures a Scope.
type Config struct {
	// Timeout bounds the whole release pass (default: 30s).
	Timeout time.Duration
	// Signals that trigger Close (default: SIGTERM, SIGINT).
	Signals []os.Signal
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	return &Config{
		Timeout: 30 * time.Second,
		Signals: []os.Signal{syscall.SIGTERM, syscall.SIGINT},
	}
}

// Scope collects release hooks and runs them exactly once.
type Scope struct {
	mu        sync.Mutex
	hooks     []Hook
	seq       int
	timeout   time.Duration
	signals   []os.Signal
	logger    *slog.Logger
	closed    bool
	closeOnce sync.Once
	closeErr  error
	doneCh    chan struct{}
	signalCh  chan os.Signal
	stopOnce  sync.Once
}

// NewScope creates a Scope.
func NewScope(cfg *Config, logger *slog.Logger) *Scope {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scope{
		timeout: cfg.Timeout,
		signals: cfg.Signals,
		logger:  logger,
		doneCh:  make(chan struct{}),
	}
}

// Acquire registers release for a resource that was just obtained. Hooks run
// by ascending priority; hooks of equal priority run in reverse order of
// registration. Acquiring after Close runs release immediately.
func (s *Scope) Acquire(name string, priority int, release func(ctx context.Context) error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := release(ctx); err != nil {
			s.logger.Warn("late release failed", "resource", name, "error", err)
		}
		return
	}
	s.seq++
	s.hooks = append(s.hooks, Hook{Name: name, Priority: priority, Fn: release, seq: s.seq})
	s.mu.Unlock()
}

// Len reports how many hooks are pending.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hooks)
}

// Close runs every hook once, even if some fail, and returns their joined
// errors. Later calls return the first result.
func (s *Scope) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		hooks := make([]Hook, len(s.hooks))
		copy(hooks, s.hooks)
		s.hooks = nil
		s.mu.Unlock()

		sort.SliceStable(hooks, func(i, j int) bool {
			if hooks[i].Priority != hooks[j].Priority {
				return hooks[i].Priority < hooks[j].Priority
			}
			return hooks[i].seq > hooks[j].seq
		})

		// Release must not be cut short by the cancellation that caused it.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		var errs []error
		for _, hook := range hooks {
			start := time.Now()
			if err := hook.Fn(ctx); err != nil {
				s.logger.Error("release failed", "resource", hook.Name, "error", err)
				errs = append(errs, fmt.Errorf("release %s: %w", hook.Name, err))
				continue
			}
			s.logger.Debug("released", "resource", hook.Name, "duration", time.Since(start))
		}
		s.closeErr = errors.Join(errs...)
		s.stopSignals()
		close(s.doneCh)
	})
	return s.closeErr
}

// Done is closed once Close has finished.
func (s *Scope) Done() <-chan struct{} {
	return s.doneCh
}

// WatchSignals returns a context that is cancelled when one of the
// configured signals arrives. The scope is closed after cancellation so a
// signal still releases every resource.
func (s *Scope) WatchSignals(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)

	var sigCh chan os.Signal
	if len(s.signals) > 0 {
		sigCh = make(chan os.Signal, 1)
		s.mu.Lock()
		s.signalCh = sigCh
		s.mu.Unlock()
		signal.Notify(sigCh, s.signals...)
	}

	go func() {
		defer cancel()
		select {
		case sig := <-sigCh:
			s.logger.Warn("signal received, releasing resources", "signal", sig.String())
			cancel()
			_ = s.Close(context.Background())
		case <-s.doneCh:
		case <-parent.Done():
		}
	}()
	return ctx
}

func (s *Scope) stopSignals() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		sigCh := s.signalCh
		s.mu.Unlock()
		if sigCh != nil {
			signal.Stop(sigCh)
		}
	})
}
