// Package gateway routes model calls across language-model backends with
// preference-ordered fallback, bounded retries and per-backend concurrency caps.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jonathan/courseware-agent/internal/llm"
)

// Default retry and concurrency settings.
const (
	DefaultMaxRetries     = 2
	DefaultBaseBackoff    = 250 * time.Millisecond
	DefaultMaxBackoff     = 4 * time.Second
	DefaultMaxConcurrency = 4
)

// Outcome classifies a single attempt
type Outcome string

// Outcome constants
const (
	OutcomeSuccess   Outcome = "success"
	OutcomeTransient Outcome = "transient"
	OutcomePermanent Outcome = "permanent"
	OutcomeCancelled Outcome = "cancelled"
)

// Attempt records one call to one backend.
type Attempt struct {
	Backend string        `json:"backend"`
	Try     int           `json:"try"`
	Latency time.Duration `json:"latency_ns"`
	Outcome Outcome       `json:"outcome"`
	Error   string        `json:"error,omitempty"`
}

// Observer receives every attempt as it completes.
type Observer func(Attempt)

// Request is a single gateway invocation.
type Request struct {
	Prompt      string
	Preferences []string
	// Timeout bounds each attempt; zero means no per-attempt deadline.
	Timeout  time.Duration
	Observer Observer
}

// Response is the raw reply and the backend that produced it.
type Response struct {
	Raw      string
	Backend  string
	Attempts []Attempt
}

// Invoker is the capability consumers depend on.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// Options tunes retry behavior.
type Options struct {
	MaxRetries     int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	MaxConcurrency int
}

// DefaultOptions returns the standard retry policy.
func DefaultOptions() Options {
	return Options{
		MaxRetries:     DefaultMaxRetries,
		BaseBackoff:    DefaultBaseBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		MaxConcurrency: DefaultMaxConcurrency,
	}
}

type managedBackend struct {
	backend llm.Backend
	sem     *semaphore.Weighted
	limiter *RateLimiter
}

// Gateway is safe for concurrent use by many runs.
type Gateway struct {
	backends map[string]*managedBackend
	opts     Options
	sleep    func(ctx context.Context, d time.Duration) error
}

// New wraps the opened backends. Limits are read from the matching catalog
// entry; backends absent from the catalog get the defaults.
func New(backends map[string]llm.Backend, catalog []llm.BackendConfig, opts Options) *Gateway {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = DefaultBaseBackoff
	}
	if opts.MaxBackoff < opts.BaseBackoff {
		opts.MaxBackoff = opts.BaseBackoff
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}

	g := &Gateway{
		backends: make(map[string]*managedBackend, len(backends)),
		opts:     opts,
		sleep:    sleepCtx,
	}
	for name, b := range backends {
		concurrency := opts.MaxConcurrency
		var rps float64
		if cfg, ok := llm.FindBackend(catalog, name); ok {
			if cfg.MaxConcurrency > 0 {
				concurrency = cfg.MaxConcurrency
			}
			rps = cfg.RequestsPerSecond
		}
		g.backends[name] = &managedBackend{
			backend: b,
			sem:     semaphore.NewWeighted(int64(concurrency)),
			limiter: NewRateLimiter(rps, concurrency),
		}
	}
	return g
}

// Backends returns the configured backend names.
func (g *Gateway) Backends() []string {
	names := make([]string, 0, len(g.backends))
	for name := range g.backends {
		names = append(names, name)
	}
	return names
}

// Close closes every backend.
func (g *Gateway) Close() error {
	var errs []error
	for _, mb := range g.backends {
		if err := mb.backend.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Invoke tries each preferred backend in order. Transient failures are retried
// up to MaxRetries times with exponential backoff; a permanent failure moves on
// to the next backend at once. Caller cancellation stops everything.
func (g *Gateway) Invoke(ctx context.Context, req Request) (*Response, error) {
	exhausted := &AllBackendsExhaustedError{}
	record := func(a Attempt) {
		exhausted.Attempts = append(exhausted.Attempts, a)
		if req.Observer != nil {
			req.Observer(a)
		}
	}

	for _, name := range req.Preferences {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("gateway invocation cancelled: %w", err)
		}

		mb, ok := g.backends[name]
		if !ok {
			exhausted.Failures = append(exhausted.Failures, BackendFailure{
				Backend: name,
				LastErr: &UnknownBackendError{Backend: name},
			})
			continue
		}

		failure := BackendFailure{Backend: name}
		for try := 1; try <= 1+g.opts.MaxRetries; try++ {
			if try > 1 {
				if err := g.sleep(ctx, g.backoff(try-1)); err != nil {
					return nil, fmt.Errorf("gateway invocation cancelled: %w", err)
				}
			}

			start := time.Now()
			raw, err := g.attempt(ctx, mb, name, req)
			attempt := Attempt{Backend: name, Try: try, Latency: time.Since(start)}
			failure.Attempts = try

			if err == nil {
				attempt.Outcome = OutcomeSuccess
				record(attempt)
				return &Response{Raw: raw, Backend: name, Attempts: exhausted.Attempts}, nil
			}

			attempt.Error = err.Error()
			if ctx.Err() != nil {
				attempt.Outcome = OutcomeCancelled
				record(attempt)
				return nil, fmt.Errorf("gateway invocation cancelled: %w", ctx.Err())
			}

			failure.LastErr = err
			if !llm.IsTransient(err) {
				attempt.Outcome = OutcomePermanent
				record(attempt)
				break
			}
			attempt.Outcome = OutcomeTransient
			record(attempt)

			var te *llm.TransientError
			if errors.As(err, &te) && te.StatusCode == 429 {
				mb.limiter.RecordRateLimit(g.backoff(try))
			}
		}
		exhausted.Failures = append(exhausted.Failures, failure)
	}

	return nil, exhausted
}

// attempt runs one call while holding a concurrency slot.
func (g *Gateway) attempt(ctx context.Context, mb *managedBackend, name string, req Request) (string, error) {
	if err := mb.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer mb.sem.Release(1)

	if err := mb.limiter.Wait(ctx); err != nil {
		return "", err
	}

	callCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	raw, err := mb.backend.Generate(callCtx, req.Prompt)
	if err == nil {
		return raw, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return "", &llm.TransientError{Backend: name, Message: fmt.Sprintf("attempt exceeded %s", req.Timeout), Cause: err}
	}
	return "", llm.ClassifyError(name, err)
}

// backoff returns the delay before retry n (1-based).
func (g *Gateway) backoff(n int) time.Duration {
	d := g.opts.BaseBackoff
	for i := 1; i < n; i++ {
		d *= 2
		if d >= g.opts.MaxBackoff {
			return g.opts.MaxBackoff
		}
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
