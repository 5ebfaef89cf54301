package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/koopa0/sage/internal/log"
)

// ErrUnknownProvider is returned when a request names a provider the
// router was not configured with.
var ErrUnknownProvider = errors.New("unknown provider")

// RetryConfig bounds retries on transient failures. The zero value asks
// for DefaultRetryConfig; a config with any field set is taken verbatim,
// so MaxRetries 0 there means a single attempt per provider.
type RetryConfig struct {
	MaxRetries      int           // per-provider retry attempts
	MaxTotalRetries int           // ceiling across the whole fallback chain
	InitialInterval time.Duration // first backoff delay
	MaxInterval     time.Duration // backoff cap
}

// DefaultRetryConfig returns sensible defaults for LLM API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		MaxTotalRetries: 6,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Entry describes one provider in the fallback chain.
type Entry struct {
	// ID is the provider identifier requests refer to.
	ID string

	// New builds an adapter bound to the given API key. Called once at
	// router construction for the default key, and per request when a
	// credential override is supplied.
	New func(ctx context.Context, apiKey string) (Adapter, error)

	// DefaultKey is the process-wide credential. May be empty.
	DefaultKey string

	// RequiresKey marks providers that cannot operate without a
	// credential. Local backends (ollama) leave this false.
	RequiresKey bool
}

// Options carries per-request routing inputs.
type Options struct {
	// Provider names the preferred provider. Empty means the first
	// configured entry.
	Provider string

	// Keys overrides credentials per provider id for this request only.
	// When an override is present for a provider, the process default is
	// never consulted for it, even if the override fails.
	Keys map[string]string
}

// RouterConfig configures a Router.
type RouterConfig struct {
	// Providers in fallback order.
	Providers []Entry

	Retry RetryConfig

	// RateLimit caps attempts per second across all providers.
	// Zero disables limiting.
	RateLimit rate.Limit

	Logger log.Logger
}

// Router dispatches generation requests across a fallback chain of
// providers. Transient failures are retried with exponential backoff and
// jitter; fatal failures skip straight to the next provider.
type Router struct {
	entries  []Entry
	byID     map[string]int
	defaults map[string]Adapter // adapters bound to process-wide keys
	retry    RetryConfig
	limiter  *rate.Limiter
	logger   log.Logger
}

// NewRouter creates a Router and eagerly builds adapters for every
// provider that has usable default credentials.
func NewRouter(ctx context.Context, cfg RouterConfig) (*Router, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("router: at least one provider is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("router: logger is required")
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Retry.MaxRetries < 0 {
		cfg.Retry.MaxRetries = 0
	}
	if cfg.Retry.MaxTotalRetries < 0 {
		cfg.Retry.MaxTotalRetries = 0
	}

	r := &Router{
		entries:  cfg.Providers,
		byID:     make(map[string]int, len(cfg.Providers)),
		defaults: make(map[string]Adapter, len(cfg.Providers)),
		retry:    cfg.Retry,
		logger:   cfg.Logger,
	}
	if cfg.RateLimit > 0 {
		r.limiter = rate.NewLimiter(cfg.RateLimit, 1)
	}

	for i, e := range cfg.Providers {
		if e.ID == "" || e.New == nil {
			return nil, fmt.Errorf("router: provider %d: id and factory are required", i)
		}
		if _, dup := r.byID[e.ID]; dup {
			return nil, fmt.Errorf("router: duplicate provider %q", e.ID)
		}
		r.byID[e.ID] = i

		if e.RequiresKey && e.DefaultKey == "" {
			// Stays reachable through per-request overrides only.
			continue
		}
		adapter, err := e.New(ctx, e.DefaultKey)
		if err != nil {
			return nil, fmt.Errorf("router: build %s adapter: %w", e.ID, err)
		}
		r.defaults[e.ID] = adapter
	}
	return r, nil
}

// Providers returns the configured provider ids in fallback order.
func (r *Router) Providers() []string {
	ids := make([]string, len(r.entries))
	for i, e := range r.entries {
		ids[i] = e.ID
	}
	return ids
}

// chain orders providers for one request: the preferred provider first,
// then the remaining configured entries in order.
func (r *Router) chain(opts Options) ([]Entry, error) {
	if opts.Provider == "" {
		return r.entries, nil
	}
	first, ok := r.byID[opts.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, opts.Provider)
	}

	out := make([]Entry, 0, len(r.entries))
	out = append(out, r.entries[first])
	for i, e := range r.entries {
		if i != first {
			out = append(out, e)
		}
	}
	return out, nil
}

// adapterFor resolves credentials for one provider: per-request override
// first, process default second. A provider that requires a key and has
// neither is unavailable.
func (r *Router) adapterFor(ctx context.Context, e Entry, opts Options) (Adapter, error) {
	if key, ok := opts.Keys[e.ID]; ok && key != "" {
		return e.New(ctx, key)
	}
	adapter, ok := r.defaults[e.ID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", e.ID, ErrNoCredentials)
	}
	return adapter, nil
}

// Generate runs the request through the fallback chain and returns the
// first complete result. When every provider fails, the returned error is
// an *ExhaustedError carrying per-provider reasons.
func (r *Router) Generate(ctx context.Context, req Request, opts Options) (*Result, error) {
	var result *Result
	err := r.route(ctx, opts, func(ctx context.Context, a Adapter) error {
		res, err := a.Generate(ctx, req)
		if err != nil {
			return err
		}
		res.Provider = a.Name()
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GenerateStream runs the request through the fallback chain and returns
// a committed stream. The router pulls the first fragment itself: failures
// before the first fragment still retry and fall back, while failures
// after it surface to the caller with no further fallback.
func (r *Router) GenerateStream(ctx context.Context, req Request, opts Options) (*CommittedStream, error) {
	var committed *CommittedStream
	err := r.route(ctx, opts, func(ctx context.Context, a Adapter) error {
		stream, err := a.GenerateStream(ctx, req)
		if err != nil {
			return err
		}

		first, err := stream.Recv()
		switch {
		case err == nil:
			committed = &CommittedStream{Provider: a.Name(), first: first, hasFirst: true, rest: stream}
		case errors.Is(err, io.EOF):
			// Backend finished with no fragments. Still a success.
			committed = &CommittedStream{Provider: a.Name(), eof: true, rest: stream}
		default:
			stream.Close()
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// route walks the fallback chain, applying the retry policy per provider.
func (r *Router) route(ctx context.Context, opts Options, attempt func(context.Context, Adapter) error) error {
	chain, err := r.chain(opts)
	if err != nil {
		return err
	}

	var (
		attempts     []Attempt
		totalRetries int
	)
	for _, e := range chain {
		adapter, err := r.adapterFor(ctx, e, opts)
		if err != nil {
			r.logger.Debug("provider unavailable", "provider", e.ID, "error", err)
			attempts = append(attempts, Attempt{Provider: e.ID, Err: err})
			continue
		}

		err = r.tryProvider(ctx, adapter, attempt, &totalRetries)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		r.logger.Warn("provider failed, falling back", "provider", e.ID, "error", err)
		attempts = append(attempts, Attempt{Provider: e.ID, Err: err})
	}
	return &ExhaustedError{Attempts: attempts}
}

// tryProvider executes attempt against one adapter with bounded retries on
// transient errors. Fatal errors return immediately.
func (r *Router) tryProvider(ctx context.Context, a Adapter, attempt func(context.Context, Adapter) error, totalRetries *int) error {
	var lastErr error
	delay := r.retry.InitialInterval
	start := time.Now()

	for try := 0; try <= r.retry.MaxRetries; try++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limit wait: %w", err)
			}
		}

		err := attempt(ctx, a)
		if err == nil {
			r.logger.Debug("provider succeeded",
				"provider", a.Name(),
				"attempts", try+1,
				"elapsed", time.Since(start),
			)
			return nil
		}

		lastErr = err
		if !IsTransient(err) {
			return err
		}
		if try == r.retry.MaxRetries || *totalRetries >= r.retry.MaxTotalRetries {
			break
		}
		*totalRetries++

		r.logger.Debug("retrying after transient error",
			"provider", a.Name(),
			"attempt", try+1,
			"delay", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(jitter(delay)):
			delay = min(delay*2, r.retry.MaxInterval)
		}
	}
	return fmt.Errorf("after retries (elapsed: %v): %w", time.Since(start), lastErr)
}

// jitter spreads a backoff delay over [d/2, d] so parallel requests do not
// retry in lockstep.
func jitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + rand.N(half)
}
