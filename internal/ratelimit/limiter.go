// Package ratelimit bounds concurrent in-flight calls per provider and
// adapts the effective ceiling to provider backpressure signals.
//
// The limiter keeps adaptive state locally and tracks in-flight counts in a
// Counter, which is pluggable: the in-memory counter serves a single
// process, the SQLite and Redis counters share the count across processes.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/AreteDriver/AI-Orchestra/pkg/api"
)

// Counter is the shared in-flight counter backend. Incr must be atomic
// with respect to concurrent callers; stale counts older than ttl are
// discarded so a crashed process cannot pin slots forever.
type Counter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Decr(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// Config controls a Limiter.
type Config struct {
	// DefaultLimit is the per-provider concurrency ceiling used when no
	// per-provider override is set. Zero means 4.
	DefaultLimit int

	// Limits overrides the ceiling per provider.
	Limits map[string]int

	// RecoveryWindow is how long after the last throttle signal the
	// effective ceiling stays shrunk before recovering one slot.
	// Zero means 30s.
	RecoveryWindow time.Duration

	// PollInterval is the wait between attempts while blocked on a full
	// provider. Zero means 20ms.
	PollInterval time.Duration

	// PermitTTL is the staleness bound handed to the counter backend.
	// Zero means 5m.
	PermitTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 4
	}
	if c.RecoveryWindow <= 0 {
		c.RecoveryWindow = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 20 * time.Millisecond
	}
	if c.PermitTTL <= 0 {
		c.PermitTTL = 5 * time.Minute
	}
	return c
}

// providerState is the adaptive ceiling for one provider.
type providerState struct {
	limit        int // configured ceiling
	effective    int // current ceiling, shrunk by throttle signals
	lastThrottle time.Time
	lastRecover  time.Time
}

// Limiter implements api.RateLimiter over a Counter backend.
type Limiter struct {
	cfg     Config
	counter Counter

	mu        sync.Mutex
	providers map[string]*providerState
}

var _ api.RateLimiter = (*Limiter)(nil)

// New creates a Limiter over the given counter backend. A nil counter
// defaults to the in-memory one.
func New(cfg Config, counter Counter) *Limiter {
	if counter == nil {
		counter = NewMemoryCounter()
	}
	return &Limiter{
		cfg:       cfg.withDefaults(),
		counter:   counter,
		providers: make(map[string]*providerState),
	}
}

func (l *Limiter) state(provider string) *providerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.providers[provider]
	if !ok {
		limit := l.cfg.DefaultLimit
		if v, set := l.cfg.Limits[provider]; set && v > 0 {
			limit = v
		}
		st = &providerState{limit: limit, effective: limit}
		l.providers[provider] = st
	}
	return st
}

// ceiling returns the current effective limit, applying gradual recovery:
// one slot per elapsed recovery window without a throttle signal, never
// above the configured limit.
func (l *Limiter) ceiling(provider string) int {
	st := l.state(provider)
	l.mu.Lock()
	defer l.mu.Unlock()
	if st.effective < st.limit {
		since := time.Since(st.lastThrottle)
		if !st.lastRecover.IsZero() && st.lastRecover.After(st.lastThrottle) {
			since = time.Since(st.lastRecover)
		}
		if since >= l.cfg.RecoveryWindow {
			st.effective++
			st.lastRecover = time.Now()
		}
	}
	return st.effective
}

// permit is the held slot returned by Acquire.
type permit struct {
	limiter *Limiter
	key     string
	once    sync.Once
}

func (p *permit) Release() {
	p.once.Do(func() {
		// Release must not fail the caller; a lost decrement ages out
		// via the counter TTL.
		_ = p.limiter.counter.Decr(context.Background(), p.key)
	})
}

// Acquire blocks until an in-flight slot for provider is available or ctx
// is done. Providers with an empty name are unlimited.
func (l *Limiter) Acquire(ctx context.Context, provider string) (api.Permit, error) {
	if provider == "" {
		return noopPermit{}, nil
	}
	key := "inflight:" + provider

	for {
		n, err := l.counter.Incr(ctx, key, l.cfg.PermitTTL)
		if err != nil {
			return nil, err
		}
		if int(n) <= l.ceiling(provider) {
			return &permit{limiter: l, key: key}, nil
		}
		// Over the ceiling: give the slot back and wait.
		if err := l.counter.Decr(ctx, key); err != nil {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.cfg.PollInterval):
		}
	}
}

// ReportThrottled records a provider-side rate-limit signal, halving the
// effective ceiling (floor 1). The ceiling cannot grow again until a full
// recovery window passes without further signals.
func (l *Limiter) ReportThrottled(provider string) {
	if provider == "" {
		return
	}
	st := l.state(provider)
	l.mu.Lock()
	defer l.mu.Unlock()
	st.lastThrottle = time.Now()
	if st.effective > 1 {
		st.effective /= 2
		if st.effective < 1 {
			st.effective = 1
		}
	}
}

// Effective exposes the current effective ceiling, for tests and metrics.
func (l *Limiter) Effective(provider string) int {
	st := l.state(provider)
	l.mu.Lock()
	defer l.mu.Unlock()
	return st.effective
}

type noopPermit struct{}

func (noopPermit) Release() {}
