// Package ratelimit gates outbound model calls against multi-scope quotas
// and reconciles estimated-vs-actual token consumption after the fact.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/logqs/atlas2/internal/observability"
)

// ErrRateLimitTimeout is returned by CheckAndReserve when no scope would
// admit the request before the deadline.
type ErrRateLimitTimeout struct {
	Provider, Model string
}

func (e *ErrRateLimitTimeout) Error() string {
	return fmt.Sprintf("rate limit timeout for provider=%s model=%s", e.Provider, e.Model)
}

// scopeKey identifies one of the three hierarchical scopes.
type scopeKey struct {
	provider, model string
}

func (k scopeKey) String() string {
	if k.provider == "" {
		return "global"
	}
	if k.model == "" {
		return "provider:" + k.provider
	}
	return "provider:" + k.provider + ":model:" + k.model
}

// Limiter is the process-global rate limiter. Internal state is one
// WindowBackend shared across scopes plus one burst *rate.Limiter per scope;
// the config and burst maps are guarded by mu, which is never held across a
// reservation's potential sleep (spec §5 "Shared resources").
type Limiter struct {
	backend WindowBackend
	clock   func() time.Time

	mu      sync.RWMutex
	configs map[string]Config // scopeKey.String() -> resolved config
	burst   map[string]*rate.Limiter

	timeout time.Duration
	metrics *observability.Metrics
}

// Option configures a Limiter at construction time.
type Option func(*Limiter)

// WithBackend overrides the default in-memory WindowBackend.
func WithBackend(b WindowBackend) Option {
	return func(l *Limiter) { l.backend = b }
}

// WithTimeout bounds how long CheckAndReserve will sleep waiting for a
// window to admit before giving up.
func WithTimeout(d time.Duration) Option {
	return func(l *Limiter) { l.timeout = d }
}

// WithMetrics records rate-limit waits and denials against m. Omit to run
// without instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// New builds a Limiter with the given global configuration and any number of
// per-provider/per-model overrides registered via SetScopeConfig.
func New(global Config, opts ...Option) *Limiter {
	l := &Limiter{
		backend: NewMemoryWindowBackend(),
		clock:   time.Now,
		configs: map[string]Config{"global": global},
		burst:   make(map[string]*rate.Limiter),
		timeout: 30 * time.Second,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// SetScopeConfig registers the configuration for a (provider, model) scope.
// Pass model="" for a provider-wide scope.
func (l *Limiter) SetScopeConfig(provider, model string, cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.configs[scopeKey{provider, model}.String()] = cfg
}

// resolvedChain returns the ordered, most-specific-first scopes to check:
// [(provider,model), (provider,), ()].
func (l *Limiter) resolvedChain(provider, model string) []scopeKey {
	chain := []scopeKey{}
	if provider != "" && model != "" {
		chain = append(chain, scopeKey{provider, model})
	}
	if provider != "" {
		chain = append(chain, scopeKey{provider, ""})
	}
	chain = append(chain, scopeKey{"", ""})
	return chain
}

func (l *Limiter) configFor(key scopeKey) (Config, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.configs[key.String()]
	return c, ok
}

type windowSpec struct {
	name   string
	dur    time.Duration
	limitReq, limitTok *int64
}

func (l *Limiter) windowsFor(cfg Config) []windowSpec {
	return []windowSpec{
		{"minute", time.Minute, cfg.RequestsPerMinute, cfg.TokensPerMinute},
		{"hour", time.Hour, cfg.RequestsPerHour, cfg.TokensPerHour},
		{"day", 24 * time.Hour, cfg.RequestsPerDay, cfg.TokensPerDay},
	}
}

func (l *Limiter) burstLimiter(key scopeKey, cfg Config) *rate.Limiter {
	if cfg.BurstSize == nil {
		return nil
	}
	name := key.String()
	l.mu.Lock()
	defer l.mu.Unlock()
	if bl, ok := l.burst[name]; ok {
		return bl
	}
	perMinute := float64(*cfg.BurstSize)
	if cfg.RequestsPerMinute != nil && *cfg.RequestsPerMinute > 0 {
		perMinute = float64(*cfg.RequestsPerMinute)
	}
	bl := rate.NewLimiter(rate.Limit(perMinute/60.0), int(*cfg.BurstSize))
	l.burst[name] = bl
	return bl
}

// CheckAndReserve resolves the scope chain for (provider, model), checks all
// six fixed windows plus the burst bucket for each active scope, and
// provisionally charges estimatedTokens. Each window's counter starts again
// from zero when the window expires; the windows do not slide. It blocks (sleeping, never holding
// a lock) until every active limit admits the request or the configured
// timeout elapses.
func (l *Limiter) CheckAndReserve(ctx context.Context, provider, model string, estimatedTokens int64) error {
	deadline := l.clock().Add(l.timeout)
	chain := l.resolvedChain(provider, model)

	for {
		waitFor, err := l.tryReserve(ctx, chain, estimatedTokens)
		if err != nil {
			return err
		}
		if waitFor <= 0 {
			return nil
		}
		if l.clock().Add(waitFor).After(deadline) {
			if l.metrics != nil {
				l.metrics.RateLimitDenied.Add(ctx, 1)
			}
			return &ErrRateLimitTimeout{Provider: provider, Model: model}
		}
		if l.metrics != nil {
			l.metrics.RateLimitWaits.Add(ctx, 1)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitFor):
		}
	}
}

type commitOp struct {
	key    string
	amount int64
	window time.Duration
}

// tryReserve makes one attempt across all active scopes. If every scope
// admits, it commits the consumption and returns (0, nil). If any scope
// would deny, nothing is committed and the soonest retry delay is returned.
func (l *Limiter) tryReserve(ctx context.Context, chain []scopeKey, estimatedTokens int64) (time.Duration, error) {
	var maxWait time.Duration
	var commits []commitOp

	for _, sk := range chain {
		cfg, ok := l.configFor(sk)
		if !ok {
			continue
		}
		if bl := l.burstLimiter(sk, cfg); bl != nil {
			if !bl.Allow() {
				l.rollback(ctx, commits)
				return time.Second, nil
			}
		}
		for _, w := range l.windowsFor(cfg) {
			if w.limitReq != nil {
				key := sk.String() + ":requests:" + w.name
				ok, retry, err := l.backend.Consume(ctx, key, 1, *w.limitReq, w.dur)
				if err != nil {
					return 0, fmt.Errorf("check and reserve: %w", err)
				}
				if !ok {
					l.rollback(ctx, commits)
					if retry > maxWait {
						maxWait = retry
					}
					return maxWait, nil
				}
				commits = append(commits, commitOp{key, -1, w.dur}) // rollback closure if a later scope denies
			}
			if w.limitTok != nil {
				key := sk.String() + ":tokens:" + w.name
				ok, retry, err := l.backend.Consume(ctx, key, estimatedTokens, *w.limitTok, w.dur)
				if err != nil {
					return 0, fmt.Errorf("check and reserve: %w", err)
				}
				if !ok {
					l.rollback(ctx, commits)
					if retry > maxWait {
						maxWait = retry
					}
					return maxWait, nil
				}
				commits = append(commits, commitOp{key, -estimatedTokens, w.dur})
			}
		}
	}
	return 0, nil
}

func (l *Limiter) rollback(ctx context.Context, commits []commitOp) {
	for _, c := range commits {
		_ = l.backend.Adjust(ctx, c.key, c.amount, c.window)
	}
}

// FinalizeTokens adjusts consumption counters by (actual - estimated); a
// negative delta credits back unused reservation.
func (l *Limiter) FinalizeTokens(ctx context.Context, provider, model string, estimatedTokens, actualTokens int64) error {
	delta := actualTokens - estimatedTokens
	if delta == 0 {
		return nil
	}
	for _, sk := range l.resolvedChain(provider, model) {
		cfg, ok := l.configFor(sk)
		if !ok {
			continue
		}
		for _, w := range l.windowsFor(cfg) {
			if w.limitTok != nil {
				key := sk.String() + ":tokens:" + w.name
				if err := l.backend.Adjust(ctx, key, delta, w.dur); err != nil {
					return fmt.Errorf("finalize tokens: %w", err)
				}
			}
		}
	}
	return nil
}

// ResetScope clears every window counter for a scope. Pass model="" to reset
// a whole provider, and provider="" to reset the global scope.
func (l *Limiter) ResetScope(ctx context.Context, provider, model string) error {
	sk := scopeKey{provider, model}
	cfg, ok := l.configFor(sk)
	if !ok {
		return nil
	}
	for _, w := range l.windowsFor(cfg) {
		if w.limitReq != nil {
			if err := l.backend.Reset(ctx, sk.String()+":requests:"+w.name); err != nil {
				return err
			}
		}
		if w.limitTok != nil {
			if err := l.backend.Reset(ctx, sk.String()+":tokens:"+w.name); err != nil {
				return err
			}
		}
	}
	return nil
}
