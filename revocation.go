package accounts

import (
	"sync"
	"time"
)

// RevocationRegistry records tokens that must no longer be honored even
// though they have not yet expired (logout). Entries become harmless once
// the token's own expiry passes, so removal is an optimization, never a
// correctness requirement.
type RevocationRegistry interface {
	Revoke(token string)
	IsRevoked(token string) bool
}

// ExpiryFunc reports the remaining lifetime of a token; zero means expired
// or unreadable. TokenCodec.RemainingTime satisfies this.
type ExpiryFunc func(token string) time.Duration

type revocationRegistry struct {
	mu      sync.RWMutex
	revoked map[string]struct{}
	logger  Logger

	expiryFn      ExpiryFunc
	pruneInterval time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
}

type RevocationOption func(*revocationRegistry)

// WithRevocationLogger overrides the registry logger.
func WithRevocationLogger(logger Logger) RevocationOption {
	return func(r *revocationRegistry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithPruneExpiry enables the background sweep that drops entries whose
// embedded expiry has passed, to bound memory. Both the expiry reader and a
// positive interval are required for the sweeper to start.
func WithPruneExpiry(fn ExpiryFunc, interval time.Duration) RevocationOption {
	return func(r *revocationRegistry) {
		r.expiryFn = fn
		r.pruneInterval = interval
	}
}

// NewRevocationRegistry returns a concurrency-safe in-memory registry. It is
// meant to be constructed once and injected wherever revocation checks
// happen; there is no package-level instance.
func NewRevocationRegistry(opts ...RevocationOption) *InMemoryRevocationRegistry {
	r := &revocationRegistry{
		revoked: make(map[string]struct{}),
		logger:  defLogger{},
		stop:    make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	if r.expiryFn != nil && r.pruneInterval > 0 {
		go r.sweep()
	}

	return &InMemoryRevocationRegistry{inner: r}
}

// InMemoryRevocationRegistry is the default RevocationRegistry backed by a
// mutex-guarded set.
type InMemoryRevocationRegistry struct {
	inner *revocationRegistry
}

var _ RevocationRegistry = (*InMemoryRevocationRegistry)(nil)

// Revoke adds the token to the registry. Revoking the same token twice is a
// no-op.
func (r *InMemoryRevocationRegistry) Revoke(token string) {
	if token == "" {
		return
	}

	r.inner.mu.Lock()
	r.inner.revoked[token] = struct{}{}
	r.inner.mu.Unlock()

	r.inner.logger.Debug("token revoked, registry size=%d", r.Len())
}

// IsRevoked checks membership.
func (r *InMemoryRevocationRegistry) IsRevoked(token string) bool {
	r.inner.mu.RLock()
	defer r.inner.mu.RUnlock()

	_, ok := r.inner.revoked[token]
	return ok
}

// Len returns the number of tracked tokens.
func (r *InMemoryRevocationRegistry) Len() int {
	r.inner.mu.RLock()
	defer r.inner.mu.RUnlock()

	return len(r.inner.revoked)
}

// Prune removes entries whose embedded expiry has passed. It is safe to call
// at any time, with or without the background sweeper.
func (r *InMemoryRevocationRegistry) Prune() int {
	if r.inner.expiryFn == nil {
		return 0
	}

	r.inner.mu.Lock()
	defer r.inner.mu.Unlock()

	removed := 0
	for token := range r.inner.revoked {
		if r.inner.expiryFn(token) <= 0 {
			delete(r.inner.revoked, token)
			removed++
		}
	}
	return removed
}

// Close stops the background sweeper, if one was started.
func (r *InMemoryRevocationRegistry) Close() {
	r.inner.stopOnce.Do(func() {
		close(r.inner.stop)
	})
}

func (r *revocationRegistry) sweep() {
	ticker := time.NewTicker(r.pruneInterval)
	defer ticker.Stop()

	reg := &InMemoryRevocationRegistry{inner: r}
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if removed := reg.Prune(); removed > 0 {
				r.logger.Debug("pruned %d expired revocation entries", removed)
			}
		}
	}
}
