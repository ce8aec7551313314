package resilience

import (
	"context"
	"sync"
)

// BreakerSet keeps one circuit breaker per peer address.
type BreakerSet struct {
	mu       sync.Mutex
	template CircuitBreakerConfig
	breakers map[string]*CircuitBreaker
}

// NewBreakerSet creates a set whose breakers share template, named by address.
func NewBreakerSet(template CircuitBreakerConfig) *BreakerSet {
	return &BreakerSet{
		template: template,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for addr, creating it on first use.
func (s *BreakerSet) Get(addr string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.breakers[addr]; ok {
		return cb
	}
	cfg := s.template
	cfg.Name = addr
	cb := NewCircuitBreaker(cfg)
	s.breakers[addr] = cb
	return cb
}

// Execute runs fn through the breaker for addr.
func (s *BreakerSet) Execute(ctx context.Context, addr string, fn func(context.Context) error) error {
	return s.Get(addr).Execute(ctx, fn)
}

// States reports the state of every known breaker, keyed by address.
func (s *BreakerSet) States() map[string]CircuitBreakerState {
	out := make(map[string]CircuitBreakerState)
	for addr, st := range s.Stats() {
		out[addr] = st.State
	}
	return out
}

// Stats reports the counters of every known breaker, keyed by address.
func (s *BreakerSet) Stats() map[string]BreakerStats {
	s.mu.Lock()
	breakers := make(map[string]*CircuitBreaker, len(s.breakers))
	for addr, cb := range s.breakers {
		breakers[addr] = cb
	}
	s.mu.Unlock()

	out := make(map[string]BreakerStats, len(breakers))
	for addr, cb := range breakers {
		out[addr] = cb.Stats()
	}
	return out
}

// Forget drops the breaker for addr, e.g. after the peer leaves the ring.
func (s *BreakerSet) Forget(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.breakers, addr)
}
