package ring

import (
	"sync"
	"sync/atomic"
)

// Snapshot is an immutable view of the token to endpoint mapping.
// It is safe to share between goroutines and is never modified after creation.
type Snapshot struct {
	owners        map[Token]EndPoint
	tokenOf       map[string]Token
	bootstrapping map[string]struct{}

	tokens       []Token // all tokens, sorted
	normalTokens []Token // tokens of non-bootstrapping endpoints, sorted
}

// EmptySnapshot returns a view with no members.
func EmptySnapshot() *Snapshot {
	return newSnapshot(map[Token]EndPoint{}, map[string]Token{}, map[string]struct{}{})
}

func newSnapshot(owners map[Token]EndPoint, tokenOf map[string]Token, bootstrapping map[string]struct{}) *Snapshot {
	s := &Snapshot{
		owners:        owners,
		tokenOf:       tokenOf,
		bootstrapping: bootstrapping,
		tokens:        make([]Token, 0, len(owners)),
		normalTokens:  make([]Token, 0, len(owners)),
	}
	for t, ep := range owners {
		s.tokens = append(s.tokens, t)
		if _, ok := bootstrapping[ep.Host]; !ok {
			s.normalTokens = append(s.normalTokens, t)
		}
	}
	SortTokens(s.tokens)
	SortTokens(s.normalTokens)
	return s
}

func (s *Snapshot) cloneMaps() (map[Token]EndPoint, map[string]Token, map[string]struct{}) {
	owners := make(map[Token]EndPoint, len(s.owners)+1)
	for t, ep := range s.owners {
		owners[t] = ep
	}
	tokenOf := make(map[string]Token, len(s.tokenOf)+1)
	for h, t := range s.tokenOf {
		tokenOf[h] = t
	}
	bootstrapping := make(map[string]struct{}, len(s.bootstrapping))
	for h := range s.bootstrapping {
		bootstrapping[h] = struct{}{}
	}
	return owners, tokenOf, bootstrapping
}

// With returns a derived view in which ep owns token.
func (s *Snapshot) With(token Token, ep EndPoint, isBootstrapping bool) *Snapshot {
	owners, tokenOf, bootstrapping := s.cloneMaps()
	assign(owners, tokenOf, bootstrapping, token, ep, isBootstrapping)
	return newSnapshot(owners, tokenOf, bootstrapping)
}

// Without returns a derived view with ep removed.
func (s *Snapshot) Without(ep EndPoint) *Snapshot {
	owners, tokenOf, bootstrapping := s.cloneMaps()
	unassign(owners, tokenOf, bootstrapping, ep)
	return newSnapshot(owners, tokenOf, bootstrapping)
}

func assign(owners map[Token]EndPoint, tokenOf map[string]Token, bootstrapping map[string]struct{}, token Token, ep EndPoint, isBootstrapping bool) {
	if old, ok := tokenOf[ep.Host]; ok && old != token {
		delete(owners, old)
	}
	if prev, ok := owners[token]; ok && !prev.Equal(ep) {
		delete(tokenOf, prev.Host)
		delete(bootstrapping, prev.Host)
	}
	owners[token] = ep
	tokenOf[ep.Host] = token
	if isBootstrapping {
		bootstrapping[ep.Host] = struct{}{}
	} else {
		delete(bootstrapping, ep.Host)
	}
}

func unassign(owners map[Token]EndPoint, tokenOf map[string]Token, bootstrapping map[string]struct{}, ep EndPoint) {
	if t, ok := tokenOf[ep.Host]; ok {
		delete(owners, t)
	}
	delete(tokenOf, ep.Host)
	delete(bootstrapping, ep.Host)
}

// Len returns the number of tokens in the view.
func (s *Snapshot) Len() int {
	return len(s.tokens)
}

// SortedTokens returns every token in ascending order.
func (s *Snapshot) SortedTokens() []Token {
	out := make([]Token, len(s.tokens))
	copy(out, s.tokens)
	return out
}

// NormalTokens returns the tokens of non-bootstrapping endpoints in ascending order.
func (s *Snapshot) NormalTokens() []Token {
	out := make([]Token, len(s.normalTokens))
	copy(out, s.normalTokens)
	return out
}

// Owner returns the endpoint holding token.
func (s *Snapshot) Owner(token Token) (EndPoint, bool) {
	ep, ok := s.owners[token]
	return ep, ok
}

// TokenOf returns the token held by ep.
func (s *Snapshot) TokenOf(ep EndPoint) (Token, bool) {
	t, ok := s.tokenOf[ep.Host]
	return t, ok
}

// IsBootstrapping reports whether ep is still joining.
func (s *Snapshot) IsBootstrapping(ep EndPoint) bool {
	_, ok := s.bootstrapping[ep.Host]
	return ok
}

// BootstrappingEndPoints returns joining endpoints with their tokens.
func (s *Snapshot) BootstrappingEndPoints() map[Token]EndPoint {
	out := make(map[Token]EndPoint, len(s.bootstrapping))
	for host := range s.bootstrapping {
		t := s.tokenOf[host]
		out[t] = s.owners[t]
	}
	return out
}

// EndPoints returns every endpoint in token order.
func (s *Snapshot) EndPoints() []EndPoint {
	out := make([]EndPoint, 0, len(s.tokens))
	for _, t := range s.tokens {
		out = append(out, s.owners[t])
	}
	return out
}

// TokenEndpointMap returns an independent copy of the mapping.
func (s *Snapshot) TokenEndpointMap() map[Token]EndPoint {
	out := make(map[Token]EndPoint, len(s.owners))
	for t, ep := range s.owners {
		out[t] = ep
	}
	return out
}

// PrimaryFor returns the non-bootstrapping endpoint whose token is the first
// one at or after token, wrapping to the smallest token past the end.
func (s *Snapshot) PrimaryFor(token Token) (EndPoint, bool) {
	if len(s.normalTokens) == 0 {
		return EndPoint{}, false
	}
	idx := searchTokens(s.normalTokens, token)
	if idx == len(s.normalTokens) {
		idx = 0
	}
	return s.owners[s.normalTokens[idx]], true
}

// walk returns distinct non-bootstrapping endpoints in ring order starting
// from the primary owner of token.
func (s *Snapshot) walk(token Token) []EndPoint {
	n := len(s.normalTokens)
	if n == 0 {
		return nil
	}
	start := searchTokens(s.normalTokens, token)
	out := make([]EndPoint, 0, n)
	for i := 0; i < n; i++ {
		ep := s.owners[s.normalTokens[(start+i)%n]]
		if !ContainsEndPoint(out, ep) {
			out = append(out, ep)
		}
	}
	return out
}

// RingMetadata is the authoritative token to endpoint mapping. Writers are
// serialized; readers take immutable snapshots and never block writers.
type RingMetadata struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

// NewRingMetadata creates an empty mapping.
func NewRingMetadata() *RingMetadata {
	m := &RingMetadata{}
	m.current.Store(EmptySnapshot())
	return m
}

// Update registers or relocates ep at token. The previous token of ep and any
// previous owner of token lose their association.
func (m *RingMetadata) Update(token Token, ep EndPoint, isBootstrapping bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.Store(m.current.Load().With(token, ep, isBootstrapping))
}

// Remove drops ep from the mapping.
func (m *RingMetadata) Remove(ep EndPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.Store(m.current.Load().Without(ep))
}

// Snapshot returns the current immutable view.
func (m *RingMetadata) Snapshot() *Snapshot {
	return m.current.Load()
}

// CloneTokenEndpointMap returns an independent copy of the current mapping.
func (m *RingMetadata) CloneTokenEndpointMap() map[Token]EndPoint {
	return m.current.Load().TokenEndpointMap()
}

// Token returns the token currently held by ep.
func (m *RingMetadata) Token(ep EndPoint) (Token, bool) {
	return m.current.Load().TokenOf(ep)
}

// EndPoint returns the endpoint currently holding token.
func (m *RingMetadata) EndPoint(token Token) (EndPoint, bool) {
	return m.current.Load().Owner(token)
}

// IsKnownEndPoint reports whether ep holds a token.
func (m *RingMetadata) IsKnownEndPoint(ep EndPoint) bool {
	_, ok := m.current.Load().TokenOf(ep)
	return ok
}

// IsBootstrapping reports whether ep is registered as joining.
func (m *RingMetadata) IsBootstrapping(ep EndPoint) bool {
	return m.current.Load().IsBootstrapping(ep)
}
