package ring

import (
	"fmt"
	"sort"
	"sync"
)

const (
	StrategyRackUnaware = "rack_unaware"
	StrategyRackAware   = "rack_aware"
)

// Placement pairs the endpoint a write is sent to with the replica that should
// eventually hold it. Target differs from Intended when the write is hinted.
type Placement struct {
	Target   EndPoint
	Intended EndPoint
}

// IsHinted reports whether the write lands on a substitute.
func (p Placement) IsHinted() bool {
	return !p.Target.Equal(p.Intended)
}

// ReplicationStrategy computes replica placement from a ring view.
// Results are computed per call and reflect only the view passed in.
type ReplicationStrategy interface {
	Name() string
	ReplicationFactor() int

	// ReadEndpoints returns up to N distinct non-bootstrapping replicas of token.
	ReadEndpoints(token Token, view *Snapshot) []EndPoint
	// WriteEndpoints returns the read replicas plus joining endpoints that
	// will become replicas once they finish bootstrapping.
	WriteEndpoints(token Token, view *Snapshot) []EndPoint
	// PrimaryRange returns the range owned primarily by the holder of token.
	PrimaryRange(token Token, view *Snapshot) Range
	// HintedEndpoints maps every natural replica to itself when alive, or to a
	// live substitute otherwise. Dead replicas without a substitute are omitted.
	HintedEndpoints(token Token, natural []EndPoint, view *Snapshot, liveness Liveness) []Placement
	Predecessor(token Token, view *Snapshot) Token
	Successor(token Token, view *Snapshot) Token
	RangeMap(view *Snapshot) map[EndPoint][]Range
}

// StrategyParams carries construction inputs for strategies.
type StrategyParams struct {
	ReplicationFactor int
	Snitch            Snitch
}

// StrategyConstructor builds a strategy from params.
type StrategyConstructor func(StrategyParams) (ReplicationStrategy, error)

var (
	strategiesMu sync.RWMutex
	strategies   = map[string]StrategyConstructor{
		StrategyRackUnaware: NewRackUnawareStrategy,
		StrategyRackAware:   NewRackAwareStrategy,
	}
)

// RegisterStrategy adds a named strategy constructor.
func RegisterStrategy(name string, ctor StrategyConstructor) {
	strategiesMu.Lock()
	defer strategiesMu.Unlock()
	strategies[name] = ctor
}

// NewStrategy builds the strategy registered under name. An empty name selects rack_unaware.
func NewStrategy(name string, p StrategyParams) (ReplicationStrategy, error) {
	if name == "" {
		name = StrategyRackUnaware
	}
	strategiesMu.RLock()
	ctor, ok := strategies[name]
	strategiesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown replication strategy %q", name)
	}
	if p.ReplicationFactor <= 0 {
		return nil, fmt.Errorf("replication factor must be positive, got %d", p.ReplicationFactor)
	}
	if p.Snitch == nil {
		p.Snitch = SimpleSnitch{}
	}
	return ctor(p)
}

// baseStrategy implements the view arithmetic common to every policy.
type baseStrategy struct {
	rf     int
	snitch Snitch
}

func (b *baseStrategy) ReplicationFactor() int { return b.rf }

// Predecessor returns the largest token strictly before token, wrapping.
// An empty view returns token unchanged.
func (b *baseStrategy) Predecessor(token Token, view *Snapshot) Token {
	tokens := view.tokens
	if len(tokens) == 0 {
		return token
	}
	idx := searchTokens(tokens, token)
	return tokens[(idx-1+len(tokens))%len(tokens)]
}

// Successor returns the smallest token strictly after token, wrapping.
// An empty view returns token unchanged.
func (b *baseStrategy) Successor(token Token, view *Snapshot) Token {
	tokens := view.tokens
	if len(tokens) == 0 {
		return token
	}
	idx := sort.Search(len(tokens), func(i int) bool { return tokens[i] > token })
	return tokens[idx%len(tokens)]
}

func (b *baseStrategy) PrimaryRange(token Token, view *Snapshot) Range {
	return Range{Left: b.Predecessor(token, view), Right: token}
}

func (b *baseStrategy) HintedEndpoints(token Token, natural []EndPoint, view *Snapshot, liveness Liveness) []Placement {
	placements := make([]Placement, 0, len(natural))
	used := make([]EndPoint, 0, len(natural))
	for _, ep := range natural {
		if liveness.IsAlive(ep) {
			placements = append(placements, Placement{Target: ep, Intended: ep})
			used = append(used, ep)
		}
	}

	candidates := view.walk(token)
	for _, ep := range natural {
		if liveness.IsAlive(ep) {
			continue
		}
		for _, c := range candidates {
			if ContainsEndPoint(natural, c) || ContainsEndPoint(used, c) || !liveness.IsAlive(c) {
				continue
			}
			placements = append(placements, Placement{Target: c, Intended: ep})
			used = append(used, c)
			break
		}
	}
	return placements
}

func writeEndpoints(s ReplicationStrategy, token Token, view *Snapshot) []EndPoint {
	endpoints := s.ReadEndpoints(token, view)
	pending := view.BootstrappingEndPoints()
	if len(pending) == 0 {
		return endpoints
	}

	tokens := make([]Token, 0, len(pending))
	for t := range pending {
		tokens = append(tokens, t)
	}
	SortTokens(tokens)
	for _, t := range tokens {
		ep := pending[t]
		if ContainsEndPoint(endpoints, ep) {
			continue
		}
		if ContainsEndPoint(s.ReadEndpoints(token, view.With(t, ep, false)), ep) {
			endpoints = append(endpoints, ep)
		}
	}
	return endpoints
}

func rangeMap(s ReplicationStrategy, view *Snapshot) map[EndPoint][]Range {
	out := make(map[EndPoint][]Range)
	for _, r := range AllRanges(view.normalTokens) {
		for _, ep := range s.ReadEndpoints(r.Right, view) {
			out[ep] = append(out[ep], r)
		}
	}
	return out
}
