package ring

// RackUnawareStrategy places replicas on the next N distinct endpoints
// clockwise from the primary owner.
type RackUnawareStrategy struct {
	baseStrategy
}

// NewRackUnawareStrategy builds a RackUnawareStrategy.
func NewRackUnawareStrategy(p StrategyParams) (ReplicationStrategy, error) {
	return &RackUnawareStrategy{baseStrategy{rf: p.ReplicationFactor, snitch: p.Snitch}}, nil
}

func (s *RackUnawareStrategy) Name() string { return StrategyRackUnaware }

func (s *RackUnawareStrategy) ReadEndpoints(token Token, view *Snapshot) []EndPoint {
	candidates := view.walk(token)
	if len(candidates) > s.rf {
		candidates = candidates[:s.rf]
	}
	return candidates
}

func (s *RackUnawareStrategy) WriteEndpoints(token Token, view *Snapshot) []EndPoint {
	return writeEndpoints(s, token, view)
}

func (s *RackUnawareStrategy) RangeMap(view *Snapshot) map[EndPoint][]Range {
	return rangeMap(s, view)
}
