package ring

// RackAwareStrategy spreads replicas across locality groups: the primary, then
// the first endpoint in another datacenter, then the first endpoint in the
// primary's datacenter on another rack, then ring order for the rest.
type RackAwareStrategy struct {
	baseStrategy
}

// NewRackAwareStrategy builds a RackAwareStrategy.
func NewRackAwareStrategy(p StrategyParams) (ReplicationStrategy, error) {
	return &RackAwareStrategy{baseStrategy{rf: p.ReplicationFactor, snitch: p.Snitch}}, nil
}

func (s *RackAwareStrategy) Name() string { return StrategyRackAware }

func (s *RackAwareStrategy) ReadEndpoints(token Token, view *Snapshot) []EndPoint {
	candidates := view.walk(token)
	if len(candidates) == 0 {
		return nil
	}

	primary := candidates[0]
	out := make([]EndPoint, 0, s.rf)
	out = append(out, primary)

	foundOtherDC, foundOtherRack := false, false
	for _, ep := range candidates[1:] {
		if len(out) >= s.rf {
			break
		}
		sameDC := InSameDatacenter(s.snitch, primary, ep)
		switch {
		case !sameDC && !foundOtherDC:
			out = append(out, ep)
			foundOtherDC = true
		case sameDC && !foundOtherRack && s.snitch.Rack(primary) != s.snitch.Rack(ep):
			out = append(out, ep)
			foundOtherRack = true
		}
	}

	for _, ep := range candidates[1:] {
		if len(out) >= s.rf {
			break
		}
		if !ContainsEndPoint(out, ep) {
			out = append(out, ep)
		}
	}
	return out
}

func (s *RackAwareStrategy) WriteEndpoints(token Token, view *Snapshot) []EndPoint {
	return writeEndpoints(s, token, view)
}

func (s *RackAwareStrategy) RangeMap(view *Snapshot) map[EndPoint][]Range {
	return rangeMap(s, view)
}
