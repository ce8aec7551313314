package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hosts(eps []EndPoint) []string {
	out := make([]string, 0, len(eps))
	for _, e := range eps {
		out = append(out, e.Host)
	}
	return out
}

func buildView(entries map[Token]string) *Snapshot {
	view := EmptySnapshot()
	for tok, host := range entries {
		view = view.With(tok, ep(host), false)
	}
	return view
}

func mustStrategy(t *testing.T, name string, rf int, snitch Snitch) ReplicationStrategy {
	t.Helper()
	s, err := NewStrategy(name, StrategyParams{ReplicationFactor: rf, Snitch: snitch})
	require.NoError(t, err)
	return s
}

func TestNewStrategy_Registry(t *testing.T) {
	s, err := NewStrategy("", StrategyParams{ReplicationFactor: 1})
	require.NoError(t, err)
	assert.Equal(t, StrategyRackUnaware, s.Name())

	_, err = NewStrategy("does_not_exist", StrategyParams{ReplicationFactor: 1})
	assert.Error(t, err)

	_, err = NewStrategy(StrategyRackAware, StrategyParams{})
	assert.Error(t, err, "zero replication factor must be rejected")

	RegisterStrategy("custom", NewRackUnawareStrategy)
	s, err = NewStrategy("custom", StrategyParams{ReplicationFactor: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, s.ReplicationFactor())
}

func TestRackUnaware_ReadEndpoints(t *testing.T) {
	view := buildView(map[Token]string{10: "A", 20: "B", 30: "C"})

	s := mustStrategy(t, StrategyRackUnaware, 1, nil)
	assert.Equal(t, []string{"B"}, hosts(s.ReadEndpoints(15, view)))
	assert.Equal(t, []string{"A"}, hosts(s.ReadEndpoints(35, view)))

	s = mustStrategy(t, StrategyRackUnaware, 2, nil)
	assert.Equal(t, []string{"C", "A"}, hosts(s.ReadEndpoints(25, view)))

	s = mustStrategy(t, StrategyRackUnaware, 5, nil)
	assert.Equal(t, []string{"A", "B", "C"}, hosts(s.ReadEndpoints(5, view)), "fewer members than N returns all")
}

func TestRackUnaware_SkipsBootstrapping(t *testing.T) {
	view := buildView(map[Token]string{10: "A", 30: "C"}).With(20, ep("B"), true)
	s := mustStrategy(t, StrategyRackUnaware, 2, nil)

	assert.Equal(t, []string{"C", "A"}, hosts(s.ReadEndpoints(15, view)))
	assert.Equal(t, []string{"C", "A", "B"}, hosts(s.WriteEndpoints(15, view)))
	assert.Equal(t, []string{"C", "A"}, hosts(s.WriteEndpoints(25, view)), "B does not replicate token 25 once joined")
}

func TestRackAware_ReadEndpoints(t *testing.T) {
	snitch := NewPropertySnitch(map[string]Location{
		"A": {"dc1", "r1"},
		"B": {"dc1", "r1"},
		"C": {"dc1", "r2"},
		"D": {"dc2", "r1"},
		"E": {"dc1", "r1"},
	}, Location{})
	view := buildView(map[Token]string{10: "A", 20: "B", 30: "C", 40: "D", 50: "E"})

	s := mustStrategy(t, StrategyRackAware, 3, snitch)
	assert.Equal(t, []string{"A", "C", "D"}, hosts(s.ReadEndpoints(5, view)))

	s = mustStrategy(t, StrategyRackAware, 4, snitch)
	assert.Equal(t, []string{"A", "C", "D", "B"}, hosts(s.ReadEndpoints(5, view)))

	s = mustStrategy(t, StrategyRackAware, 2, snitch)
	assert.Equal(t, []string{"B", "C"}, hosts(s.ReadEndpoints(15, view)))
}

func TestPredecessorSuccessor(t *testing.T) {
	view := buildView(map[Token]string{10: "A", 20: "B", 30: "C"})
	s := mustStrategy(t, StrategyRackUnaware, 1, nil)

	assert.Equal(t, Token(30), s.Predecessor(10, view))
	assert.Equal(t, Token(10), s.Predecessor(20, view))
	assert.Equal(t, Token(20), s.Successor(10, view))
	assert.Equal(t, Token(10), s.Successor(30, view))
	assert.Equal(t, Token(20), s.Predecessor(25, view))
	assert.Equal(t, Token(30), s.Successor(25, view))

	assert.Equal(t, Range{30, 10}, s.PrimaryRange(10, view))
	assert.Equal(t, Range{10, 20}, s.PrimaryRange(20, view))

	assert.Equal(t, Token(7), s.Successor(7, EmptySnapshot()))
}

func TestRangeMap(t *testing.T) {
	view := buildView(map[Token]string{10: "A", 20: "B", 30: "C"})

	s := mustStrategy(t, StrategyRackUnaware, 1, nil)
	rm := s.RangeMap(view)
	assert.Equal(t, []Range{{30, 10}}, rm[ep("A")])
	assert.Equal(t, []Range{{10, 20}}, rm[ep("B")])
	assert.Equal(t, []Range{{20, 30}}, rm[ep("C")])

	s = mustStrategy(t, StrategyRackUnaware, 2, nil)
	rm = s.RangeMap(view)
	assert.ElementsMatch(t, []Range{{30, 10}, {20, 30}}, rm[ep("A")])
}

func TestHintedEndpoints(t *testing.T) {
	view := buildView(map[Token]string{10: "A", 20: "B", 30: "C", 40: "D"})
	s := mustStrategy(t, StrategyRackUnaware, 2, nil)
	natural := s.ReadEndpoints(15, view)
	require.Equal(t, []string{"B", "C"}, hosts(natural))

	allAlive := LivenessFunc(func(EndPoint) bool { return true })
	placements := s.HintedEndpoints(15, natural, view, allAlive)
	require.Len(t, placements, 2)
	for _, p := range placements {
		assert.False(t, p.IsHinted())
	}

	cDown := LivenessFunc(func(e EndPoint) bool { return e.Host != "C" })
	placements = s.HintedEndpoints(15, natural, view, cDown)
	require.Len(t, placements, 2)
	assert.Equal(t, Placement{Target: ep("B"), Intended: ep("B")}, placements[0])
	assert.Equal(t, Placement{Target: ep("D"), Intended: ep("C")}, placements[1])
	assert.True(t, placements[1].IsHinted())

	onlyB := LivenessFunc(func(e EndPoint) bool { return e.Host == "B" })
	placements = s.HintedEndpoints(15, natural, view, onlyB)
	assert.Equal(t, []Placement{{Target: ep("B"), Intended: ep("B")}}, placements)
}

func TestOwnershipChangesOnlyAdjacentRange(t *testing.T) {
	p := Murmur3Partitioner{}
	before := buildView(map[Token]string{1 << 60: "A", 1 << 61: "B", 1 << 62: "C", 1 << 63: "D"})
	after := before.With(3<<60, ep("E"), false)

	moved := Range{Left: 1 << 61, Right: 3 << 60}
	for i := 0; i < 2000; i++ {
		key := []byte{byte(i), byte(i >> 8), 'k'}
		tok := p.TokenFor(key)
		ob, _ := before.PrimaryFor(tok)
		oa, _ := after.PrimaryFor(tok)
		if moved.Contains(tok) {
			assert.Equal(t, "E", oa.Host)
		} else {
			assert.Equal(t, ob.Host, oa.Host)
		}
	}
}
