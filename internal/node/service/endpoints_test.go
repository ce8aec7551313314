package service

import (
	"testing"

	"github.com/anthanhphan/go-distributed-kv/internal/node/domain"
	"github.com/anthanhphan/go-distributed-kv/pkg/ring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrimaryOwner(t *testing.T) {
	h := newHarness(t, "a", 1)
	_, err := h.dir.PrimaryOwner([]byte("5"))
	assert.ErrorIs(t, err, ErrEmptyRing)

	h.startLocal(t, "10")
	h.join("b", 20)
	h.join("c", 30)
	// Pending owners never take primary ownership.
	h.dir.RingMetadata().Update(35, ep("d"), true)

	tests := []struct {
		key  string
		want string
	}{
		{key: "5", want: "a"},
		{key: "10", want: "a"},
		{key: "15", want: "b"},
		{key: "25", want: "c"},
		{key: "33", want: "a"},
		{key: "35", want: "a"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			owner, err := h.dir.PrimaryOwner([]byte(tt.key))
			require.NoError(t, err)
			assert.Equal(t, tt.want, owner.Host)
		})
	}
	assert.True(t, h.dir.isPrimary([]byte("5")))
	assert.False(t, h.dir.isPrimary([]byte("15")))
}

func TestReadEndpoints(t *testing.T) {
	h := newHarness(t, "a", 2)
	h.startLocal(t, "10")
	h.join("b", 20)
	h.join("c", 30)

	assert.Equal(t, []string{"b", "c"}, hosts(h.dir.ReadEndpoints([]byte("15"))))
	assert.Equal(t, []string{"a", "b"}, hosts(h.dir.ReadEndpoints([]byte("35"))))
}

func TestFindSuitableEndpoint(t *testing.T) {
	h := newHarness(t, "a", 3)
	h.startLocal(t, "10")
	h.join("b", 20)
	h.join("c", 30)
	h.join("d", 40)
	h.dir.snitch = ring.NewPropertySnitch(map[string]ring.Location{
		"a": {Datacenter: "dc1", Rack: "r1"},
		"b": {Datacenter: "dc2", Rack: "r1"},
		"c": {Datacenter: "dc1", Rack: "r2"},
		"d": {Datacenter: "dc1", Rack: "r1"},
	}, ring.Location{})

	got, err := h.dir.findSuitableEndpoint([]byte("5"))
	require.NoError(t, err)
	assert.Equal(t, "a", got.Host, "local replica wins")

	got, err = h.dir.findSuitableEndpoint([]byte("15"))
	require.NoError(t, err)
	assert.Equal(t, "c", got.Host, "first live replica in the local datacenter")

	h.gossip.setPeer(ep("c"), false, nil)
	got, err = h.dir.findSuitableEndpoint([]byte("15"))
	require.NoError(t, err)
	assert.Equal(t, "d", got.Host)

	h.gossip.setPeer(ep("d"), false, nil)
	got, err = h.dir.findSuitableEndpoint([]byte("15"))
	require.NoError(t, err)
	assert.Equal(t, "b", got.Host, "any live replica")

	h.gossip.setPeer(ep("b"), false, nil)
	_, err = h.dir.findSuitableEndpoint([]byte("15"))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGetSplits(t *testing.T) {
	h := newHarness(t, "a", 1)
	h.startLocal(t, "100")
	h.join("b", 50)
	for _, k := range []string{"60", "70", "80", "90", "55", "120"} {
		h.engine.put("default", k, domain.Column{Name: "v", Value: []byte(k), Timestamp: 1})
	}

	_, err := h.dir.GetSplits(1)
	assert.ErrorIs(t, err, ErrInvalidSplitCount)

	tests := []struct {
		name string
		n    int
		want []ring.Token
	}{
		{name: "SampledHalves", n: 2, want: []ring.Token{50, 70, 100}},
		{name: "SampledQuarters", n: 4, want: []ring.Token{50, 60, 70, 80, 100}},
		{name: "EvenWhenTooFewKeys", n: 8, want: []ring.Token{50, 56, 62, 68, 75, 81, 87, 93, 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.dir.GetSplits(tt.n)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetSplits_SingleNodeSplitsWholeRing(t *testing.T) {
	h := newHarness(t, "a", 1)
	h.startLocal(t, "100")

	got, err := h.dir.GetSplits(2)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, ring.Token(100), got[0])
	assert.Equal(t, ring.Token(100+(1<<63)-1), got[1])
	assert.Equal(t, ring.Token(100), got[2])
}
