package service

import (
	"math"
	"math/bits"
	"sort"

	"github.com/anthanhphan/go-distributed-kv/pkg/ring"
)

// primaryOwner maps key to its token and returns the normal endpoint owning it.
func (d *NodeDirectory) primaryOwner(key []byte) (ring.EndPoint, error) {
	ep, ok := d.ringMeta.Snapshot().PrimaryFor(d.partitioner.TokenFor(key))
	if !ok {
		return ring.EndPoint{}, ErrEmptyRing
	}
	return ep, nil
}

// isPrimary reports whether the local node is the primary owner of key.
func (d *NodeDirectory) isPrimary(key []byte) bool {
	ep, err := d.primaryOwner(key)
	return err == nil && d.isLocal(ep)
}

func (d *NodeDirectory) readEndpoints(key []byte) []ring.EndPoint {
	return d.strategy.ReadEndpoints(d.partitioner.TokenFor(key), d.ringMeta.Snapshot())
}

func (d *NodeDirectory) writeEndpoints(key []byte) []ring.EndPoint {
	return d.strategy.WriteEndpoints(d.partitioner.TokenFor(key), d.ringMeta.Snapshot())
}

// liveReadEndpoints keeps the replicas of key that are alive.
func (d *NodeDirectory) liveReadEndpoints(key []byte) []ring.EndPoint {
	all := d.readEndpoints(key)
	live := make([]ring.EndPoint, 0, len(all))
	alive := d.liveness()
	for _, ep := range all {
		if alive.IsAlive(ep) {
			live = append(live, ep)
		}
	}
	return live
}

// findSuitableEndpoint prefers the local node, then a live replica in the
// local datacenter, then any live replica.
func (d *NodeDirectory) findSuitableEndpoint(key []byte) (ring.EndPoint, error) {
	replicas := d.readEndpoints(key)
	local := d.localEndPoint()
	for _, ep := range replicas {
		if ep.Equal(local) {
			return ep, nil
		}
	}
	for _, ep := range replicas {
		if d.gossiper.IsAlive(ep) && ring.InSameDatacenter(d.snitch, local, ep) {
			return ep, nil
		}
	}
	for _, ep := range replicas {
		if d.gossiper.IsAlive(ep) {
			return ep, nil
		}
	}
	return ring.EndPoint{}, ErrUnavailable
}

// getSplits returns n+1 boundaries dividing the local primary range into n
// pieces. Boundaries follow the tokens of stored keys when there are enough
// of them, and split the range evenly otherwise.
func (d *NodeDirectory) getSplits(n int) ([]ring.Token, error) {
	if n < 2 {
		return nil, ErrInvalidSplitCount
	}

	view := d.ringMeta.Snapshot()
	primary := d.strategy.PrimaryRange(d.Token(), view)
	distance := func(t ring.Token) uint64 { return uint64(t - primary.Left) }

	var tokens []ring.Token
	for _, key := range d.engine.IndexedKeys() {
		t := d.partitioner.TokenFor([]byte(key))
		if t != primary.Left && primary.Contains(t) {
			tokens = append(tokens, t)
		}
	}
	sort.Slice(tokens, func(i, j int) bool { return distance(tokens[i]) < distance(tokens[j]) })

	splits := make([]ring.Token, 0, n+1)
	splits = append(splits, primary.Left)
	if len(tokens) >= n {
		stride := len(tokens) / n
		for i := 1; i < n; i++ {
			splits = append(splits, tokens[i*stride])
		}
	} else {
		width := uint64(primary.Right - primary.Left)
		if width == 0 {
			width = math.MaxUint64
		}
		for i := 1; i < n; i++ {
			hi, lo := bits.Mul64(width, uint64(i))
			q, _ := bits.Div64(hi, lo, uint64(n))
			splits = append(splits, primary.Left+ring.Token(q))
		}
	}
	splits = append(splits, primary.Right)
	return splits, nil
}
