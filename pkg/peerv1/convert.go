package peerv1

import (
	"github.com/anthanhphan/go-distributed-kv/pkg/ring"
)

// EndPointFrom converts a ring endpoint to its wire form.
func EndPointFrom(ep ring.EndPoint) *EndPoint {
	out := EndPoint(ep)
	return &out
}

// RingEndPoint converts a wire endpoint back to a ring endpoint.
func (e *EndPoint) RingEndPoint() ring.EndPoint {
	return ring.EndPoint(*e)
}

// RangesFrom encodes ranges with token strings.
func RangesFrom(ranges []ring.Range) []TokenRange {
	out := make([]TokenRange, len(ranges))
	for i, r := range ranges {
		out[i] = TokenRange{Left: r.Left.String(), Right: r.Right.String()}
	}
	return out
}

// RingRanges decodes wire ranges.
func RingRanges(ranges []TokenRange) ([]ring.Range, error) {
	out := make([]ring.Range, len(ranges))
	for i, r := range ranges {
		left, err := ring.ParseToken(r.Left)
		if err != nil {
			return nil, err
		}
		right, err := ring.ParseToken(r.Right)
		if err != nil {
			return nil, err
		}
		out[i] = ring.Range{Left: left, Right: right}
	}
	return out, nil
}
