package ring

import "fmt"

// Range is the half-open interval (Left, Right] on the ring.
// A range whose bounds are equal covers the whole ring.
type Range struct {
	Left  Token `json:"left"`
	Right Token `json:"right"`
}

// Contains reports whether t falls inside the range, honoring wraparound.
func (r Range) Contains(t Token) bool {
	switch {
	case r.Left == r.Right:
		return true
	case r.Left < r.Right:
		return t > r.Left && t <= r.Right
	default:
		return t > r.Left || t <= r.Right
	}
}

// Wraps reports whether the range crosses the maximum token.
func (r Range) Wraps() bool {
	return r.Left >= r.Right
}

func (r Range) String() string {
	return fmt.Sprintf("(%d,%d]", uint64(r.Left), uint64(r.Right))
}

// AllRanges splits the ring at the given tokens. The result is sorted by left
// bound, and its last element wraps from the largest token back to the smallest.
// Duplicate tokens are ignored.
func AllRanges(tokens []Token) []Range {
	if len(tokens) == 0 {
		return nil
	}

	sorted := make([]Token, len(tokens))
	copy(sorted, tokens)
	SortTokens(sorted)

	uniq := sorted[:1]
	for _, t := range sorted[1:] {
		if t != uniq[len(uniq)-1] {
			uniq = append(uniq, t)
		}
	}

	ranges := make([]Range, 0, len(uniq))
	for i := 1; i < len(uniq); i++ {
		ranges = append(ranges, Range{Left: uniq[i-1], Right: uniq[i]})
	}
	ranges = append(ranges, Range{Left: uniq[len(uniq)-1], Right: uniq[0]})
	return ranges
}
