package idgen

import (
	"errors"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

// Layout of a 64-bit ID, most significant first:
// 1 unused sign bit, 41 bits of milliseconds since Epoch,
// 10 bits of node ID, 12 bits of per-millisecond sequence.
const (
	nodeBits     = 10
	sequenceBits = 12

	maxNodeID   = -1 ^ (-1 << nodeBits)
	maxSequence = -1 ^ (-1 << sequenceBits)

	nodeShift      = sequenceBits
	timestampShift = sequenceBits + nodeBits

	// Epoch is 2024-01-01 00:00:00 UTC in milliseconds.
	Epoch = 1704067200000

	// maxBackwardDrift is how far the clock may step back before Next fails.
	maxBackwardDrift = 5 * time.Millisecond
)

var (
	ErrNodeIDTooLarge = errors.New("node ID too large")
	ErrClockMovedBack = errors.New("clock moved backwards")
)

// Generator produces unique, time-ordered 64-bit IDs.
type Generator interface {
	Next() (int64, error)
}

// Snowflake generates unique 64-bit IDs ordered by creation time.
type Snowflake struct {
	mu       sync.Mutex
	clock    Clock
	nodeID   int64
	lastTime int64
	sequence int64
}

var _ Generator = (*Snowflake)(nil)

// New creates a Snowflake for nodeID. A nil clock uses the system clock.
func New(nodeID int64, clock Clock) (*Snowflake, error) {
	if nodeID < 0 || nodeID > int64(maxNodeID) {
		return nil, ErrNodeIDTooLarge
	}

	if clock == nil {
		clock = &SystemClock{}
	}

	return &Snowflake{
		clock:    clock,
		nodeID:   nodeID,
		lastTime: -1,
	}, nil
}

// NodeIDFromHost derives a stable node ID from a host name.
func NodeIDFromHost(host string) int64 {
	return int64(murmur3.Sum32([]byte(host)) & maxNodeID)
}

// Next returns the next ID. Small backward clock steps are absorbed by waiting.
func (s *Snowflake) Next() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if now < s.lastTime {
		if time.Duration(s.lastTime-now)*time.Millisecond > maxBackwardDrift {
			return 0, ErrClockMovedBack
		}
		for now < s.lastTime {
			time.Sleep(time.Millisecond)
			now = s.clock.Now()
		}
	}

	if now == s.lastTime {
		s.sequence = (s.sequence + 1) & int64(maxSequence)
		if s.sequence == 0 {
			for now <= s.lastTime {
				now = s.clock.Now()
			}
		}
	} else {
		s.sequence = 0
	}

	s.lastTime = now

	return ((now - Epoch) << timestampShift) | (s.nodeID << nodeShift) | s.sequence, nil
}

// Timestamp extracts the creation time of id.
func Timestamp(id int64) time.Time {
	return time.UnixMilli((id >> timestampShift) + Epoch)
}
