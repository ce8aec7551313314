package service

import (
	"sync"

	"github.com/anthanhphan/go-distributed-kv/pkg/gossip"
	"github.com/anthanhphan/go-distributed-kv/pkg/ring"
	"github.com/anthanhphan/gosdk/logger"
)

// membershipService turns gossip notifications into ring changes.
type membershipService struct {
	core *NodeDirectory

	mu          sync.Mutex
	unreachable map[string]struct{}
	// removed maps a host dropped by an operator to the generation it had
	// then. Its gossip is ignored until it restarts with a newer one.
	removed map[string]int64
}

func newMembershipService(core *NodeDirectory) *membershipService {
	return &membershipService{
		core:        core,
		unreachable: make(map[string]struct{}),
		removed:     make(map[string]int64),
	}
}

// OnChange handles one membership update. Updates about the local node are ignored.
func (s *membershipService) OnChange(ep ring.EndPoint, state gossip.EndPointState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.core
	if c.isLocal(ep) {
		return
	}
	if gen, ok := s.removed[ep.Host]; ok {
		if state.Generation <= gen {
			return
		}
		logger.Infow("Removed node restarted", "endpoint", ep.Host, "generation", state.Generation)
		delete(s.removed, ep.Host)
	}

	value, hasToken := state.Value(gossip.StateToken)
	if !hasToken {
		s.onHealthChange(ep, state.Alive)
		return
	}

	token, err := c.partitioner.TokenFromString(value)
	if err != nil {
		logger.Warnw("Ignoring unparsable token", "endpoint", ep.Host, "token", value, "error", err)
		return
	}
	_, bootstrapMode := state.Value(gossip.StateBootstrapMode)
	if state.Alive {
		delete(s.unreachable, ep.Host)
	} else {
		s.unreachable[ep.Host] = struct{}{}
	}

	current, known := c.ringMeta.Token(ep)
	switch {
	case !known:
		logger.Infow("Node joined",
			"endpoint", ep.Host,
			"token", value,
			"bootstrapping", bootstrapMode,
		)
		c.updateTokenMetadata(token, ep, bootstrapMode)
	case current == token:
		if c.ringMeta.IsBootstrapping(ep) && !bootstrapMode {
			logger.Infow("Node finished bootstrapping", "endpoint", ep.Host, "token", value)
			c.updateTokenMetadata(token, ep, false)
		}
		if state.Alive {
			c.hints.deliverHints(ep)
		}
	default:
		logger.Infow("Node moved",
			"endpoint", ep.Host,
			"from", c.partitioner.TokenToString(current),
			"to", value,
		)
		c.updateTokenMetadata(token, ep, bootstrapMode)
	}
}

func (s *membershipService) onHealthChange(ep ring.EndPoint, alive bool) {
	if !alive {
		if _, ok := s.unreachable[ep.Host]; !ok {
			logger.Infow("Node unreachable", "endpoint", ep.Host)
		}
		s.unreachable[ep.Host] = struct{}{}
		return
	}

	_, wasDown := s.unreachable[ep.Host]
	delete(s.unreachable, ep.Host)
	if wasDown && s.core.ringMeta.IsKnownEndPoint(ep) {
		logger.Infow("Node is back", "endpoint", ep.Host)
		s.core.hints.deliverHints(ep)
	}
}

// forget drops ep from the ring and ignores its gossip until its generation
// moves past generation.
func (s *membershipService) forget(ep ring.EndPoint, generation int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed[ep.Host] = generation
	delete(s.unreachable, ep.Host)
	s.core.ringMeta.Remove(ep)
}

// isUnreachable reports whether ep was last seen down.
func (s *membershipService) isUnreachable(ep ring.EndPoint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.unreachable[ep.Host]
	return ok
}
