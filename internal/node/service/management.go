package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/anthanhphan/go-distributed-kv/internal/node/port"
	"github.com/anthanhphan/go-distributed-kv/pkg/gossip"
	"github.com/anthanhphan/go-distributed-kv/pkg/ring"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/hashicorp/go-multierror"
)

// managementService implements the administrative operations.
type managementService struct {
	core *NodeDirectory
}

func newManagementService(core *NodeDirectory) *managementService {
	return &managementService{core: core}
}

// loadMap returns the gossiped disk load of every live node, keyed by host.
func (s *managementService) loadMap() map[string]string {
	c := s.core
	out := make(map[string]string)
	for _, ep := range c.gossiper.LiveMembers() {
		if c.isLocal(ep) {
			out[ep.Host] = strconv.FormatInt(c.engine.Load(), 10)
			continue
		}
		if v, ok := c.gossiper.ApplicationStateValue(ep, gossip.StateLoad); ok {
			out[ep.Host] = v
		}
	}
	return out
}

// rangeToEndPointMap lists the replicas of every range between normal tokens.
func (s *managementService) rangeToEndPointMap() map[string][]ring.EndPoint {
	c := s.core
	view := c.ringMeta.Snapshot()
	out := make(map[string][]ring.EndPoint)
	for _, r := range ring.AllRanges(view.NormalTokens()) {
		out[r.String()] = c.strategy.ReadEndpoints(r.Right, view)
	}
	return out
}

// forceTableCleanup drops rows whose key the local node no longer replicates.
func (s *managementService) forceTableCleanup(ctx context.Context) error {
	c := s.core
	local := c.localEndPoint()
	keep := func(key string) bool {
		return ring.ContainsEndPoint(c.writeEndpoints([]byte(key)), local)
	}

	var result *multierror.Error
	for _, table := range c.engine.Tables() {
		if err := ctx.Err(); err != nil {
			return multierror.Append(result, err).ErrorOrNil()
		}
		removed, err := c.engine.Cleanup(table, keep)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("cleanup %s: %w", table, err))
			continue
		}
		logger.Infow("Table cleanup complete", "table", table, "removed", removed)
	}
	return result.ErrorOrNil()
}

func (s *managementService) forceTableCompaction(ctx context.Context) error {
	var result *multierror.Error
	for _, table := range s.core.engine.Tables() {
		if err := ctx.Err(); err != nil {
			return multierror.Append(result, err).ErrorOrNil()
		}
		if err := s.core.engine.Compact(table); err != nil {
			result = multierror.Append(result, fmt.Errorf("compact %s: %w", table, err))
		}
	}
	return result.ErrorOrNil()
}

func (s *managementService) forceTableFlush(table string) error {
	if !s.core.engine.HasTable(table) {
		return fmt.Errorf("table %s: %w", table, port.ErrTableNotFound)
	}
	return s.core.engine.Flush(table)
}

func (s *managementService) takeSnapshot(table, tag string) error {
	if !s.core.engine.HasTable(table) {
		return fmt.Errorf("table %s: %w", table, port.ErrTableNotFound)
	}
	return s.core.engine.Snapshot(table, snapshotTag(tag))
}

func (s *managementService) takeAllSnapshot(tag string) error {
	tag = snapshotTag(tag)
	var result *multierror.Error
	for _, table := range s.core.engine.Tables() {
		if err := s.core.engine.Snapshot(table, tag); err != nil {
			result = multierror.Append(result, fmt.Errorf("snapshot %s: %w", table, err))
		}
	}
	return result.ErrorOrNil()
}

func snapshotTag(tag string) string {
	if tag == "" {
		return strconv.FormatInt(time.Now().UnixMilli(), 10)
	}
	return tag
}

// updateToken moves the local node to token and announces it.
func (s *managementService) updateToken(token ring.Token) error {
	c := s.core
	if c.local.Load() == nil {
		return ErrNotStarted
	}
	local := c.localEndPoint()
	if owner, ok := c.ringMeta.EndPoint(token); ok && !owner.Equal(local) {
		return fmt.Errorf("token %s already owned by %s", c.partitioner.TokenToString(token), owner.Host)
	}
	if err := c.system.UpdateLocalToken(token); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	c.token.Store(uint64(token))
	c.ringMeta.Update(token, local, c.ringMeta.IsBootstrapping(local))
	c.gossiper.AddApplicationState(gossip.StateToken, c.partitioner.TokenToString(token))
	logger.Infow("Local token updated", "token", c.partitioner.TokenToString(token))
	return nil
}

// removeTokenState forgets a remote host's ring position.
func (s *managementService) removeTokenState(host string) error {
	c := s.core
	if host == c.localEndPoint().Host {
		return ErrLocalEndPoint
	}
	var target *ring.EndPoint
	for _, ep := range c.ringMeta.Snapshot().EndPoints() {
		if ep.Host == host {
			target = &ep
			break
		}
	}
	if target == nil {
		return fmt.Errorf("%s: %w", host, ErrUnknownEndPoint)
	}
	if err := c.system.RemovePeer(*target); err != nil {
		return fmt.Errorf("remove persisted peer: %w", err)
	}
	c.membership.forget(*target, c.gossiper.CurrentGeneration(*target))
	c.peers.Forget(*target)
	logger.Infow("Removed token state", "endpoint", host)
	return nil
}

// publishLoad gossips the local on-disk size.
func (s *managementService) publishLoad() {
	s.core.gossiper.AddApplicationState(gossip.StateLoad, strconv.FormatInt(s.core.engine.Load(), 10))
}

func (s *managementService) runLoadBroadcast(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publishLoad()
		}
	}
}
