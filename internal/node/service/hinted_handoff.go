package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anthanhphan/go-distributed-kv/internal/node/domain"
	"github.com/anthanhphan/go-distributed-kv/pkg/resilience"
	"github.com/anthanhphan/go-distributed-kv/pkg/ring"
	"github.com/anthanhphan/gosdk/logger"
)

// hintedHandoffService stores writes for unreachable replicas and replays
// them once the replica is back.
type hintedHandoffService struct {
	core *NodeDirectory
	pool *resilience.WorkerPool

	mu       sync.Mutex
	inflight map[string]struct{}

	delivered atomic.Int64
}

func newHintedHandoffService(core *NodeDirectory) *hintedHandoffService {
	return &hintedHandoffService{
		core:     core,
		pool:     resilience.NewWorkerPool("hints", core.opts.HintThreads, core.opts.QueueSize),
		inflight: make(map[string]struct{}),
	}
}

// store persists m as a hint for intended.
func (h *hintedHandoffService) store(ctx context.Context, intended ring.EndPoint, m domain.Mutation) error {
	id, err := h.core.hintIDs.Next()
	if err != nil {
		return fmt.Errorf("allocate hint id: %w", err)
	}
	hint := domain.Hint{ID: id, Target: intended, Mutation: m, CreatedAt: time.Now()}
	if err := h.core.hintStore.Add(ctx, hint); err != nil {
		return fmt.Errorf("store hint for %s: %w", intended.Host, err)
	}
	logger.Debugw("Stored hint", "target", intended.Host, "table", m.Table, "key", m.Key, "id", id)
	return nil
}

// deliverHints schedules delivery to ep unless one is already running.
func (h *hintedHandoffService) deliverHints(ep ring.EndPoint) {
	h.mu.Lock()
	if _, busy := h.inflight[ep.Host]; busy {
		h.mu.Unlock()
		return
	}
	h.inflight[ep.Host] = struct{}{}
	h.mu.Unlock()

	release := func() {
		h.mu.Lock()
		delete(h.inflight, ep.Host)
		h.mu.Unlock()
	}
	err := h.pool.TrySubmit(func() {
		defer release()
		h.deliver(ep)
	})
	if err != nil {
		release()
		logger.Debugw("Hint delivery not scheduled", "target", ep.Host, "error", err)
	}
}

// deliver replays hints for ep in ID order and drops the acknowledged ones.
// Delivery stops at the first failure so later hints are not reordered.
func (h *hintedHandoffService) deliver(ep ring.EndPoint) {
	c := h.core
	ctx, cancel := context.WithTimeout(context.Background(), 10*c.opts.RPCTimeout)
	defer cancel()

	hints, err := c.hintStore.List(ctx, ep.Host)
	if err != nil {
		logger.Warnw("Failed to list hints", "target", ep.Host, "error", err)
		return
	}
	if len(hints) == 0 {
		return
	}

	acked := make([]int64, 0, len(hints))
	for _, hint := range hints {
		callCtx, callCancel := context.WithTimeout(ctx, c.opts.RPCTimeout)
		err := c.peers.ApplyMutation(callCtx, ep, hint.Mutation, nil)
		callCancel()
		if err != nil {
			logger.Warnw("Hint delivery interrupted",
				"target", ep.Host,
				"delivered", len(acked),
				"pending", len(hints)-len(acked),
				"error", err,
			)
			break
		}
		acked = append(acked, hint.ID)
	}
	if len(acked) == 0 {
		return
	}
	if err := c.hintStore.Delete(ctx, ep.Host, acked); err != nil {
		logger.Warnw("Failed to delete delivered hints", "target", ep.Host, "error", err)
		return
	}
	h.delivered.Add(int64(len(acked)))
	logger.Infow("Delivered hints", "target", ep.Host, "count", len(acked))
}

// runDelivery periodically retries every host with pending hints that is alive.
func (h *hintedHandoffService) runDelivery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep(ctx)
		}
	}
}

func (h *hintedHandoffService) sweep(ctx context.Context) {
	targets, err := h.core.hintStore.Targets(ctx)
	if err != nil {
		logger.Warnw("Failed to list hint targets", "error", err)
		return
	}
	if len(targets) == 0 {
		return
	}

	live := make(map[string]ring.EndPoint)
	for _, ep := range h.core.gossiper.LiveMembers() {
		live[ep.Host] = ep
	}
	for _, host := range targets {
		if ep, ok := live[host]; ok && !h.core.isLocal(ep) {
			h.deliverHints(ep)
		}
	}
}

func (h *hintedHandoffService) close() {
	h.pool.Close()
	h.pool.Wait()
}
