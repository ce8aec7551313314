package service

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/anthanhphan/go-distributed-kv/internal/node/domain"
	"github.com/anthanhphan/go-distributed-kv/internal/node/port"
	"github.com/anthanhphan/go-distributed-kv/pkg/resilience"
	"github.com/anthanhphan/go-distributed-kv/pkg/ring"
	"github.com/anthanhphan/gosdk/logger"
	"golang.org/x/sync/errgroup"
)

// consistencyCoordinator compares a returned row against the other replicas
// in the background and pushes repairs where they diverge.
type consistencyCoordinator struct {
	core *NodeDirectory
	pool *resilience.WorkerPool

	submitted  atomic.Int64
	dropped    atomic.Int64
	checked    atomic.Int64
	mismatches atomic.Int64
	repaired   atomic.Int64
	failures   atomic.Int64
}

func newConsistencyCoordinator(core *NodeDirectory) *consistencyCoordinator {
	return &consistencyCoordinator{
		core: core,
		pool: resilience.NewWorkerPool("consistency", core.opts.ConsistencyThreads, core.opts.QueueSize),
	}
}

// submit queues a check of row against replicas. It never blocks the caller;
// a full queue drops the check.
func (c *consistencyCoordinator) submit(row *domain.Row, replicas []ring.EndPoint) {
	if row == nil || len(replicas) == 0 {
		return
	}
	snapshot := row.Clone()
	targets := append([]ring.EndPoint(nil), replicas...)

	c.submitted.Add(1)
	err := c.pool.TrySubmit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 4*c.core.opts.RPCTimeout)
		defer cancel()
		c.check(ctx, snapshot, targets)
	})
	if err != nil {
		c.dropped.Add(1)
		logger.Debugw("Consistency check dropped", "table", row.Table, "key", row.Key, "error", err)
	}
}

// check compares the digest of every replica, including the one row was
// read from, against row. One mismatch is enough to repair the whole set.
func (c *consistencyCoordinator) check(ctx context.Context, row *domain.Row, replicas []ring.EndPoint) {
	c.checked.Add(1)
	cmd := domain.ReadCommand{Table: row.Table, Key: row.Key}
	want := row.Digest()

	digests := make([]uint64, len(replicas))
	errs := make([]error, len(replicas))
	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range replicas {
		g.Go(func() error {
			digests[i], _, errs[i] = c.digest(gctx, ep, cmd)
			return nil
		})
	}
	_ = g.Wait()

	mismatch := false
	for i, ep := range replicas {
		if errs[i] != nil {
			c.failures.Add(1)
			logger.Debugw("Consistency digest failed", "replica", ep.Host, "error", errs[i])
			continue
		}
		if digests[i] != want {
			mismatch = true
		}
	}
	if !mismatch {
		return
	}
	c.mismatches.Add(1)
	c.repair(ctx, row, replicas)
}

// repair reads every replica, merges the copies into row and sends each
// replica what it lacks.
func (c *consistencyCoordinator) repair(ctx context.Context, row *domain.Row, replicas []ring.EndPoint) {
	merged := row.Clone()
	cmd := domain.ReadCommand{Table: row.Table, Key: row.Key}

	copies := make([]*domain.Row, len(replicas))
	for i, ep := range replicas {
		r, err := c.read(ctx, ep, cmd)
		switch {
		case errors.Is(err, port.ErrRowNotFound):
			copies[i] = domain.NewRow(row.Table, row.Key)
		case err != nil:
			c.failures.Add(1)
			logger.Debugw("Consistency read failed", "replica", ep.Host, "error", err)
		default:
			copies[i] = r
			merged.Merge(r)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range replicas {
		if copies[i] == nil {
			continue
		}
		delta := merged.Delta(copies[i])
		if delta.IsEmpty() {
			continue
		}
		g.Go(func() error {
			if err := c.write(gctx, ep, domain.MutationFromRow(delta)); err != nil {
				c.failures.Add(1)
				logger.Debugw("Consistency repair failed", "replica", ep.Host, "error", err)
				return nil
			}
			c.repaired.Add(1)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *consistencyCoordinator) digest(ctx context.Context, ep ring.EndPoint, cmd domain.ReadCommand) (uint64, bool, error) {
	if c.core.isLocal(ep) {
		return c.core.proxy.digestLocal(ctx, cmd)
	}
	return c.core.peers.ReadDigest(ctx, ep, cmd)
}

func (c *consistencyCoordinator) read(ctx context.Context, ep ring.EndPoint, cmd domain.ReadCommand) (*domain.Row, error) {
	if c.core.isLocal(ep) {
		return c.core.engine.Read(ctx, cmd.Table, cmd.Key)
	}
	return c.core.peers.ReadRow(ctx, ep, cmd)
}

func (c *consistencyCoordinator) write(ctx context.Context, ep ring.EndPoint, m domain.Mutation) error {
	if c.core.isLocal(ep) {
		return c.core.engine.Apply(ctx, m)
	}
	return c.core.peers.ApplyMutation(ctx, ep, m, nil)
}

func (c *consistencyCoordinator) stats() domain.RepairStats {
	return domain.RepairStats{
		Submitted:  c.submitted.Load(),
		Dropped:    c.dropped.Load(),
		Checked:    c.checked.Load(),
		Mismatches: c.mismatches.Load(),
		Repaired:   c.repaired.Load(),
		Failures:   c.failures.Load(),
	}
}

func (c *consistencyCoordinator) close() {
	c.pool.Close()
	c.pool.Wait()
}
