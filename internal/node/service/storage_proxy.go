package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthanhphan/go-distributed-kv/internal/node/domain"
	"github.com/anthanhphan/go-distributed-kv/internal/node/port"
	"github.com/anthanhphan/go-distributed-kv/pkg/resilience"
	"github.com/anthanhphan/go-distributed-kv/pkg/ring"
	"github.com/anthanhphan/gosdk/logger"
	"golang.org/x/sync/errgroup"
)

type replicaWriteFunc func(context.Context, ring.Placement) error

// storageProxy routes client reads and writes to replicas through bounded stages.
type storageProxy struct {
	core          *NodeDirectory
	mutationStage *resilience.WorkerPool
	readStage     *resilience.WorkerPool
}

func newStorageProxy(core *NodeDirectory) *storageProxy {
	return &storageProxy{
		core:          core,
		mutationStage: resilience.NewWorkerPool("mutation", core.opts.ConcurrentWrites, core.opts.QueueSize),
		readStage:     resilience.NewWorkerPool("read", core.opts.ConcurrentReads, core.opts.QueueSize),
	}
}

// runOnStage executes fn on pool and waits for its result.
func runOnStage[T any](ctx context.Context, pool *resilience.WorkerPool, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	var zero T
	ch := make(chan result, 1)
	if err := pool.Submit(ctx, func() {
		v, err := fn(ctx)
		ch <- result{value: v, err: err}
	}); err != nil {
		return zero, err
	}

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (p *storageProxy) applyLocal(ctx context.Context, m domain.Mutation, hintFor *ring.EndPoint) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if !p.core.engine.HasTable(m.Table) {
		return fmt.Errorf("table %s: %w", m.Table, port.ErrTableNotFound)
	}
	_, err := runOnStage(ctx, p.mutationStage, func(ctx context.Context) (struct{}, error) {
		if hintFor != nil {
			return struct{}{}, p.core.hints.store(ctx, *hintFor, m)
		}
		return struct{}{}, p.core.engine.Apply(ctx, m)
	})
	return err
}

func (p *storageProxy) readLocal(ctx context.Context, cmd domain.ReadCommand) (*domain.Row, error) {
	return runOnStage(ctx, p.readStage, func(ctx context.Context) (*domain.Row, error) {
		return p.core.engine.Read(ctx, cmd.Table, cmd.Key)
	})
}

func (p *storageProxy) digestLocal(ctx context.Context, cmd domain.ReadCommand) (uint64, bool, error) {
	row, err := p.readLocal(ctx, cmd)
	if errors.Is(err, port.ErrRowNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return row.Digest(), true, nil
}

// insert sends m to every write replica, substituting live nodes for dead
// ones, and returns once level is satisfied.
func (p *storageProxy) insert(ctx context.Context, m domain.Mutation, level domain.ConsistencyLevel) error {
	c := p.core
	if err := m.Validate(); err != nil {
		return err
	}
	if !c.engine.HasTable(m.Table) {
		return fmt.Errorf("table %s: %w", m.Table, port.ErrTableNotFound)
	}

	token := c.partitioner.TokenFor([]byte(m.Key))
	view := c.ringMeta.Snapshot()
	natural := c.strategy.WriteEndpoints(token, view)
	if len(natural) == 0 {
		return ErrUnavailable
	}
	placements := c.strategy.HintedEndpoints(token, natural, view, c.liveness())

	replicas := len(natural)
	if rf := c.strategy.ReplicationFactor(); rf < replicas {
		replicas = rf
	}
	required := level.Required(replicas)
	direct := 0
	for _, pl := range placements {
		if !pl.IsHinted() {
			direct++
		}
	}
	if direct < required {
		return fmt.Errorf("%w: %d of %d required replicas alive", ErrUnavailable, direct, required)
	}

	// Replica writes outlive the caller once the level is met.
	writeCtx := context.WithoutCancel(ctx)
	_, err := p.executeReplicaWrites(writeCtx, placements, required, func(ctx context.Context, pl ring.Placement) error {
		var hintFor *ring.EndPoint
		if pl.IsHinted() {
			intended := pl.Intended
			hintFor = &intended
		}
		if c.isLocal(pl.Target) {
			return p.applyLocal(ctx, m, hintFor)
		}
		return c.peers.ApplyMutation(ctx, pl.Target, m, hintFor)
	})
	return err
}

// executeReplicaWrites runs replica writes in parallel and enforces the ACK threshold.
func (p *storageProxy) executeReplicaWrites(ctx context.Context, placements []ring.Placement, requiredSuccess int, writeFn replicaWriteFunc) (int, error) {
	total := len(placements)
	resultChan := make(chan error, total)

	for _, pl := range placements {
		go func(pl ring.Placement) {
			err := p.executeReplicaWriteWithRetry(ctx, pl, writeFn)
			if err != nil {
				err = fmt.Errorf("write to %s: %w", pl.Target.Host, err)
			}
			resultChan <- err
		}(pl)
	}

	successCount := 0
	failCount := 0
	var lastErr error
	for i := 0; i < total; i++ {
		err := <-resultChan
		if err == nil {
			successCount++
			if successCount >= requiredSuccess {
				return successCount, nil
			}
			continue
		}

		failCount++
		lastErr = err
		logger.Debugw("Replica write failed", "error", err)
		if failCount > total-requiredSuccess {
			return successCount, lastErr
		}
	}

	if successCount >= requiredSuccess {
		return successCount, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("replica writes failed without explicit error")
	}
	return successCount, lastErr
}

// executeReplicaWriteWithRetry retries one replica write with per-attempt timeouts.
func (p *storageProxy) executeReplicaWriteWithRetry(ctx context.Context, pl ring.Placement, writeFn replicaWriteFunc) error {
	timeout := p.core.opts.RPCTimeout
	budgetCtx, cancel := context.WithTimeout(ctx, timeout*time.Duration(p.core.opts.MaxWriteRetries))
	defer cancel()

	var lastErr error
	for retry := 0; retry < p.core.opts.MaxWriteRetries; retry++ {
		attemptCtx, attemptCancel := context.WithTimeout(budgetCtx, timeout)
		err := writeFn(attemptCtx, pl)
		attemptCancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, port.ErrTableNotFound) {
			return err
		}

		wait := time.Duration(retry+1) * 100 * time.Millisecond
		if after, isOpen := circuitOpenRetryAfter(err); isOpen && after > 0 {
			wait = after
		}
		if !sleepWithContext(budgetCtx, wait) {
			break
		}
	}
	if lastErr == nil {
		return budgetCtx.Err()
	}
	return lastErr
}

// read serves cmd at level. ONE reads a single replica and checks every
// replica, the source included, in the background; stronger levels merge the
// replies of a quorum.
func (p *storageProxy) read(ctx context.Context, cmd domain.ReadCommand, level domain.ConsistencyLevel) (*domain.Row, error) {
	c := p.core
	if cmd.Table == "" || cmd.Key == "" {
		return nil, fmt.Errorf("read requires table and key")
	}
	if !c.engine.HasTable(cmd.Table) {
		return nil, fmt.Errorf("table %s: %w", cmd.Table, port.ErrTableNotFound)
	}
	key := []byte(cmd.Key)
	all := c.readEndpoints(key)
	if len(all) == 0 {
		return nil, ErrUnavailable
	}

	if level == domain.ConsistencyOne || level == "" {
		ep, err := c.findSuitableEndpoint(key)
		if err != nil {
			return nil, err
		}
		row, err := p.readFrom(ctx, ep, cmd)
		if err != nil {
			return nil, err
		}
		c.consistency.submit(row, all)
		return row, nil
	}

	live := c.liveReadEndpoints(key)
	required := level.Required(len(all))
	if len(live) < required {
		return nil, fmt.Errorf("%w: %d of %d required replicas alive", ErrUnavailable, len(live), required)
	}

	rows := make([]*domain.Row, len(live))
	errs := make([]error, len(live))
	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range live {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, c.opts.RPCTimeout)
			defer cancel()
			rows[i], errs[i] = p.readFrom(callCtx, ep, cmd)
			return nil
		})
	}
	_ = g.Wait()

	var (
		merged    *domain.Row
		responded []ring.EndPoint
		lastErr   error
	)
	for i, ep := range live {
		switch {
		case errs[i] == nil:
			responded = append(responded, ep)
			if merged == nil {
				merged = domain.NewRow(cmd.Table, cmd.Key)
			}
			merged.Merge(rows[i])
		case errors.Is(errs[i], port.ErrRowNotFound):
			responded = append(responded, ep)
		default:
			lastErr = errs[i]
		}
	}
	if len(responded) < required {
		if lastErr == nil {
			lastErr = ErrUnavailable
		}
		return nil, fmt.Errorf("read %s/%s: %d of %d replicas answered: %w", cmd.Table, cmd.Key, len(responded), required, lastErr)
	}
	if merged == nil {
		return nil, port.ErrRowNotFound
	}

	var stale []ring.EndPoint
	want := merged.Digest()
	for i, ep := range live {
		if errs[i] == nil && rows[i].Digest() == want {
			continue
		}
		if errs[i] == nil || errors.Is(errs[i], port.ErrRowNotFound) {
			stale = append(stale, ep)
		}
	}
	if len(stale) > 0 {
		c.consistency.submit(merged, stale)
	}
	return merged, nil
}

func (p *storageProxy) readFrom(ctx context.Context, ep ring.EndPoint, cmd domain.ReadCommand) (*domain.Row, error) {
	if p.core.isLocal(ep) {
		return p.readLocal(ctx, cmd)
	}
	return p.core.peers.ReadRow(ctx, ep, cmd)
}

func (p *storageProxy) close() {
	p.mutationStage.Close()
	p.readStage.Close()
	p.mutationStage.Wait()
	p.readStage.Wait()
}

// circuitOpenRetryAfter extracts the retry delay from circuit-open errors.
func circuitOpenRetryAfter(err error) (time.Duration, bool) {
	var openErr *resilience.CircuitOpenError
	if errors.As(err, &openErr) {
		return openErr.RetryAfter, true
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return 0, true
	}
	return 0, false
}

// sleepWithContext waits for delay or exits early if ctx is canceled.
func sleepWithContext(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
