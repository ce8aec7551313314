package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anthanhphan/go-distributed-kv/internal/node/domain"
	"github.com/anthanhphan/go-distributed-kv/internal/node/port"
	"github.com/anthanhphan/go-distributed-kv/pkg/gossip"
	"github.com/anthanhphan/go-distributed-kv/pkg/idgen"
	"github.com/anthanhphan/go-distributed-kv/pkg/resilience"
	"github.com/anthanhphan/go-distributed-kv/pkg/ring"
	"github.com/anthanhphan/gosdk/logger"
)

var (
	ErrUnavailable       = errors.New("not enough live replicas")
	ErrEmptyRing         = errors.New("ring has no normal tokens")
	ErrInvalidSplitCount = errors.New("split count must be at least 2")
	ErrNothingToHandoff  = errors.New("no files to hand off")
	ErrUnknownEndPoint   = errors.New("endpoint is not part of the ring")
	ErrLocalEndPoint     = errors.New("operation not allowed on the local node")
	ErrNotStarted        = errors.New("node directory not started")
)

// Deps are the collaborators a directory is built from.
type Deps struct {
	Gossiper    port.Gossiper
	Peers       port.PeerClient
	Engine      port.StorageEngine
	System      port.SystemTable
	Hints       port.HintStore
	HintIDs     idgen.Generator
	Partitioner ring.Partitioner
	Strategy    ring.ReplicationStrategy
	Snitch      ring.Snitch
}

// Options tunes a directory.
type Options struct {
	AutoBootstrap bool
	// InitialToken is used on first start; empty picks a random token.
	InitialToken string
	Datacenter   string
	Rack         string

	RingDelay             time.Duration
	RPCTimeout            time.Duration
	BootstrapRetryBackoff time.Duration
	HintDeliveryInterval  time.Duration
	LoadBroadcastInterval time.Duration

	ConcurrentReads    int
	ConcurrentWrites   int
	ConsistencyThreads int
	HintThreads        int
	QueueSize          int
	MaxWriteRetries    int

	// OnFatal is called when durable state cannot be written. The process
	// exits when it is nil.
	OnFatal func(error)
}

func (o Options) withDefaults() Options {
	if o.RPCTimeout <= 0 {
		o.RPCTimeout = 2 * time.Second
	}
	if o.BootstrapRetryBackoff <= 0 {
		o.BootstrapRetryBackoff = time.Second
	}
	if o.HintDeliveryInterval <= 0 {
		o.HintDeliveryInterval = 10 * time.Second
	}
	if o.LoadBroadcastInterval <= 0 {
		o.LoadBroadcastInterval = time.Minute
	}
	if o.ConcurrentReads <= 0 {
		o.ConcurrentReads = 8
	}
	if o.ConcurrentWrites <= 0 {
		o.ConcurrentWrites = 8
	}
	if o.ConsistencyThreads <= 0 {
		o.ConsistencyThreads = 2
	}
	if o.HintThreads <= 0 {
		o.HintThreads = 2
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.MaxWriteRetries <= 0 {
		o.MaxWriteRetries = 3
	}
	return o
}

// NodeDirectory owns the local node's view of ring membership and routes
// reads and writes through it.
type NodeDirectory struct {
	gossiper    port.Gossiper
	peers       port.PeerClient
	engine      port.StorageEngine
	system      port.SystemTable
	hintStore   port.HintStore
	hintIDs     idgen.Generator
	partitioner ring.Partitioner
	strategy    ring.ReplicationStrategy
	snitch      ring.Snitch
	ringMeta    *ring.RingMetadata
	opts        Options

	local      atomic.Pointer[ring.EndPoint]
	token      atomic.Uint64
	generation atomic.Int64
	state      atomic.Value

	membership  *membershipService
	bootstrap   *bootstrapService
	handoff     *handoffService
	hints       *hintedHandoffService
	consistency *consistencyCoordinator
	proxy       *storageProxy
	management  *managementService

	startOnce sync.Once
	bgCancel  context.CancelFunc
	bgWG      sync.WaitGroup
}

var (
	_ port.PeerService       = (*NodeDirectory)(nil)
	_ port.ManagementService = (*NodeDirectory)(nil)
)

// NewNodeDirectory builds the directory and its use-case services. Nothing
// touches the network or disk until Start.
func NewNodeDirectory(deps Deps, opts Options) (*NodeDirectory, error) {
	switch {
	case deps.Gossiper == nil:
		return nil, fmt.Errorf("gossiper is required")
	case deps.Peers == nil:
		return nil, fmt.Errorf("peer client is required")
	case deps.Engine == nil:
		return nil, fmt.Errorf("storage engine is required")
	case deps.System == nil:
		return nil, fmt.Errorf("system table is required")
	case deps.Hints == nil || deps.HintIDs == nil:
		return nil, fmt.Errorf("hint store and id generator are required")
	case deps.Partitioner == nil || deps.Strategy == nil:
		return nil, fmt.Errorf("partitioner and replication strategy are required")
	}
	if deps.Snitch == nil {
		deps.Snitch = ring.SimpleSnitch{}
	}

	d := &NodeDirectory{
		gossiper:    deps.Gossiper,
		peers:       deps.Peers,
		engine:      deps.Engine,
		system:      deps.System,
		hintStore:   deps.Hints,
		hintIDs:     deps.HintIDs,
		partitioner: deps.Partitioner,
		strategy:    deps.Strategy,
		snitch:      deps.Snitch,
		ringMeta:    ring.NewRingMetadata(),
		opts:        opts.withDefaults(),
	}
	d.state.Store(domain.NodeStateUninitialized)

	d.membership = newMembershipService(d)
	d.bootstrap = newBootstrapService(d)
	d.handoff = newHandoffService(d)
	d.hints = newHintedHandoffService(d)
	d.consistency = newConsistencyCoordinator(d)
	d.proxy = newStorageProxy(d)
	d.management = newManagementService(d)

	return d, nil
}

// Start loads persisted state, joins gossip and either bootstraps or takes
// the persisted token.
func (d *NodeDirectory) Start(ctx context.Context) error {
	var err error
	started := false
	d.startOnce.Do(func() {
		started = true
		err = d.start(ctx)
	})
	if !started {
		return fmt.Errorf("node directory already started")
	}
	return err
}

func (d *NodeDirectory) start(ctx context.Context) error {
	autoAssigned := false
	meta, err := d.system.Load(func() (ring.Token, bool) {
		if d.opts.InitialToken != "" {
			if t, perr := d.partitioner.TokenFromString(d.opts.InitialToken); perr == nil {
				return t, false
			}
			logger.Warnw("Ignoring invalid initial token", "token", d.opts.InitialToken)
		}
		autoAssigned = true
		return d.partitioner.RandomToken(), true
	})
	if err != nil {
		return fmt.Errorf("load local metadata: %w", err)
	}
	autoAssigned = autoAssigned || (meta.AutoAssigned && !meta.Bootstrapped)

	local := d.gossiper.LocalEndPoint()
	d.local.Store(&local)
	d.token.Store(uint64(meta.Token))
	d.generation.Store(meta.Generation)

	for host, peer := range meta.Peers {
		if host == local.Host {
			continue
		}
		d.ringMeta.Update(peer.Token, peer.EndPoint, false)
	}

	bootstrapping := d.opts.AutoBootstrap && !d.gossiper.IsSeed() && !meta.Bootstrapped

	d.gossiper.Register(d.membership)
	if err := d.gossiper.Start(meta.Generation); err != nil {
		return fmt.Errorf("start gossip: %w", err)
	}
	d.gossiper.AddApplicationState(gossip.StateDatacenter, d.opts.Datacenter)
	d.gossiper.AddApplicationState(gossip.StateRack, d.opts.Rack)

	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.bgCancel = cancel

	if bootstrapping {
		logger.Infow("Starting in bootstrap mode",
			"token", d.partitioner.TokenToString(meta.Token),
			"auto_assigned", autoAssigned,
		)
		d.state.Store(domain.NodeStateBootstrapping)
		d.gossiper.AddApplicationState(gossip.StateBootstrapMode, "true")
		d.ringMeta.Update(meta.Token, local, true)
		d.gossiper.AddApplicationState(gossip.StateToken, d.partitioner.TokenToString(meta.Token))
		d.goBackground(func() { d.bootstrap.run(bgCtx, autoAssigned) })
	} else {
		d.updateTokenMetadata(meta.Token, local, false)
		d.state.Store(domain.NodeStateNormal)
		d.gossiper.AddApplicationState(gossip.StateToken, d.partitioner.TokenToString(meta.Token))
		logger.Infow("Node joined ring",
			"token", d.partitioner.TokenToString(meta.Token),
			"generation", meta.Generation,
		)
	}

	d.management.publishLoad()
	d.goBackground(func() { d.hints.runDelivery(bgCtx, d.opts.HintDeliveryInterval) })
	d.goBackground(func() { d.management.runLoadBroadcast(bgCtx, d.opts.LoadBroadcastInterval) })
	return nil
}

// Stop cancels background work and drains the stages.
func (d *NodeDirectory) Stop() {
	if d.bgCancel != nil {
		d.bgCancel()
	}
	d.bgWG.Wait()
	d.proxy.close()
	d.consistency.close()
	d.hints.close()
}

// WaitBootstrapped blocks until the node reaches NORMAL or ctx ends.
func (d *NodeDirectory) WaitBootstrapped(ctx context.Context) error {
	if d.State() == domain.NodeStateNormal {
		return nil
	}
	select {
	case <-d.bootstrap.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *NodeDirectory) goBackground(fn func()) {
	d.bgWG.Add(1)
	go func() {
		defer d.bgWG.Done()
		fn()
	}()
}

// updateTokenMetadata records token for ep. Normal tokens are persisted
// before the in-memory ring changes; a persistence failure is fatal.
func (d *NodeDirectory) updateTokenMetadata(token ring.Token, ep ring.EndPoint, isBootstrapping bool) {
	if !isBootstrapping {
		var err error
		if ep.Equal(d.localEndPoint()) {
			err = d.system.UpdateLocalToken(token)
		} else {
			err = d.system.UpdatePeerToken(ep, token)
		}
		if err != nil {
			d.fatal(fmt.Errorf("persist token %s for %s: %w", d.partitioner.TokenToString(token), ep.Host, err))
			return
		}
	}
	d.ringMeta.Update(token, ep, isBootstrapping)
}

func (d *NodeDirectory) fatal(err error) {
	logger.Errorw("Unrecoverable metadata failure", "error", err)
	if d.opts.OnFatal != nil {
		d.opts.OnFatal(err)
		return
	}
	os.Exit(1)
}

func (d *NodeDirectory) localEndPoint() ring.EndPoint {
	if ep := d.local.Load(); ep != nil {
		return *ep
	}
	return ring.EndPoint{}
}

func (d *NodeDirectory) isLocal(ep ring.EndPoint) bool {
	return ep.Equal(d.localEndPoint())
}

func (d *NodeDirectory) liveness() ring.Liveness {
	return ring.LivenessFunc(func(ep ring.EndPoint) bool {
		return d.isLocal(ep) || d.gossiper.IsAlive(ep)
	})
}

// RingMetadata exposes the directory's ring.
func (d *NodeDirectory) RingMetadata() *ring.RingMetadata { return d.ringMeta }

// Partitioner returns the configured partitioner.
func (d *NodeDirectory) Partitioner() ring.Partitioner { return d.partitioner }

// Token returns the local token.
func (d *NodeDirectory) Token() ring.Token { return ring.Token(d.token.Load()) }

// State returns the local join state.
func (d *NodeDirectory) State() domain.NodeState { return d.state.Load().(domain.NodeState) }

// Generation returns the generation the node gossips with.
func (d *NodeDirectory) Generation() int64 { return d.generation.Load() }

// LocalEndPoint returns the local node's address.
func (d *NodeDirectory) LocalEndPoint() ring.EndPoint { return d.localEndPoint() }

// LiveNodes lists reachable members including the local node.
func (d *NodeDirectory) LiveNodes() []ring.EndPoint { return d.gossiper.LiveMembers() }

// UnreachableNodes lists members currently considered down.
func (d *NodeDirectory) UnreachableNodes() []ring.EndPoint { return d.gossiper.UnreachableMembers() }

// PrimaryOwner returns the normal endpoint whose range holds key.
func (d *NodeDirectory) PrimaryOwner(key []byte) (ring.EndPoint, error) {
	return d.primaryOwner(key)
}

// ReadEndpoints returns the replicas of key.
func (d *NodeDirectory) ReadEndpoints(key []byte) []ring.EndPoint { return d.readEndpoints(key) }

// GetSplits divides the local primary range into n pieces.
func (d *NodeDirectory) GetSplits(n int) ([]ring.Token, error) { return d.getSplits(n) }

// Insert writes m to its replicas at level.
func (d *NodeDirectory) Insert(ctx context.Context, m domain.Mutation, level domain.ConsistencyLevel) error {
	return d.proxy.insert(ctx, m, level)
}

// Read returns the row addressed by cmd at level.
func (d *NodeDirectory) Read(ctx context.Context, cmd domain.ReadCommand, level domain.ConsistencyLevel) (*domain.Row, error) {
	return d.proxy.read(ctx, cmd, level)
}

// ApplyLocal applies m to the local engine, or stores it as a hint for hintFor.
func (d *NodeDirectory) ApplyLocal(ctx context.Context, m domain.Mutation, hintFor *ring.EndPoint) error {
	return d.proxy.applyLocal(ctx, m, hintFor)
}

// ReadLocal reads a row from the local engine.
func (d *NodeDirectory) ReadLocal(ctx context.Context, cmd domain.ReadCommand) (*domain.Row, error) {
	return d.proxy.readLocal(ctx, cmd)
}

// DigestLocal returns the digest of the local copy of a row.
func (d *NodeDirectory) DigestLocal(ctx context.Context, cmd domain.ReadCommand) (uint64, bool, error) {
	return d.proxy.digestLocal(ctx, cmd)
}

// StreamRanges sends every local row inside ranges to fn.
func (d *NodeDirectory) StreamRanges(ctx context.Context, ranges []ring.Range, fn func(*domain.Row) error) error {
	return d.engine.ScanRanges(ctx, ranges, d.partitioner.TokenFor, fn)
}

// AcceptHandoff receives an offline handoff session.
func (d *NodeDirectory) AcceptHandoff(ctx context.Context, sessionID string, manifest []domain.HandoffFile, next func() (domain.HandoffChunk, error)) (domain.HandoffResult, error) {
	return d.handoff.accept(ctx, sessionID, manifest, next)
}

// ForceHandoff ships the data files under directories to target.
func (d *NodeDirectory) ForceHandoff(ctx context.Context, directories []string, target ring.EndPoint) (domain.HandoffResult, error) {
	return d.handoff.forceHandoff(ctx, directories, target)
}

// DeliverHints starts hint delivery to ep in the background.
func (d *NodeDirectory) DeliverHints(ep ring.EndPoint) { d.hints.deliverHints(ep) }

// RepairStats returns background consistency check counters.
func (d *NodeDirectory) RepairStats() domain.RepairStats { return d.consistency.stats() }

// StageStats returns the counters of every execution stage.
// PeerBreakers reports the circuit breaker of every peer this node has called.
func (d *NodeDirectory) PeerBreakers() map[string]resilience.BreakerStats {
	return d.peers.BreakerStats()
}

func (d *NodeDirectory) StageStats() []resilience.PoolStats {
	return []resilience.PoolStats{
		d.proxy.mutationStage.Stats(),
		d.proxy.readStage.Stats(),
		d.consistency.pool.Stats(),
		d.hints.pool.Stats(),
	}
}

// LoadMap returns the disk load gossiped by each live node.
func (d *NodeDirectory) LoadMap() map[string]string { return d.management.loadMap() }

// RangeToEndPointMap returns the replicas of every ring range.
func (d *NodeDirectory) RangeToEndPointMap() map[string][]ring.EndPoint {
	return d.management.rangeToEndPointMap()
}

// ForceTableCleanup removes rows this node no longer replicates.
func (d *NodeDirectory) ForceTableCleanup(ctx context.Context) error {
	return d.management.forceTableCleanup(ctx)
}

// ForceTableCompaction compacts every table.
func (d *NodeDirectory) ForceTableCompaction(ctx context.Context) error {
	return d.management.forceTableCompaction(ctx)
}

// ForceTableFlush flushes one table.
func (d *NodeDirectory) ForceTableFlush(table string) error {
	return d.management.forceTableFlush(table)
}

// TakeSnapshot snapshots one table under tag.
func (d *NodeDirectory) TakeSnapshot(table, tag string) error {
	return d.management.takeSnapshot(table, tag)
}

// TakeAllSnapshot snapshots every table under tag.
func (d *NodeDirectory) TakeAllSnapshot(tag string) error {
	return d.management.takeAllSnapshot(tag)
}

// ClearSnapshot deletes every snapshot.
func (d *NodeDirectory) ClearSnapshot() error { return d.engine.ClearSnapshots() }

// UpdateToken moves the local node to token.
func (d *NodeDirectory) UpdateToken(token ring.Token) error {
	return d.management.updateToken(token)
}

// RemoveTokenState drops a remote host from the ring.
func (d *NodeDirectory) RemoveTokenState(host string) error {
	return d.management.removeTokenState(host)
}
