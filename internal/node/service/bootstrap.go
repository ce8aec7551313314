package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/anthanhphan/go-distributed-kv/internal/node/domain"
	"github.com/anthanhphan/go-distributed-kv/pkg/gossip"
	"github.com/anthanhphan/go-distributed-kv/pkg/ring"
	"github.com/anthanhphan/gosdk/logger"
)

const maxBootstrapBackoff = 30 * time.Second

// bootstrapSource is one node the joining node streams ranges from.
type bootstrapSource struct {
	endpoint ring.EndPoint
	ranges   []ring.Range
}

// bootstrapService streams the ranges a joining node will own and flips it
// to NORMAL exactly once when every source has finished.
type bootstrapService struct {
	core *NodeDirectory

	mu        sync.Mutex
	sources   map[string]ring.EndPoint
	armed     bool
	completed bool
	done      chan struct{}
}

func newBootstrapService(core *NodeDirectory) *bootstrapService {
	return &bootstrapService{
		core:    core,
		sources: make(map[string]ring.EndPoint),
		done:    make(chan struct{}),
	}
}

// run waits for the ring to settle, optionally picks a balanced token, then
// streams data from the current replicas of the ranges being taken over.
func (b *bootstrapService) run(ctx context.Context, autoAssigned bool) {
	c := b.core
	logger.Infow("Bootstrap waiting for ring to settle", "delay", c.opts.RingDelay.String())
	if c.opts.RingDelay > 0 && !sleepWithContext(ctx, c.opts.RingDelay) {
		return
	}

	token := c.Token()
	if autoAssigned {
		if balanced, ok := b.balancedToken(ctx); ok && balanced != token {
			if err := c.system.UpdateLocalToken(balanced); err != nil {
				c.fatal(fmt.Errorf("persist balanced token: %w", err))
				return
			}
			c.token.Store(uint64(balanced))
			c.ringMeta.Update(balanced, c.localEndPoint(), true)
			c.gossiper.AddApplicationState(gossip.StateToken, c.partitioner.TokenToString(balanced))
			logger.Infow("Picked balanced bootstrap token", "token", c.partitioner.TokenToString(balanced))
			token = balanced
		}
	}

	sources := b.plan(token, c.ringMeta.Snapshot())
	b.start(sources)
	for _, src := range sources {
		c.goBackground(func() { b.stream(ctx, src) })
	}
}

// start registers every source before any stream can finish.
func (b *bootstrapService) start(sources []bootstrapSource) {
	for _, src := range sources {
		b.addSource(src.endpoint)
	}
	b.mu.Lock()
	b.armed = true
	b.mu.Unlock()

	logger.Infow("Bootstrap streaming", "sources", len(sources))
	if len(sources) == 0 {
		b.removeSource(ring.EndPoint{})
	}
}

// addSource records a node data is still expected from.
func (b *bootstrapService) addSource(ep ring.EndPoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sources[ep.Host] = ep
}

// removeSource marks ep as done and completes bootstrap when it was the last.
func (b *bootstrapService) removeSource(ep ring.EndPoint) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.sources, ep.Host)
	if !b.armed || b.completed || len(b.sources) > 0 {
		return
	}
	b.completed = true
	b.finish()
	close(b.done)
}

func (b *bootstrapService) finish() {
	c := b.core
	if err := c.system.SetBootstrapped(true); err != nil {
		c.fatal(fmt.Errorf("persist bootstrapped flag: %w", err))
		return
	}
	token := c.Token()
	c.updateTokenMetadata(token, c.localEndPoint(), false)
	c.gossiper.DeleteApplicationState(gossip.StateBootstrapMode)
	c.state.Store(domain.NodeStateNormal)
	logger.Infow("Bootstrap complete", "token", c.partitioner.TokenToString(token))
}

// plan returns, per source, the ranges the local node takes over at token.
// Each range is streamed from its first live current replica.
func (b *bootstrapService) plan(token ring.Token, view *ring.Snapshot) []bootstrapSource {
	c := b.core
	local := c.localEndPoint()
	current := view.Without(local)
	target := current.With(token, local, false)

	var mine []ring.Range
	for ep, ranges := range c.strategy.RangeMap(target) {
		if ep.Equal(local) {
			mine = append(mine, ranges...)
		}
	}

	bySource := make(map[string]*bootstrapSource)
	for _, r := range mine {
		var source *ring.EndPoint
		for _, replica := range c.strategy.ReadEndpoints(r.Right, current) {
			if replica.Equal(local) || !c.gossiper.IsAlive(replica) {
				continue
			}
			source = &replica
			break
		}
		if source == nil {
			logger.Warnw("No live source for range, skipping", "range", r.String())
			continue
		}
		src, ok := bySource[source.Host]
		if !ok {
			src = &bootstrapSource{endpoint: *source}
			bySource[source.Host] = src
		}
		src.ranges = append(src.ranges, r)
	}

	out := make([]bootstrapSource, 0, len(bySource))
	for _, src := range bySource {
		sort.Slice(src.ranges, func(i, j int) bool { return src.ranges[i].Left < src.ranges[j].Left })
		out = append(out, *src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].endpoint.Host < out[j].endpoint.Host })
	return out
}

// stream fetches src's ranges, retrying until it succeeds or ctx ends.
func (b *bootstrapService) stream(ctx context.Context, src bootstrapSource) {
	c := b.core
	for attempt := 1; ; attempt++ {
		rows := 0
		err := c.peers.FetchRange(ctx, src.endpoint, src.ranges, func(row *domain.Row) error {
			rows++
			return c.engine.Apply(ctx, domain.MutationFromRow(row))
		})
		if err == nil {
			logger.Infow("Bootstrap source finished",
				"source", src.endpoint.Host,
				"ranges", len(src.ranges),
				"rows", rows,
			)
			b.removeSource(src.endpoint)
			return
		}
		if ctx.Err() != nil {
			return
		}

		wait := time.Duration(attempt) * c.opts.BootstrapRetryBackoff
		if wait > maxBootstrapBackoff {
			wait = maxBootstrapBackoff
		}
		logger.Warnw("Bootstrap stream failed, retrying",
			"source", src.endpoint.Host,
			"attempt", attempt,
			"retry_in", wait.String(),
			"error", err,
		)
		if !sleepWithContext(ctx, wait) {
			return
		}
	}
}

// balancedToken asks the most loaded live normal node for the midpoint of
// its primary range.
func (b *bootstrapService) balancedToken(ctx context.Context) (ring.Token, bool) {
	c := b.core
	view := c.ringMeta.Snapshot()

	var (
		best     ring.EndPoint
		bestLoad = -1.0
	)
	for _, ep := range c.gossiper.LiveMembers() {
		if c.isLocal(ep) {
			continue
		}
		if _, ok := view.TokenOf(ep); !ok || view.IsBootstrapping(ep) {
			continue
		}
		load := 0.0
		if v, ok := c.gossiper.ApplicationStateValue(ep, gossip.StateLoad); ok {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				load = parsed
			}
		}
		if load > bestLoad {
			best, bestLoad = ep, load
		}
	}
	if bestLoad < 0 {
		logger.Infow("No live peer to balance against, keeping random token")
		return 0, false
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.RPCTimeout)
	defer cancel()
	splits, err := c.peers.GetSplits(callCtx, best, 2)
	if err != nil || len(splits) != 3 {
		logger.Warnw("Could not fetch splits, keeping random token", "peer", best.Host, "error", err)
		return 0, false
	}
	return splits[1], true
}
