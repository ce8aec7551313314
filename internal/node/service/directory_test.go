package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthanhphan/go-distributed-kv/internal/node/domain"
	"github.com/anthanhphan/go-distributed-kv/pkg/gossip"
	"github.com/anthanhphan/go-distributed-kv/pkg/ring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestStart_SeedJoinsAsNormal(t *testing.T) {
	h := newHarness(t, "a", 1)
	h.startLocal(t, "10")

	assert.Equal(t, domain.NodeStateNormal, h.dir.State())
	assert.Equal(t, ring.Token(10), h.dir.Token())
	assert.Equal(t, int64(1), h.dir.Generation())

	owner, ok := h.dir.RingMetadata().EndPoint(10)
	require.True(t, ok)
	assert.Equal(t, "a", owner.Host)
	assert.False(t, h.dir.RingMetadata().IsBootstrapping(ep("a")))

	v, ok := h.gossip.localState(gossip.StateToken)
	require.True(t, ok)
	assert.Equal(t, "10", v)
	_, ok = h.gossip.localState(gossip.StateBootstrapMode)
	assert.False(t, ok)
	_, ok = h.gossip.localState(gossip.StateLoad)
	assert.True(t, ok)

	assert.Equal(t, ring.Token(10), h.system.snapshot().Token)
	assert.NotNil(t, h.gossip.sub)
	assert.Error(t, h.dir.Start(context.Background()), "second start must fail")
}

func TestStart_RestartPreloadsPersistedPeers(t *testing.T) {
	h := newHarness(t, "a", 1)
	h.system.exists = true
	h.system.meta = domain.LocalMetadata{
		Token:        10,
		Generation:   4,
		Bootstrapped: true,
		Peers: map[string]domain.PeerRecord{
			"b": {EndPoint: ep("b"), Token: 20},
		},
	}
	h.dir.opts.AutoBootstrap = true

	require.NoError(t, h.dir.Start(context.Background()))

	assert.Equal(t, domain.NodeStateNormal, h.dir.State())
	assert.Equal(t, int64(5), h.dir.Generation())
	assert.Equal(t, int64(5), h.gossip.generation)
	tok, ok := h.dir.RingMetadata().Token(ep("b"))
	require.True(t, ok)
	assert.Equal(t, ring.Token(20), tok)
}

func TestStart_BootstrapStreamsRangesThenTurnsNormal(t *testing.T) {
	h := newHarness(t, "a", 1)
	h.system.exists = true
	h.system.meta = domain.LocalMetadata{
		Token: 25,
		Peers: map[string]domain.PeerRecord{
			"b": {EndPoint: ep("b"), Token: 10},
			"c": {EndPoint: ep("c"), Token: 20},
			"d": {EndPoint: ep("d"), Token: 30},
		},
	}
	for _, host := range []string{"b", "c", "d"} {
		h.gossip.setPeer(ep(host), true, nil)
	}
	h.dir.opts.AutoBootstrap = true

	streamed := domain.NewRow("default", "22")
	streamed.Columns["v"] = domain.Column{Name: "v", Value: []byte("x"), Timestamp: 1}

	gomock.InOrder(
		h.peers.EXPECT().
			FetchRange(gomock.Any(), ep("d"), []ring.Range{{Left: 20, Right: 25}}, gomock.Any()).
			Return(errors.New("connection refused")),
		h.peers.EXPECT().
			FetchRange(gomock.Any(), ep("d"), []ring.Range{{Left: 20, Right: 25}}, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ ring.EndPoint, _ []ring.Range, fn func(*domain.Row) error) error {
				return fn(streamed)
			}),
	)

	require.NoError(t, h.dir.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.dir.WaitBootstrapped(ctx))

	assert.Equal(t, domain.NodeStateNormal, h.dir.State())
	assert.False(t, h.dir.RingMetadata().IsBootstrapping(ep("a")))
	_, ok := h.gossip.localState(gossip.StateBootstrapMode)
	assert.False(t, ok)

	meta := h.system.snapshot()
	assert.True(t, meta.Bootstrapped)
	assert.Equal(t, 1, h.system.bootstrappedSets)
	assert.Equal(t, ring.Token(25), meta.Token)

	row, err := h.engine.Read(context.Background(), "default", "22")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), row.Columns["v"].Value)
}

func TestStop_WaitsForBootstrapStreams(t *testing.T) {
	h := newHarness(t, "a", 1)
	h.system.exists = true
	h.system.meta = domain.LocalMetadata{
		Token: 25,
		Peers: map[string]domain.PeerRecord{
			"d": {EndPoint: ep("d"), Token: 30},
		},
	}
	h.gossip.setPeer(ep("d"), true, nil)
	h.dir.opts.AutoBootstrap = true

	entered := make(chan struct{})
	var returned atomic.Bool
	h.peers.EXPECT().
		FetchRange(gomock.Any(), ep("d"), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ ring.EndPoint, _ []ring.Range, _ func(*domain.Row) error) error {
			close(entered)
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			returned.Store(true)
			return ctx.Err()
		})

	require.NoError(t, h.dir.Start(context.Background()))
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("bootstrap stream did not start")
	}

	h.dir.Stop()
	assert.True(t, returned.Load(), "Stop returned while a stream was still running")
	assert.Equal(t, domain.NodeStateBootstrapping, h.dir.State())
}

func TestStart_BootstrapPicksBalancedToken(t *testing.T) {
	h := newHarness(t, "a", 1)
	h.system.exists = true
	h.system.meta = domain.LocalMetadata{
		Token:        999,
		AutoAssigned: true,
		Peers: map[string]domain.PeerRecord{
			"b": {EndPoint: ep("b"), Token: 10},
			"c": {EndPoint: ep("c"), Token: 20},
		},
	}
	h.gossip.setPeer(ep("b"), true, map[string]string{gossip.StateLoad: "100"})
	h.gossip.setPeer(ep("c"), true, map[string]string{gossip.StateLoad: "500"})
	h.dir.opts.AutoBootstrap = true

	h.peers.EXPECT().GetSplits(gomock.Any(), ep("c"), 2).Return([]ring.Token{10, 15, 20}, nil)
	h.peers.EXPECT().
		FetchRange(gomock.Any(), ep("c"), []ring.Range{{Left: 10, Right: 15}}, gomock.Any()).
		Return(nil)

	require.NoError(t, h.dir.Start(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.dir.WaitBootstrapped(ctx))

	assert.Equal(t, ring.Token(15), h.dir.Token())
	assert.Equal(t, ring.Token(15), h.system.snapshot().Token)
	v, _ := h.gossip.localState(gossip.StateToken)
	assert.Equal(t, "15", v)
	_, ok := h.dir.RingMetadata().EndPoint(999)
	assert.False(t, ok, "random token must be released")
}

func TestBootstrap_CompletesExactlyOnce(t *testing.T) {
	h := newHarness(t, "a", 1)
	local := ep("a")
	h.dir.local.Store(&local)
	h.dir.token.Store(25)
	h.dir.RingMetadata().Update(25, local, true)

	b := h.dir.bootstrap
	sources := []bootstrapSource{{endpoint: ep("b")}, {endpoint: ep("c")}, {endpoint: ep("d")}}
	b.start(sources)

	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.removeSource(sources[i%len(sources)].endpoint)
		}(i)
	}
	wg.Wait()

	select {
	case <-b.done:
	default:
		t.Fatal("bootstrap did not complete")
	}
	assert.Equal(t, 1, h.system.bootstrappedSets)
	assert.Equal(t, domain.NodeStateNormal, h.dir.State())
	assert.False(t, h.dir.RingMetadata().IsBootstrapping(local))
}

func TestBootstrap_DoesNotCompleteBeforeArmed(t *testing.T) {
	h := newHarness(t, "a", 1)
	local := ep("a")
	h.dir.local.Store(&local)

	b := h.dir.bootstrap
	b.addSource(ep("b"))
	b.removeSource(ep("b"))
	assert.Equal(t, 0, h.system.bootstrappedSets)

	b.start(nil)
	assert.Equal(t, 1, h.system.bootstrappedSets)
}

func TestOnChange_JoinMoveAndPromote(t *testing.T) {
	h := newHarness(t, "a", 3)
	h.startLocal(t, "10")
	h.gossip.setPeer(ep("b"), true, nil)

	pending := tokenState("20")
	pending.States[gossip.StateBootstrapMode] = gossip.ApplicationState{Value: "true", Version: 2}
	h.dir.membership.OnChange(ep("b"), pending)

	assert.True(t, h.dir.RingMetadata().IsBootstrapping(ep("b")))
	_, persisted := h.system.snapshot().Peers["b"]
	assert.False(t, persisted, "bootstrapping tokens are not persisted")

	h.dir.membership.OnChange(ep("b"), tokenState("20"))
	assert.False(t, h.dir.RingMetadata().IsBootstrapping(ep("b")))
	assert.Equal(t, ring.Token(20), h.system.snapshot().Peers["b"].Token)

	h.dir.membership.OnChange(ep("b"), tokenState("25"))
	tok, _ := h.dir.RingMetadata().Token(ep("b"))
	assert.Equal(t, ring.Token(25), tok)
	_, ok := h.dir.RingMetadata().EndPoint(20)
	assert.False(t, ok)
	assert.Equal(t, ring.Token(25), h.system.snapshot().Peers["b"].Token)
}

func TestOnChange_IgnoresLocalEndPoint(t *testing.T) {
	h := newHarness(t, "a", 1)
	h.startLocal(t, "10")

	h.dir.membership.OnChange(ep("a"), tokenState("99"))

	assert.Equal(t, []ring.Token{10}, h.dir.RingMetadata().Snapshot().SortedTokens())
}

func TestOnChange_RecoveryDeliversHints(t *testing.T) {
	h := newHarness(t, "a", 3)
	h.startLocal(t, "10")
	h.gossip.setPeer(ep("b"), true, nil)
	h.dir.membership.OnChange(ep("b"), tokenState("20"))

	m := domain.Mutation{Table: "default", Key: "15", Columns: []domain.Column{{Name: "v", Value: []byte("1"), Timestamp: 1}}}
	require.NoError(t, h.dir.hints.store(context.Background(), ep("b"), m))
	require.Equal(t, 1, h.hints.count("b"))

	h.dir.membership.OnChange(ep("b"), gossip.EndPointState{Alive: false})
	assert.True(t, h.dir.membership.isUnreachable(ep("b")))

	delivered := make(chan struct{})
	h.peers.EXPECT().ApplyMutation(gomock.Any(), ep("b"), m, gomock.Nil()).
		DoAndReturn(func(context.Context, ring.EndPoint, domain.Mutation, *ring.EndPoint) error {
			close(delivered)
			return nil
		})

	h.dir.membership.OnChange(ep("b"), gossip.EndPointState{Alive: true})
	assert.False(t, h.dir.membership.isUnreachable(ep("b")))

	select {
	case <-delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("hint was not delivered")
	}
	require.Eventually(t, func() bool { return h.hints.count("b") == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestOnChange_PersistFailureIsFatal(t *testing.T) {
	h := newHarness(t, "a", 1)
	h.startLocal(t, "10")
	h.system.failWith = errors.New("disk full")

	h.dir.membership.OnChange(ep("c"), tokenState("30"))

	select {
	case err := <-h.fatals:
		assert.ErrorContains(t, err, "disk full")
	default:
		t.Fatal("expected fatal handler to run")
	}
	assert.False(t, h.dir.RingMetadata().IsKnownEndPoint(ep("c")))
}
