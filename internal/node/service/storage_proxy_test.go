package service

import (
	"context"
	"testing"
	"time"

	"github.com/anthanhphan/go-distributed-kv/internal/node/domain"
	"github.com/anthanhphan/go-distributed-kv/internal/node/port"
	"github.com/anthanhphan/go-distributed-kv/pkg/ring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func col(name, value string, ts int64) domain.Column {
	return domain.Column{Name: name, Value: []byte(value), Timestamp: ts}
}

// fourNodeRing starts "a" at 10 and adds b, c and d at 20, 30 and 40.
func fourNodeRing(t *testing.T, rf int) *harness {
	t.Helper()
	h := newHarness(t, "a", rf)
	h.startLocal(t, "10")
	h.join("b", 20)
	h.join("c", 30)
	h.join("d", 40)
	return h
}

func TestInsert_HintsForDeadReplica(t *testing.T) {
	h := fourNodeRing(t, 3)
	h.gossip.setPeer(ep("c"), false, nil)

	m := domain.Mutation{Table: "default", Key: "5", Columns: []domain.Column{col("v", "1", 1)}}
	intended := ep("c")
	direct := make(chan struct{})
	hinted := make(chan struct{})

	h.peers.EXPECT().ApplyMutation(gomock.Any(), ep("b"), m, gomock.Nil()).
		DoAndReturn(func(context.Context, ring.EndPoint, domain.Mutation, *ring.EndPoint) error {
			close(direct)
			return nil
		})
	h.peers.EXPECT().ApplyMutation(gomock.Any(), ep("d"), m, &intended).
		DoAndReturn(func(context.Context, ring.EndPoint, domain.Mutation, *ring.EndPoint) error {
			close(hinted)
			return nil
		})

	require.NoError(t, h.dir.Insert(context.Background(), m, domain.ConsistencyQuorum))

	for _, ch := range []chan struct{}{direct, hinted} {
		select {
		case <-ch:
		case <-time.After(5 * time.Second):
			t.Fatal("replica write was not sent")
		}
	}
	require.Eventually(t, func() bool {
		_, err := h.engine.Read(context.Background(), "default", "5")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestInsert_Unavailable(t *testing.T) {
	h := fourNodeRing(t, 3)
	h.gossip.setPeer(ep("c"), false, nil)

	m := domain.Mutation{Table: "default", Key: "5", Columns: []domain.Column{col("v", "1", 1)}}
	err := h.dir.Insert(context.Background(), m, domain.ConsistencyAll)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestInsert_Validation(t *testing.T) {
	h := newHarness(t, "a", 1)
	h.startLocal(t, "10")

	err := h.dir.Insert(context.Background(), domain.Mutation{Table: "nope", Key: "1", Columns: []domain.Column{col("v", "1", 1)}}, domain.ConsistencyOne)
	assert.ErrorIs(t, err, port.ErrTableNotFound)

	err = h.dir.Insert(context.Background(), domain.Mutation{Table: "default", Key: "1"}, domain.ConsistencyOne)
	assert.ErrorIs(t, err, domain.ErrEmptyMutation)
}

func TestApplyLocal_StoresHintWhenAsked(t *testing.T) {
	h := newHarness(t, "a", 1)
	h.startLocal(t, "10")

	m := domain.Mutation{Table: "default", Key: "1", Columns: []domain.Column{col("v", "1", 1)}}
	target := ep("z")
	require.NoError(t, h.dir.ApplyLocal(context.Background(), m, &target))

	assert.Equal(t, 1, h.hints.count("z"))
	_, err := h.engine.Read(context.Background(), "default", "1")
	assert.ErrorIs(t, err, port.ErrRowNotFound, "hinted writes are not applied locally")
}

func TestRead_OneRepairsStaleReplicaInBackground(t *testing.T) {
	h := fourNodeRing(t, 3)
	h.engine.put("default", "5", col("v", "new", 2))
	local, err := h.engine.Read(context.Background(), "default", "5")
	require.NoError(t, err)

	stale := domain.NewRow("default", "5")
	stale.Columns["v"] = col("v", "old", 1)
	cmd := domain.ReadCommand{Table: "default", Key: "5"}
	repair := domain.Mutation{Table: "default", Key: "5", Columns: []domain.Column{col("v", "new", 2)}}

	h.peers.EXPECT().ReadDigest(gomock.Any(), ep("b"), cmd).Return(stale.Digest(), true, nil)
	h.peers.EXPECT().ReadDigest(gomock.Any(), ep("c"), cmd).Return(local.Digest(), true, nil)
	h.peers.EXPECT().ReadRow(gomock.Any(), ep("b"), cmd).Return(stale, nil)
	h.peers.EXPECT().ReadRow(gomock.Any(), ep("c"), cmd).Return(local, nil)
	h.peers.EXPECT().ApplyMutation(gomock.Any(), ep("b"), repair, gomock.Nil()).Return(nil)

	row, err := h.dir.Read(context.Background(), cmd, domain.ConsistencyOne)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), row.Columns["v"].Value)

	require.Eventually(t, func() bool {
		return h.dir.RepairStats().Repaired == 1
	}, 5*time.Second, 10*time.Millisecond)
	stats := h.dir.RepairStats()
	assert.Equal(t, int64(1), stats.Submitted)
	assert.Equal(t, int64(1), stats.Mismatches)
}

func TestRead_OneRepairsStaleSource(t *testing.T) {
	h := fourNodeRing(t, 3)
	h.engine.put("default", "5", col("v", "old", 1))
	local, err := h.engine.Read(context.Background(), "default", "5")
	require.NoError(t, err)

	fresh := domain.NewRow("default", "5")
	fresh.Columns["v"] = col("v", "new", 2)
	cmd := domain.ReadCommand{Table: "default", Key: "5"}
	repair := domain.Mutation{Table: "default", Key: "5", Columns: []domain.Column{col("v", "new", 2)}}

	// c agrees with the stale local copy, so only b exposes the divergence.
	h.peers.EXPECT().ReadDigest(gomock.Any(), ep("b"), cmd).Return(fresh.Digest(), true, nil)
	h.peers.EXPECT().ReadDigest(gomock.Any(), ep("c"), cmd).Return(local.Digest(), true, nil)
	h.peers.EXPECT().ReadRow(gomock.Any(), ep("b"), cmd).Return(fresh, nil)
	h.peers.EXPECT().ReadRow(gomock.Any(), ep("c"), cmd).Return(local, nil)
	h.peers.EXPECT().ApplyMutation(gomock.Any(), ep("c"), repair, gomock.Nil()).Return(nil)

	row, err := h.dir.Read(context.Background(), cmd, domain.ConsistencyOne)
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), row.Columns["v"].Value)

	require.Eventually(t, func() bool {
		return h.dir.RepairStats().Repaired == 2
	}, 5*time.Second, 10*time.Millisecond)

	repaired, err := h.engine.Read(context.Background(), "default", "5")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), repaired.Columns["v"].Value)
	stats := h.dir.RepairStats()
	assert.Equal(t, int64(1), stats.Mismatches)
	assert.Zero(t, stats.Failures)
}

func TestRead_QuorumMergesAndRepairsLocal(t *testing.T) {
	h := fourNodeRing(t, 3)
	h.engine.put("default", "5", col("v", "old", 1))
	cmd := domain.ReadCommand{Table: "default", Key: "5"}

	fresh := domain.NewRow("default", "5")
	fresh.Columns["v"] = col("v", "new", 2)

	h.peers.EXPECT().ReadRow(gomock.Any(), ep("b"), cmd).Return(fresh, nil).AnyTimes()
	h.peers.EXPECT().ReadRow(gomock.Any(), ep("c"), cmd).Return(nil, port.ErrRowNotFound).AnyTimes()
	h.peers.EXPECT().ReadDigest(gomock.Any(), ep("c"), cmd).Return(uint64(0), false, nil).AnyTimes()
	h.peers.EXPECT().ApplyMutation(gomock.Any(), ep("c"), gomock.Any(), gomock.Nil()).Return(nil).AnyTimes()

	row, err := h.dir.Read(context.Background(), cmd, domain.ConsistencyQuorum)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), row.Columns["v"].Value)

	require.Eventually(t, func() bool {
		r, err := h.engine.Read(context.Background(), "default", "5")
		return err == nil && string(r.Columns["v"].Value) == "new"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRead_QuorumUnavailable(t *testing.T) {
	h := fourNodeRing(t, 3)
	h.gossip.setPeer(ep("b"), false, nil)
	h.gossip.setPeer(ep("c"), false, nil)

	_, err := h.dir.Read(context.Background(), domain.ReadCommand{Table: "default", Key: "5"}, domain.ConsistencyQuorum)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRead_OneNotFound(t *testing.T) {
	h := fourNodeRing(t, 3)

	_, err := h.dir.Read(context.Background(), domain.ReadCommand{Table: "default", Key: "5"}, domain.ConsistencyOne)
	assert.ErrorIs(t, err, port.ErrRowNotFound)
}

func TestDigestLocal(t *testing.T) {
	h := newHarness(t, "a", 1)
	h.startLocal(t, "10")
	cmd := domain.ReadCommand{Table: "default", Key: "1"}

	_, found, err := h.dir.DigestLocal(context.Background(), cmd)
	require.NoError(t, err)
	assert.False(t, found)

	h.engine.put("default", "1", col("v", "x", 1))
	row, _ := h.engine.Read(context.Background(), "default", "1")
	digest, found, err := h.dir.DigestLocal(context.Background(), cmd)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, row.Digest(), digest)
}

func TestStageStats(t *testing.T) {
	h := newHarness(t, "a", 1)

	stats := h.dir.StageStats()
	names := make([]string, len(stats))
	for i, s := range stats {
		names[i] = s.Name
	}
	assert.Equal(t, []string{"mutation", "read", "consistency", "hints"}, names)
}
