package port

import (
	"context"

	"github.com/anthanhphan/go-distributed-kv/internal/node/domain"
	"github.com/anthanhphan/go-distributed-kv/pkg/resilience"
	"github.com/anthanhphan/go-distributed-kv/pkg/ring"
)

// PeerService is what inbound peer RPCs are served from.
type PeerService interface {
	ApplyLocal(ctx context.Context, m domain.Mutation, hintFor *ring.EndPoint) error
	ReadLocal(ctx context.Context, cmd domain.ReadCommand) (*domain.Row, error)
	DigestLocal(ctx context.Context, cmd domain.ReadCommand) (uint64, bool, error)
	GetSplits(n int) ([]ring.Token, error)
	StreamRanges(ctx context.Context, ranges []ring.Range, fn func(*domain.Row) error) error
	AcceptHandoff(ctx context.Context, sessionID string, manifest []domain.HandoffFile, next func() (domain.HandoffChunk, error)) (domain.HandoffResult, error)
	Partitioner() ring.Partitioner
}

// ManagementService is the administrative surface of a node.
type ManagementService interface {
	Insert(ctx context.Context, m domain.Mutation, level domain.ConsistencyLevel) error
	Read(ctx context.Context, cmd domain.ReadCommand, level domain.ConsistencyLevel) (*domain.Row, error)

	Token() ring.Token
	State() domain.NodeState
	Generation() int64
	LiveNodes() []ring.EndPoint
	UnreachableNodes() []ring.EndPoint
	LoadMap() map[string]string
	RangeToEndPointMap() map[string][]ring.EndPoint
	PrimaryOwner(key []byte) (ring.EndPoint, error)
	ReadEndpoints(key []byte) []ring.EndPoint
	GetSplits(n int) ([]ring.Token, error)
	RepairStats() domain.RepairStats
	StageStats() []resilience.PoolStats
	PeerBreakers() map[string]resilience.BreakerStats

	ForceTableCleanup(ctx context.Context) error
	ForceTableCompaction(ctx context.Context) error
	ForceTableFlush(table string) error
	TakeSnapshot(table, tag string) error
	TakeAllSnapshot(tag string) error
	ClearSnapshot() error
	ForceHandoff(ctx context.Context, directories []string, target ring.EndPoint) (domain.HandoffResult, error)
	UpdateToken(token ring.Token) error
	RemoveTokenState(host string) error
}
