package port

import (
	"context"
	"io"

	"github.com/anthanhphan/go-distributed-kv/internal/node/domain"
	"github.com/anthanhphan/go-distributed-kv/pkg/resilience"
	"github.com/anthanhphan/go-distributed-kv/pkg/ring"
)

//go:generate mockgen -destination=../service/mocks/peer_mock.go -package=mocks -source=peer.go

// PeerClient calls other nodes.
type PeerClient interface {
	// ApplyMutation writes m on target. A non-nil hintFor asks target to hold
	// the write for that endpoint instead of applying it.
	ApplyMutation(ctx context.Context, target ring.EndPoint, m domain.Mutation, hintFor *ring.EndPoint) error

	// ReadRow returns the row stored on target, or ErrRowNotFound.
	ReadRow(ctx context.Context, target ring.EndPoint, cmd domain.ReadCommand) (*domain.Row, error)

	// ReadDigest returns the digest of the row on target and whether it exists.
	ReadDigest(ctx context.Context, target ring.EndPoint, cmd domain.ReadCommand) (uint64, bool, error)

	// GetSplits asks target to split its primary range into n pieces.
	GetSplits(ctx context.Context, target ring.EndPoint, n int) ([]ring.Token, error)

	// FetchRange streams every row target holds inside ranges into fn.
	FetchRange(ctx context.Context, source ring.EndPoint, ranges []ring.Range, fn func(*domain.Row) error) error

	// Handoff transfers the manifest files to target in one session and blocks
	// until target reports completion.
	Handoff(ctx context.Context, target ring.EndPoint, sessionID string, manifest []domain.HandoffFile, open func(path string) (io.ReadCloser, error)) (domain.HandoffResult, error)

	// Forget drops cached connection state for ep.
	Forget(ep ring.EndPoint)

	// BreakerStats reports the circuit breaker of every peer called so far.
	BreakerStats() map[string]resilience.BreakerStats

	Close() error
}
