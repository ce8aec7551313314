package port

import (
	"context"

	"github.com/anthanhphan/go-distributed-kv/internal/node/domain"
)

//go:generate mockgen -destination=../service/mocks/hints_mock.go -package=mocks -source=hints.go

// HintStore holds writes for unreachable replicas.
type HintStore interface {
	Add(ctx context.Context, h domain.Hint) error
	// List returns hints for target host ordered by ID.
	List(ctx context.Context, target string) ([]domain.Hint, error)
	Delete(ctx context.Context, target string, ids []int64) error
	// Targets lists hosts with pending hints.
	Targets(ctx context.Context) ([]string, error)
}
