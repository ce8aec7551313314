package port

import (
	"context"
	"errors"

	"github.com/anthanhphan/go-distributed-kv/internal/node/domain"
	"github.com/anthanhphan/go-distributed-kv/pkg/ring"
)

var (
	ErrRowNotFound   = errors.New("row not found")
	ErrTableNotFound = errors.New("table does not exist")
)

// StorageEngine is the local row store.
type StorageEngine interface {
	// Apply merges m into the stored row.
	Apply(ctx context.Context, m domain.Mutation) error

	// Read returns the stored row, or ErrRowNotFound.
	Read(ctx context.Context, table, key string) (*domain.Row, error)

	// Tables lists the tables known to the engine.
	Tables() []string
	HasTable(table string) bool

	// IndexedKeys returns every stored key across tables, sorted and deduplicated.
	IndexedKeys() []string

	// ScanRanges calls fn for each stored row whose key token falls in any of ranges.
	ScanRanges(ctx context.Context, ranges []ring.Range, tokenFor func([]byte) ring.Token, fn func(*domain.Row) error) error

	Flush(table string) error
	Compact(table string) error

	// Cleanup removes rows of table for which keep returns false.
	Cleanup(table string, keep func(key string) bool) (int, error)

	// Snapshot hard-links the current segments of table under tag.
	Snapshot(table, tag string) error
	ClearSnapshots() error

	// ImportSegments merges the rows of foreign segment files into table.
	ImportSegments(table string, paths []string) error

	// DataDir is the root holding one directory per table.
	DataDir() string

	// Load is the number of bytes stored on disk.
	Load() int64

	Close() error
}

// SystemTable persists the local node's ring position.
type SystemTable interface {
	// Load reads the record, creating it with initial() when absent, and
	// advances the generation.
	Load(initial func() (ring.Token, bool)) (domain.LocalMetadata, error)
	UpdateLocalToken(token ring.Token) error
	UpdatePeerToken(ep ring.EndPoint, token ring.Token) error
	RemovePeer(ep ring.EndPoint) error
	SetBootstrapped(bootstrapped bool) error
}
