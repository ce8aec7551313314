package lsm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/anthanhphan/go-distributed-kv/internal/node/config"
	"github.com/anthanhphan/go-distributed-kv/internal/node/domain"
	"github.com/anthanhphan/go-distributed-kv/internal/node/port"
	"github.com/anthanhphan/go-distributed-kv/pkg/ring"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/hashicorp/go-multierror"
)

var _ port.StorageEngine = (*Engine)(nil)

// Engine stores the rows of a fixed set of tables, one segmented log per table.
type Engine struct {
	dataDir string
	names   []string
	tables  map[string]*table
}

// NewEngine opens or creates every configured table under cfg.DataDir.
func NewEngine(cfg config.StorageConfig) (*Engine, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	e := &Engine{dataDir: cfg.DataDir, tables: make(map[string]*table, len(cfg.Tables))}
	for _, name := range cfg.Tables {
		if err := validTableName(name); err != nil {
			_ = e.Close()
			return nil, err
		}
		if _, dup := e.tables[name]; dup {
			continue
		}
		t, err := openTable(cfg.DataDir, name, cfg.FSync, cfg.CompactionThreshold)
		if err != nil {
			_ = e.Close()
			return nil, err
		}
		e.tables[name] = t
		e.names = append(e.names, name)
	}
	sort.Strings(e.names)

	logger.Infow("Storage engine opened", "data_dir", cfg.DataDir, "tables", e.names)
	return e, nil
}

func validTableName(name string) error {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) || name == snapshotDir {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

func (e *Engine) table(name string) (*table, error) {
	t, ok := e.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", port.ErrTableNotFound, name)
	}
	return t, nil
}

func (e *Engine) Apply(ctx context.Context, m domain.Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return err
	}
	t, err := e.table(m.Table)
	if err != nil {
		return err
	}
	return t.apply(m)
}

func (e *Engine) Read(ctx context.Context, tableName, key string) (*domain.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := e.table(tableName)
	if err != nil {
		return nil, err
	}
	return t.get(key)
}

func (e *Engine) Tables() []string {
	return append([]string(nil), e.names...)
}

func (e *Engine) HasTable(name string) bool {
	_, ok := e.tables[name]
	return ok
}

func (e *Engine) IndexedKeys() []string {
	seen := make(map[string]struct{})
	for _, name := range e.names {
		for _, k := range e.tables[name].keys() {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) ScanRanges(ctx context.Context, ranges []ring.Range, tokenFor func([]byte) ring.Token, fn func(*domain.Row) error) error {
	for _, name := range e.names {
		t := e.tables[name]
		for _, key := range t.keys() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !inAnyRange(tokenFor([]byte(key)), ranges) {
				continue
			}
			row, err := t.get(key)
			if errors.Is(err, port.ErrRowNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if err := fn(row); err != nil {
				return err
			}
		}
	}
	return nil
}

func inAnyRange(tok ring.Token, ranges []ring.Range) bool {
	for _, r := range ranges {
		if r.Contains(tok) {
			return true
		}
	}
	return false
}

func (e *Engine) Flush(name string) error {
	t, err := e.table(name)
	if err != nil {
		return err
	}
	return t.flush()
}

func (e *Engine) Compact(name string) error {
	t, err := e.table(name)
	if err != nil {
		return err
	}
	return t.compact()
}

func (e *Engine) Cleanup(name string, keep func(key string) bool) (int, error) {
	t, err := e.table(name)
	if err != nil {
		return 0, err
	}
	return t.cleanup(keep)
}

func (e *Engine) Snapshot(name, tag string) error {
	if tag == "" || strings.ContainsAny(tag, `/\`) || tag == "." || tag == ".." {
		return fmt.Errorf("invalid snapshot tag %q", tag)
	}
	t, err := e.table(name)
	if err != nil {
		return err
	}
	return t.snapshot(tag)
}

func (e *Engine) ClearSnapshots() error {
	var result error
	for _, name := range e.names {
		if err := e.tables[name].clearSnapshots(); err != nil {
			result = multierror.Append(result, fmt.Errorf("table %s: %w", name, err))
		}
	}
	return result
}

func (e *Engine) ImportSegments(name string, paths []string) error {
	t, err := e.table(name)
	if err != nil {
		return err
	}
	total := 0
	for _, p := range paths {
		n, err := t.importSegment(p)
		total += n
		if err != nil {
			return fmt.Errorf("import %s: %w", filepath.Base(p), err)
		}
	}
	logger.Infow("Imported segments", "table", name, "files", len(paths), "rows", total)
	return nil
}

func (e *Engine) DataDir() string {
	return e.dataDir
}

func (e *Engine) Load() int64 {
	var total int64
	for _, name := range e.names {
		total += e.tables[name].size()
	}
	return total
}

func (e *Engine) Close() error {
	var result error
	for _, name := range e.names {
		if err := e.tables[name].close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("table %s: %w", name, err))
		}
	}
	return result
}
