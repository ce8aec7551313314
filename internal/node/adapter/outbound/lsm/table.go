package lsm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/anthanhphan/go-distributed-kv/internal/node/domain"
	"github.com/anthanhphan/go-distributed-kv/internal/node/port"
	"github.com/anthanhphan/gosdk/logger"
)

const (
	snapshotDir = "snapshots"
	compactDir  = ".compact"
)

var errTableClosed = errors.New("table closed")

// IndexEntry stores the location of the latest record of a key.
type IndexEntry struct {
	SegmentID uint64
	Offset    int64
	Size      int64
}

// table is one append-only segmented log with an in-memory key index.
// Every record holds the full merged row, so the newest record of a key
// is its current state.
type table struct {
	name                string
	dirPath             string
	fsync               bool
	maxSegmentSize      int64
	compactionThreshold int

	// fileMu serializes appends, rotation and compaction.
	fileMu       sync.Mutex
	indexMu      sync.RWMutex
	compactionMu sync.Mutex
	compacting   atomic.Bool

	activeFile   *os.File
	activeFileID uint64
	index        map[string]IndexEntry
}

func openTable(dataDir, name string, fsync bool, compactionThreshold int) (*table, error) {
	dir := filepath.Join(dataDir, name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create table directory: %w", err)
	}
	t := &table{
		name:                name,
		dirPath:             dir,
		fsync:               fsync,
		maxSegmentSize:      DefaultMaxSegmentSize,
		compactionThreshold: compactionThreshold,
		index:               make(map[string]IndexEntry),
	}
	// A leftover compaction directory belongs to an interrupted run.
	_ = os.RemoveAll(filepath.Join(dir, compactDir))

	if err := t.replayLogs(); err != nil {
		return nil, fmt.Errorf("failed to replay table %s: %w", name, err)
	}
	return t, nil
}

func (t *table) segmentPath(id uint64) string {
	return filepath.Join(t.dirPath, segmentName(id))
}

func (t *table) openActiveFileLocked() error {
	if t.activeFileID == 0 {
		t.activeFileID = 1
	}
	file, err := os.OpenFile(t.segmentPath(t.activeFileID), os.O_RDWR|os.O_CREATE, 0o600) // #nosec G304
	if err != nil {
		return err
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		_ = file.Close()
		return err
	}
	t.activeFile = file
	return nil
}

// replayLogs rebuilds the index from every segment in ID order.
func (t *table) replayLogs() error {
	ids, err := listSegments(t.dirPath)
	if err != nil {
		return err
	}

	t.index = make(map[string]IndexEntry)
	t.activeFileID = 1
	for _, id := range ids {
		if err := t.replaySegment(id); err != nil {
			return err
		}
		t.activeFileID = id
	}
	return t.openActiveFileLocked()
}

func (t *table) replaySegment(id uint64) error {
	file, err := os.OpenFile(t.segmentPath(id), os.O_RDWR, 0o600) // #nosec G304
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	valid, torn, err := scanRecords(file, func(key string, _ []byte, offset, size int64) error {
		t.index[key] = IndexEntry{SegmentID: id, Offset: offset, Size: size}
		return nil
	})
	if err != nil {
		return err
	}
	if torn {
		if err := file.Truncate(valid); err != nil {
			return fmt.Errorf("failed to truncate partial segment %d: %w", id, err)
		}
		logger.Warnw("Truncated partial segment tail during replay", "table", t.name, "segment_id", id, "valid_bytes", valid)
	}
	return nil
}

func (t *table) readEntry(entry IndexEntry) (*domain.Row, error) {
	f, err := os.Open(t.segmentPath(entry.SegmentID)) // #nosec G304
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	key, data, err := decodeRecordAt(f, entry.Offset, entry.Size)
	if err != nil {
		return nil, fmt.Errorf("segment %d offset %d: %w", entry.SegmentID, entry.Offset, err)
	}
	row := domain.NewRow(t.name, key)
	if err := json.Unmarshal(data, row); err != nil {
		return nil, fmt.Errorf("decode row %s: %w", key, err)
	}
	row.Table, row.Key = t.name, key
	return row, nil
}

// get returns the current row of key.
func (t *table) get(key string) (*domain.Row, error) {
	for attempt := 0; ; attempt++ {
		t.indexMu.RLock()
		entry, ok := t.index[key]
		t.indexMu.RUnlock()
		if !ok {
			return nil, port.ErrRowNotFound
		}

		row, err := t.readEntry(entry)
		// A compaction may have removed the segment after the lookup.
		if errors.Is(err, os.ErrNotExist) && attempt == 0 {
			continue
		}
		return row, err
	}
}

// apply merges m into the stored row and appends the result.
func (t *table) apply(m domain.Mutation) error {
	t.fileMu.Lock()
	defer t.fileMu.Unlock()
	if t.activeFile == nil {
		return errTableClosed
	}

	row := domain.NewRow(t.name, m.Key)
	t.indexMu.RLock()
	entry, exists := t.index[m.Key]
	t.indexMu.RUnlock()
	if exists {
		current, err := t.readEntry(entry)
		if err != nil {
			return err
		}
		row = current
	}
	if !row.Merge(m.Row()) && exists {
		return nil
	}
	return t.appendLocked(m.Key, row)
}

func (t *table) appendLocked(key string, row *domain.Row) error {
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	record, err := encodeRecord(key, data)
	if err != nil {
		return err
	}

	offset, err := t.activeFile.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if _, err := t.activeFile.Write(record); err != nil {
		return err
	}
	if t.fsync {
		if err := t.activeFile.Sync(); err != nil {
			return err
		}
	}

	t.indexMu.Lock()
	t.index[key] = IndexEntry{SegmentID: t.activeFileID, Offset: offset, Size: int64(len(record))}
	t.indexMu.Unlock()

	if offset+int64(len(record)) > t.maxSegmentSize {
		if err := t.rotateLocked(); err != nil {
			return fmt.Errorf("failed to rotate segment: %w", err)
		}
		t.maybeCompact()
	}
	return nil
}

func (t *table) rotateLocked() error {
	_ = t.activeFile.Sync()
	_ = t.activeFile.Close()
	t.activeFile = nil
	t.activeFileID++
	return t.openActiveFileLocked()
}

// maybeCompact starts a background compaction once the segment count passes
// the configured threshold.
func (t *table) maybeCompact() {
	if t.compactionThreshold <= 0 {
		return
	}
	ids, err := listSegments(t.dirPath)
	if err != nil || len(ids) <= t.compactionThreshold {
		return
	}
	if !t.compacting.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer t.compacting.Store(false)
		if err := t.compact(); err != nil {
			logger.Warnw("Background compaction failed", "table", t.name, "error", err.Error())
		}
	}()
}

// compact rewrites the live records into fresh segments and drops the old ones.
func (t *table) compact() error {
	t.compactionMu.Lock()
	defer t.compactionMu.Unlock()
	t.fileMu.Lock()
	defer t.fileMu.Unlock()
	return t.compactLocked()
}

func (t *table) compactLocked() error {
	if t.activeFile == nil {
		return errTableClosed
	}
	oldIDs, err := listSegments(t.dirPath)
	if err != nil {
		return err
	}
	oldActiveID := t.activeFileID
	logger.Infow("Compaction started", "table", t.name, "max_segment_id", oldActiveID)

	tmpDir := filepath.Join(t.dirPath, compactDir)
	if err := os.MkdirAll(tmpDir, 0o750); err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	t.indexMu.RLock()
	keys := make([]string, 0, len(t.index))
	snapshot := make(map[string]IndexEntry, len(t.index))
	for k, e := range t.index {
		keys = append(keys, k)
		snapshot[k] = e
	}
	t.indexMu.RUnlock()
	sort.Strings(keys)

	tmpPath := func(id uint64) string { return filepath.Join(tmpDir, segmentName(id)) }
	newIndex := make(map[string]IndexEntry, len(keys))
	curID := uint64(1)
	f, err := os.OpenFile(tmpPath(curID), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600) // #nosec G304
	if err != nil {
		return err
	}

	offset := int64(0)
	for _, key := range keys {
		entry := snapshot[key]
		src, err := os.Open(t.segmentPath(entry.SegmentID)) // #nosec G304
		if err != nil {
			_ = f.Close()
			return err
		}
		record := make([]byte, entry.Size)
		_, err = src.ReadAt(record, entry.Offset)
		_ = src.Close()
		if err != nil {
			_ = f.Close()
			return err
		}

		if _, err := f.Write(record); err != nil {
			_ = f.Close()
			return err
		}
		newIndex[key] = IndexEntry{SegmentID: curID, Offset: offset, Size: entry.Size}
		offset += entry.Size

		if offset > t.maxSegmentSize {
			if err := syncClose(f); err != nil {
				return err
			}
			curID++
			f, err = os.OpenFile(tmpPath(curID), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600) // #nosec G304
			if err != nil {
				return err
			}
			offset = 0
		}
	}
	if err := syncClose(f); err != nil {
		return err
	}

	// Publish compacted segments above the current active segment so a
	// replay after a crash still lets them win over the originals.
	base := oldActiveID
	for id := uint64(1); id <= curID; id++ {
		if err := os.Rename(tmpPath(id), t.segmentPath(base+id)); err != nil {
			return err
		}
	}
	for k, e := range newIndex {
		e.SegmentID += base
		newIndex[k] = e
	}

	_ = t.activeFile.Close()
	t.activeFile = nil
	t.activeFileID = base + curID + 1
	if err := t.openActiveFileLocked(); err != nil {
		return fmt.Errorf("failed to open new active file during compaction: %w", err)
	}

	t.indexMu.Lock()
	t.index = newIndex
	t.indexMu.Unlock()

	for _, id := range oldIDs {
		if id <= oldActiveID {
			_ = os.Remove(t.segmentPath(id))
		}
	}
	logger.Infow("Compaction finished", "table", t.name, "live_keys", len(newIndex), "segments", curID)
	return nil
}

func syncClose(f *os.File) error {
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// cleanup drops keys rejected by keep and compacts so they do not return on replay.
func (t *table) cleanup(keep func(string) bool) (int, error) {
	t.compactionMu.Lock()
	defer t.compactionMu.Unlock()
	t.fileMu.Lock()
	defer t.fileMu.Unlock()

	t.indexMu.Lock()
	removed := 0
	for key := range t.index {
		if !keep(key) {
			delete(t.index, key)
			removed++
		}
	}
	t.indexMu.Unlock()

	if removed == 0 {
		return 0, nil
	}
	if err := t.compactLocked(); err != nil {
		return removed, err
	}
	return removed, nil
}

func (t *table) flush() error {
	t.fileMu.Lock()
	defer t.fileMu.Unlock()
	if t.activeFile == nil {
		return errTableClosed
	}
	return t.activeFile.Sync()
}

// snapshot hard-links every segment under snapshots/<tag>.
func (t *table) snapshot(tag string) error {
	t.fileMu.Lock()
	defer t.fileMu.Unlock()
	if t.activeFile == nil {
		return errTableClosed
	}
	if err := t.activeFile.Sync(); err != nil {
		return err
	}

	dest := filepath.Join(t.dirPath, snapshotDir, tag)
	if err := os.MkdirAll(dest, 0o750); err != nil {
		return err
	}
	ids, err := listSegments(t.dirPath)
	if err != nil {
		return err
	}
	for _, id := range ids {
		target := filepath.Join(dest, segmentName(id))
		_ = os.Remove(target)
		if err := os.Link(t.segmentPath(id), target); err != nil {
			return fmt.Errorf("link segment %d: %w", id, err)
		}
	}
	logger.Infow("Snapshot taken", "table", t.name, "tag", tag, "segments", len(ids))
	return nil
}

func (t *table) clearSnapshots() error {
	return os.RemoveAll(filepath.Join(t.dirPath, snapshotDir))
}

// importSegment merges every row of a foreign segment file into the table.
func (t *table) importSegment(path string) (int, error) {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	rows := 0
	_, torn, err := scanRecords(f, func(key string, data []byte, _, _ int64) error {
		row := domain.NewRow(t.name, key)
		if err := json.Unmarshal(data, row); err != nil {
			return fmt.Errorf("decode row %s: %w", key, err)
		}
		row.Table, row.Key = t.name, key
		if row.IsEmpty() {
			return nil
		}
		rows++
		return t.apply(domain.MutationFromRow(row))
	})
	if err != nil {
		return rows, err
	}
	if torn {
		return rows, fmt.Errorf("segment %s is truncated or corrupt", filepath.Base(path))
	}
	return rows, nil
}

func (t *table) keys() []string {
	t.indexMu.RLock()
	defer t.indexMu.RUnlock()
	out := make([]string, 0, len(t.index))
	for k := range t.index {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (t *table) size() int64 {
	ids, err := listSegments(t.dirPath)
	if err != nil {
		return 0
	}
	var total int64
	for _, id := range ids {
		if info, err := os.Stat(t.segmentPath(id)); err == nil {
			total += info.Size()
		}
	}
	return total
}

func (t *table) close() error {
	t.fileMu.Lock()
	defer t.fileMu.Unlock()
	if t.activeFile == nil {
		return nil
	}
	_ = t.activeFile.Sync()
	err := t.activeFile.Close()
	t.activeFile = nil
	return err
}
