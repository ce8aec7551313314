// Package systemtable persists the local node's ring position in a small JSON
// file that is replaced atomically on every change.
package systemtable

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/anthanhphan/go-distributed-kv/internal/node/domain"
	"github.com/anthanhphan/go-distributed-kv/internal/node/port"
	"github.com/anthanhphan/go-distributed-kv/pkg/ring"
	"github.com/anthanhphan/gosdk/logger"
)

// FileName is the record file inside the system directory.
const FileName = "local.json"

var _ port.SystemTable = (*Table)(nil)

var errNotLoaded = errors.New("system table not loaded")

type Table struct {
	dir string
	now func() time.Time

	mu     sync.Mutex
	meta   domain.LocalMetadata
	loaded bool
}

// New returns a table rooted at dir. Nothing is read until Load.
func New(dir string) *Table {
	return &Table{dir: dir, now: time.Now}
}

func (t *Table) path() string {
	return filepath.Join(t.dir, FileName)
}

// Load reads the record, creating it with initial() when absent. Every call
// advances the generation and persists it before returning.
func (t *Table) Load(initial func() (ring.Token, bool)) (domain.LocalMetadata, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(t.dir, 0o750); err != nil {
		return domain.LocalMetadata{}, fmt.Errorf("failed to create system directory: %w", err)
	}

	data, err := os.ReadFile(t.path())
	switch {
	case errors.Is(err, os.ErrNotExist):
		token, auto := initial()
		t.meta = domain.LocalMetadata{Token: token, AutoAssigned: auto}
		logger.Infow("Creating local system record", "token", token.String(), "auto_assigned", auto)
	case err != nil:
		return domain.LocalMetadata{}, fmt.Errorf("failed to read system record: %w", err)
	default:
		var meta domain.LocalMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			return domain.LocalMetadata{}, fmt.Errorf("failed to decode system record: %w", err)
		}
		t.meta = meta
	}

	gen := t.meta.Generation + 1
	if now := t.now().Unix(); now > gen {
		gen = now
	}
	t.meta.Generation = gen
	if t.meta.Peers == nil {
		t.meta.Peers = make(map[string]domain.PeerRecord)
	}

	if err := t.persistLocked(); err != nil {
		return domain.LocalMetadata{}, err
	}
	t.loaded = true
	return t.copyLocked(), nil
}

func (t *Table) UpdateLocalToken(token ring.Token) error {
	return t.update(func(m *domain.LocalMetadata) {
		m.Token = token
		m.AutoAssigned = false
	})
}

func (t *Table) UpdatePeerToken(ep ring.EndPoint, token ring.Token) error {
	return t.update(func(m *domain.LocalMetadata) {
		m.Peers[ep.Host] = domain.PeerRecord{EndPoint: ep, Token: token}
	})
}

func (t *Table) RemovePeer(ep ring.EndPoint) error {
	return t.update(func(m *domain.LocalMetadata) {
		delete(m.Peers, ep.Host)
	})
}

func (t *Table) SetBootstrapped(bootstrapped bool) error {
	return t.update(func(m *domain.LocalMetadata) {
		m.Bootstrapped = bootstrapped
	})
}

// Snapshot returns a copy of the in-memory record.
func (t *Table) Snapshot() domain.LocalMetadata {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.copyLocked()
}

// update applies fn to a copy and only adopts it once it is on disk.
func (t *Table) update(fn func(*domain.LocalMetadata)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.loaded {
		return errNotLoaded
	}

	prev := t.meta
	next := t.copyLocked()
	fn(&next)
	t.meta = next
	if err := t.persistLocked(); err != nil {
		t.meta = prev
		return err
	}
	return nil
}

func (t *Table) copyLocked() domain.LocalMetadata {
	out := t.meta
	out.Peers = make(map[string]domain.PeerRecord, len(t.meta.Peers))
	for k, v := range t.meta.Peers {
		out.Peers[k] = v
	}
	return out
}

// persistLocked writes temp, fsyncs, renames over the record and fsyncs the directory.
func (t *Table) persistLocked() error {
	data, err := json.MarshalIndent(t.meta, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(t.dir, FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp system record: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write system record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync system record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, t.path()); err != nil {
		return fmt.Errorf("failed to replace system record: %w", err)
	}

	dir, err := os.Open(t.dir)
	if err != nil {
		return err
	}
	defer func() { _ = dir.Close() }()
	return dir.Sync()
}
