package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/anthanhphan/go-distributed-kv/internal/node/domain"
	"github.com/anthanhphan/go-distributed-kv/internal/node/port"
	"github.com/anthanhphan/go-distributed-kv/pkg/ring"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/google/uuid"
)

// HandoffDir is the directory under the data root where incoming sessions
// are staged.
const HandoffDir = ".handoff"

// handoffService moves whole data files between nodes.
type handoffService struct {
	core *NodeDirectory
}

func newHandoffService(core *NodeDirectory) *handoffService {
	return &handoffService{core: core}
}

// forceHandoff sends every data file under directories to target in one
// session and blocks until target confirms.
func (s *handoffService) forceHandoff(ctx context.Context, directories []string, target ring.EndPoint) (domain.HandoffResult, error) {
	manifest, err := buildManifest(directories)
	if err != nil {
		return domain.HandoffResult{}, err
	}
	if len(manifest) == 0 {
		return domain.HandoffResult{}, ErrNothingToHandoff
	}

	var total int64
	for _, f := range manifest {
		total += f.Length
	}
	sessionID := uuid.NewString()
	logger.Infow("Starting handoff",
		"session", sessionID,
		"target", target.Host,
		"files", len(manifest),
		"bytes", total,
	)

	res, err := s.core.peers.Handoff(ctx, target, sessionID, manifest, func(path string) (io.ReadCloser, error) {
		return os.Open(path) // #nosec G304 -- path comes from the manifest built above
	})
	if err != nil {
		return domain.HandoffResult{}, fmt.Errorf("handoff %s to %s: %w", sessionID, target.Host, err)
	}
	logger.Infow("Handoff complete", "session", sessionID, "target", target.Host, "bytes", res.Bytes)
	return res, nil
}

// buildManifest lists dir/<table>/<file> for every directory. Hidden entries
// and nested directories are skipped.
func buildManifest(directories []string) ([]domain.HandoffFile, error) {
	var manifest []domain.HandoffFile
	for _, dir := range directories {
		tables, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("read handoff directory %s: %w", dir, err)
		}
		for _, table := range tables {
			if !table.IsDir() || strings.HasPrefix(table.Name(), ".") {
				continue
			}
			tableDir := filepath.Join(dir, table.Name())
			files, err := os.ReadDir(tableDir)
			if err != nil {
				return nil, fmt.Errorf("read table directory %s: %w", tableDir, err)
			}
			for _, f := range files {
				if !f.Type().IsRegular() || strings.HasPrefix(f.Name(), ".") {
					continue
				}
				info, err := f.Info()
				if err != nil {
					return nil, fmt.Errorf("stat %s: %w", f.Name(), err)
				}
				manifest = append(manifest, domain.HandoffFile{
					Path:   filepath.Join(tableDir, f.Name()),
					Length: info.Size(),
					Table:  table.Name(),
				})
			}
		}
	}
	sort.Slice(manifest, func(i, j int) bool { return manifest[i].Path < manifest[j].Path })
	return manifest, nil
}

// accept stages every manifest file, checks it arrived complete and only
// then imports the files into their tables.
func (s *handoffService) accept(ctx context.Context, sessionID string, manifest []domain.HandoffFile, next func() (domain.HandoffChunk, error)) (domain.HandoffResult, error) {
	if sessionID == "" || strings.ContainsAny(sessionID, `/\`) || sessionID == "." || sessionID == ".." {
		return domain.HandoffResult{}, fmt.Errorf("invalid handoff session id %q", sessionID)
	}
	for _, f := range manifest {
		if f.Length < 0 {
			return domain.HandoffResult{}, fmt.Errorf("manifest entry %s has negative length", f.Path)
		}
		if !s.core.engine.HasTable(f.Table) {
			return domain.HandoffResult{}, fmt.Errorf("table %s: %w", f.Table, port.ErrTableNotFound)
		}
	}

	staging := filepath.Join(s.core.engine.DataDir(), HandoffDir, sessionID)
	if err := os.MkdirAll(staging, 0o750); err != nil {
		return domain.HandoffResult{}, fmt.Errorf("create staging directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			logger.Warnw("Failed to remove handoff staging directory", "session", sessionID, "error", err)
		}
	}()

	paths := make([]string, len(manifest))
	files := make([]*os.File, len(manifest))
	written := make([]int64, len(manifest))
	defer func() {
		for _, f := range files {
			if f != nil {
				_ = f.Close()
			}
		}
	}()
	for i, entry := range manifest {
		paths[i] = filepath.Join(staging, fmt.Sprintf("%05d_%s", i, filepath.Base(entry.Path)))
		f, err := os.OpenFile(paths[i], os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640) // #nosec G304
		if err != nil {
			return domain.HandoffResult{}, fmt.Errorf("create staged file: %w", err)
		}
		files[i] = f
	}

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return domain.HandoffResult{}, err
		}
		chunk, err := next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.HandoffResult{}, fmt.Errorf("receive handoff chunk: %w", err)
		}
		if chunk.File < 0 || chunk.File >= len(manifest) {
			return domain.HandoffResult{}, fmt.Errorf("chunk references unknown file %d", chunk.File)
		}
		if written[chunk.File]+int64(len(chunk.Data)) > manifest[chunk.File].Length {
			return domain.HandoffResult{}, fmt.Errorf("file %s exceeds manifest length %d", manifest[chunk.File].Path, manifest[chunk.File].Length)
		}
		if _, err := files[chunk.File].Write(chunk.Data); err != nil {
			return domain.HandoffResult{}, fmt.Errorf("write staged file: %w", err)
		}
		written[chunk.File] += int64(len(chunk.Data))
		total += int64(len(chunk.Data))
	}

	for i, entry := range manifest {
		if written[i] != entry.Length {
			return domain.HandoffResult{}, fmt.Errorf("file %s incomplete: got %d of %d bytes", entry.Path, written[i], entry.Length)
		}
		if err := files[i].Sync(); err != nil {
			return domain.HandoffResult{}, fmt.Errorf("sync staged file: %w", err)
		}
	}

	byTable := make(map[string][]string)
	var tables []string
	for i, entry := range manifest {
		if _, ok := byTable[entry.Table]; !ok {
			tables = append(tables, entry.Table)
		}
		byTable[entry.Table] = append(byTable[entry.Table], paths[i])
	}
	sort.Strings(tables)
	for _, table := range tables {
		if err := s.core.engine.ImportSegments(table, byTable[table]); err != nil {
			return domain.HandoffResult{}, fmt.Errorf("import into %s: %w", table, err)
		}
	}

	logger.Infow("Accepted handoff", "session", sessionID, "files", len(manifest), "bytes", total)
	return domain.HandoffResult{SessionID: sessionID, Files: len(manifest), Bytes: total}, nil
}
