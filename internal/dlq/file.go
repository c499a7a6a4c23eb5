package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/telhawk-systems/gradersync/internal/logging"
	"github.com/telhawk-systems/gradersync/internal/model"
)

const filePrefix = "rejected_"

// FileQueue writes each rejected attempt as one JSON file in a directory.
type FileQueue struct {
	basePath string
	logger   *logging.Logger
	mu       sync.Mutex
	written  uint64
}

// NewFileQueue creates a DLQ that writes to the specified directory.
func NewFileQueue(basePath string, logger *logging.Logger) (*FileQueue, error) {
	if basePath == "" {
		basePath = "dlq"
	}
	if logger == nil {
		logger = logging.Discard()
	}

	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create dlq directory: %w", err)
	}

	return &FileQueue{basePath: basePath, logger: logger}, nil
}

// Write records a rejected attempt.
func (q *FileQueue) Write(ctx context.Context, rej model.Rejection) error {
	if q == nil {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := json.MarshalIndent(rej, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	// Timestamp first so a lexical listing is chronological.
	filename := fmt.Sprintf("%s%019d_%06d_%s.json", filePrefix, rej.Timestamp.UnixNano(), q.written, rej.Reason)
	if err := os.WriteFile(filepath.Join(q.basePath, filename), data, 0o644); err != nil {
		return fmt.Errorf("write dlq entry: %w", err)
	}

	q.written++
	q.logger.DebugContext(ctx, "dlq entry written", logging.File(filename), logging.Reason(rej.Reason))
	return nil
}

// List returns up to limit entries, oldest first. A limit of zero or less
// returns everything. Unreadable files are logged and skipped.
func (q *FileQueue) List(ctx context.Context, limit int) ([]model.Rejection, error) {
	if q == nil {
		return nil, ErrDisabled
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	names, err := q.entries()
	if err != nil {
		return nil, err
	}

	var out []model.Rejection
	for _, name := range names {
		if limit > 0 && len(out) >= limit {
			break
		}

		data, err := os.ReadFile(filepath.Join(q.basePath, name))
		if err != nil {
			q.logger.WarnContext(ctx, "failed to read dlq file", logging.File(name), logging.Error(err))
			continue
		}

		var rej model.Rejection
		if err := json.Unmarshal(data, &rej); err != nil {
			q.logger.WarnContext(ctx, "failed to parse dlq file", logging.File(name), logging.Error(err))
			continue
		}
		out = append(out, rej)
	}

	return out, nil
}

// Purge removes all entries and reports how many were deleted.
func (q *FileQueue) Purge(ctx context.Context) (int, error) {
	if q == nil {
		return 0, ErrDisabled
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	names, err := q.entries()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, name := range names {
		if err := os.Remove(filepath.Join(q.basePath, name)); err != nil {
			q.logger.WarnContext(ctx, "failed to delete dlq file", logging.File(name), logging.Error(err))
			continue
		}
		deleted++
	}

	q.logger.InfoContext(ctx, "dlq purged", logging.Count(deleted))
	return deleted, nil
}

// Stats returns DLQ counters.
func (q *FileQueue) Stats() map[string]any {
	if q == nil {
		return map[string]any{"enabled": false, "backend": BackendFile}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	stats := map[string]any{
		"enabled":   true,
		"backend":   BackendFile,
		"written":   q.written,
		"base_path": q.basePath,
	}
	names, err := q.entries()
	if err != nil {
		stats["error"] = err.Error()
		return stats
	}
	stats["pending_files"] = len(names)
	return stats
}

func (q *FileQueue) Close() error { return nil }

func (q *FileQueue) entries() ([]string, error) {
	files, err := os.ReadDir(q.basePath)
	if err != nil {
		return nil, fmt.Errorf("read dlq directory: %w", err)
	}

	var names []string
	for _, f := range files {
		if f.IsDir() || !strings.HasPrefix(f.Name(), filePrefix) || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		names = append(names, f.Name())
	}
	sort.Strings(names)
	return names, nil
}
