// Package store persists published state to local disk so a restart can
// serve the last known readings before any feed has produced data.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jonboulle/clockwork"

	"github.com/climbox/telemetry-engine/internal/domain"
)

const (
	latestFile   = "latest.json"
	exportPrefix = "sensorData_"
)

// FileCache keeps one directory per location under the cache root. Each
// location directory holds latest.json (the current CachedState, replaced
// atomically on every write) and dated sensorData_YYYY-MM-DD.json exports
// appended once per committed snapshot.
type FileCache struct {
	dir    string
	logger *slog.Logger
	clock  clockwork.Clock
}

// NewFileCache creates the cache root if needed.
func NewFileCache(dir string, logger *slog.Logger, clock clockwork.Clock) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileCache{dir: dir, logger: logger, clock: clock}, nil
}

// Write implements reconcile.Cache. The latest.json replacement is atomic
// (write to a temp file, then rename); the dated export append is
// best-effort and never fails the write.
func (c *FileCache) Write(_ context.Context, locationID string, state domain.CachedState) error {
	if !domain.ValidLocationID(locationID) {
		return fmt.Errorf("cache write: unsafe location id %q", locationID)
	}
	locDir := filepath.Join(c.dir, locationID)
	if err := os.MkdirAll(locDir, 0o755); err != nil {
		return fmt.Errorf("create location cache dir: %w", err)
	}

	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode cached state: %w", err)
	}

	tmp := filepath.Join(locDir, latestFile+".tmp")
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("write cached state: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(locDir, latestFile)); err != nil {
		return fmt.Errorf("replace cached state: %w", err)
	}

	if err := c.appendExport(locDir, state.Snapshot); err != nil {
		c.logger.Warn("dated export append failed", "location", locationID, "error", err)
	}
	return nil
}

// Read implements reconcile.Cache. A missing file is a cache miss, not an
// error; a corrupt file is an error so the caller can log it.
func (c *FileCache) Read(_ context.Context, locationID string) (*domain.CachedState, error) {
	if !domain.ValidLocationID(locationID) {
		return nil, fmt.Errorf("cache read: unsafe location id %q", locationID)
	}
	body, err := os.ReadFile(filepath.Join(c.dir, locationID, latestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cached state: %w", err)
	}

	var state domain.CachedState
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("decode cached state: %w", err)
	}
	return &state, nil
}

// appendExport appends the snapshot to today's export file as one JSON line.
func (c *FileCache) appendExport(locDir string, snap domain.Snapshot) error {
	name := exportPrefix + c.clock.Now().UTC().Format("2006-01-02") + ".json"
	f, err := os.OpenFile(filepath.Join(locDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	return enc.Encode(snap)
}
