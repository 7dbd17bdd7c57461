// Package snapshot persists raw and normalized API payloads as named blobs.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// Well-known snapshot names.
const (
	StationsPath       = "stations.json"
	SensorIndexPath    = "sensors.json"
	LatestDataPath     = "data.json"
	HistoricalDataPath = "historical_data.json"
)

// ErrNotFound is returned by Load when nothing was saved under the path.
var ErrNotFound = errors.New("snapshot not found")

// Store saves and loads snapshot blobs by relative path.
type Store interface {
	// Save overwrites the blob stored under path.
	Save(ctx context.Context, path string, data []byte) error

	// Load returns the blob stored under path, or ErrNotFound.
	Load(ctx context.Context, path string) ([]byte, error)
}

// FileStoreConfig holds configuration for a FileStore.
type FileStoreConfig struct {
	// Root is the directory snapshot paths are resolved against (default: "database").
	Root string

	// Logger for persistence failures.
	Logger zerolog.Logger
}

// FileStore keeps snapshots as plain files below a root directory.
// Writes are serialized; the last writer of a path wins.
type FileStore struct {
	root   string
	logger zerolog.Logger

	mu sync.Mutex
}

// NewFileStore creates a file-backed store.
func NewFileStore(cfg FileStoreConfig) *FileStore {
	root := cfg.Root
	if root == "" {
		root = "database"
	}
	return &FileStore{
		root:   root,
		logger: cfg.Logger,
	}
}

// Root returns the directory the store writes to.
func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.root, path)
}

// Save creates missing parent directories and overwrites the file at path.
func (s *FileStore) Save(_ context.Context, path string, data []byte) error {
	full := s.resolve(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(full); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.logger.Error().Err(err).Str("dir", dir).Msg("cannot create snapshot directory")
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(full, data, 0o644); err != nil { //nolint:gosec // snapshots are not secret
		s.logger.Error().Err(err).Str("path", full).Msg("cannot write snapshot file")
		return fmt.Errorf("write %s: %w", full, err)
	}

	s.logger.Debug().Str("path", full).Int("bytes", len(data)).Msg("snapshot saved")
	return nil
}

// Load returns the full contents of the file at path.
func (s *FileStore) Load(_ context.Context, path string) ([]byte, error) {
	full := s.resolve(path)

	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug().Str("path", full).Msg("snapshot file does not exist")
			return nil, fmt.Errorf("%s: %w", full, ErrNotFound)
		}
		s.logger.Error().Err(err).Str("path", full).Msg("cannot read snapshot file")
		return nil, fmt.Errorf("read %s: %w", full, err)
	}
	return data, nil
}
