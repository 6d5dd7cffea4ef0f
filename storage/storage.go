// Package storage keeps tree snapshots taken before destructive resets.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/docutag/curator/models"
	"github.com/docutag/curator/slug"
)

// ErrNotFound is returned when a snapshot key does not exist
var ErrNotFound = errors.New("snapshot not found")

// Store persists folder tree snapshots
type Store interface {
	// SaveSnapshot stores root and returns its key
	SaveSnapshot(ctx context.Context, name string, root *models.FolderNode) (string, error)
	ReadSnapshot(ctx context.Context, key string) (*models.FolderNode, error)
	DeleteSnapshot(ctx context.Context, key string) error
}

// Config locates the snapshot directory
type Config struct {
	BasePath string
}

func DefaultConfig() Config {
	return Config{BasePath: "./storage"}
}

// Storage keeps snapshots as JSON files under a base directory
type Storage struct {
	base string
	now  func() time.Time
}

// New creates the base directory if needed
func New(config Config) (*Storage, error) {
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory %s: %w", config.BasePath, err)
	}
	return &Storage{base: config.BasePath, now: time.Now}, nil
}

// snapshotKey builds snapshots/YYYY/MM/<slug>-<timestamp>
func snapshotKey(name string, now time.Time) string {
	s := slug.GenerateWithFallback(name, "bookmarks")
	return path.Join("snapshots", now.Format("2006"), now.Format("01"), s+"-"+now.UTC().Format("20060102T150405Z"))
}

// resolve maps a key to a file below the base directory
func (s *Storage) resolve(key string) (string, error) {
	rel := filepath.FromSlash(key)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: invalid key %q", ErrNotFound, key)
	}
	return filepath.Join(s.base, rel), nil
}

// SaveSnapshot writes root as JSON and returns its slash-separated key.
// Two snapshots of the same name in the same second get -1, -2 suffixes.
func (s *Storage) SaveSnapshot(ctx context.Context, name string, root *models.FolderNode) (string, error) {
	data, err := json.Marshal(root)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	base := snapshotKey(name, s.now())
	if err := os.MkdirAll(filepath.Join(s.base, filepath.FromSlash(path.Dir(base))), 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	for n := 0; ; n++ {
		key := slug.MakeUnique(base, n) + ".json"
		f, err := os.OpenFile(filepath.Join(s.base, filepath.FromSlash(key)), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create snapshot file: %w", err)
		}
		_, werr := f.Write(data)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return "", fmt.Errorf("failed to write snapshot file: %w", werr)
		}
		return key, nil
	}
}

func (s *Storage) ReadSnapshot(ctx context.Context, key string) (*models.FolderNode, error) {
	file, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(file)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	return decodeSnapshot(data)
}

// DeleteSnapshot removes the file; a missing file is not an error
func (s *Storage) DeleteSnapshot(ctx context.Context, key string) error {
	file, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete snapshot file: %w", err)
	}
	return nil
}

func decodeSnapshot(data []byte) (*models.FolderNode, error) {
	var root models.FolderNode
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &root, nil
}
