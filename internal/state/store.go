// Package state persists the dashboard's last-used view between runs.
//
// The snapshot is a small YAML document. Writers take an exclusive lock on
// a sidecar "<path>.lock" file so two dashboards sharing a state file do
// not interleave writes; readers take a shared lock.
package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

// ErrNoState is returned by Load when no snapshot has been saved yet.
var ErrNoState = errors.New("no saved state")

// ErrLocked is returned when the lock cannot be acquired before the
// context ends.
var ErrLocked = errors.New("state file is locked")

const lockRetryDelay = 50 * time.Millisecond

// Snapshot is the persisted view.
type Snapshot struct {
	Profile    string    `yaml:"profile"`
	ZoomFactor float64   `yaml:"zoom_factor"`
	PageSize   int       `yaml:"page_size"`
	Metrics    []string  `yaml:"metrics,omitempty"`
	Live       bool      `yaml:"live,omitempty"`
	SavedAt    time.Time `yaml:"saved_at"`
}

// Store reads and writes one snapshot file.
type Store struct {
	path string
	lock *flock.Flock
}

// NewStore creates a store for path. Nothing is touched on disk until
// Load or Save.
func NewStore(path string) *Store {
	return &Store{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the snapshot path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the snapshot under a shared lock.
func (s *Store) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return snap, ErrNoState
	}

	ok, err := s.lock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil && ctx.Err() != nil {
		return snap, fmt.Errorf("%w: %v", ErrLocked, err)
	}
	if err != nil {
		return snap, fmt.Errorf("lock %s: %w", s.lock.Path(), err)
	}
	if !ok {
		return snap, ErrLocked
	}
	defer s.lock.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return snap, ErrNoState
		}
		return snap, fmt.Errorf("read state: %w", err)
	}
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("parse state %s: %w", s.path, err)
	}
	return snap, nil
}

// Save writes snap under an exclusive lock. The file is replaced
// atomically via a temp file and rename.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now().UTC()
	}
	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	ok, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrLocked, err)
	}
	if err != nil {
		return fmt.Errorf("lock %s: %w", s.lock.Path(), err)
	}
	if !ok {
		return ErrLocked
	}
	defer s.lock.Unlock()

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// DefaultPath returns the per-user snapshot path, or "" when no config
// directory is available.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "go-plant-trends", "state.yaml")
}
