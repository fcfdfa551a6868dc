// Package localfs persists project snapshots as one JSON file per project.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
	"github.com/kirillkom/construction-pipeline/internal/core/ports"
)

const lockRetryDelay = 25 * time.Millisecond

type SnapshotStore struct {
	dir string
}

var (
	_ ports.SnapshotStore = (*SnapshotStore)(nil)
	_ ports.ProjectLocker = (*SnapshotStore)(nil)
)

func NewSnapshotStore(dir string) (*SnapshotStore, error) {
	if dir == "" {
		dir = "./data/projects"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &SnapshotStore{dir: dir}, nil
}

func (s *SnapshotStore) file(projectID, ext string) (string, error) {
	if err := domain.ValidateProjectID(projectID); err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "snapshot path", err)
	}
	return filepath.Join(s.dir, projectID+ext), nil
}

func (s *SnapshotStore) Load(_ context.Context, projectID string) ([]byte, error) {
	path, err := s.file(projectID, ".json")
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", projectID, err)
	}
	return data, nil
}

// Save writes a temporary file, syncs it and renames it over the previous snapshot, so readers
// see either the old or the new document.
func (s *SnapshotStore) Save(_ context.Context, projectID string, data []byte) error {
	path, err := s.file(projectID, ".json")
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(s.dir, "."+projectID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmp := f.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmp)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	committed = true
	return syncDir(s.dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open snapshot dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync snapshot dir: %w", err)
	}
	return nil
}

// Lock takes an exclusive file lock next to the snapshot. It waits until ctx is done.
func (s *SnapshotStore) Lock(ctx context.Context, projectID string) (func() error, error) {
	path, err := s.file(projectID, ".lock")
	if err != nil {
		return nil, err
	}
	lock := flock.New(path)
	ok, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock project %s: %w", projectID, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock project %s: not acquired", projectID)
	}
	return lock.Unlock, nil
}
