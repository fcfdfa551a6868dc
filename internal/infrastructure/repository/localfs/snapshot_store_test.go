package localfs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
)

func TestLoadMissingProject(t *testing.T) {
	s, err := NewSnapshotStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSnapshotStore() error = %v", err)
	}
	if _, err := s.Load(context.Background(), "p1"); !errors.Is(err, domain.ErrProjectNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSaveReplacesSnapshot(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewSnapshotStore(dir)
	ctx := context.Background()
	if err := s.Save(ctx, "p1", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Save(ctx, "p1", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	data, err := s.Load(ctx, "p1")
	if err != nil || string(data) != `{"v":2}` {
		t.Fatalf("unexpected snapshot %q, %v", data, err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(matches) != 0 {
		t.Fatalf("temporary files left behind: %v", matches)
	}
}

func TestRejectsUnsafeProjectIDs(t *testing.T) {
	s, _ := NewSnapshotStore(t.TempDir())
	for _, id := range []string{"", "../p1", "a/b", ".hidden"} {
		if err := s.Save(context.Background(), id, []byte("{}")); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("id %q: expected invalid input, got %v", id, err)
		}
	}
}

func TestLockExcludesSecondHolder(t *testing.T) {
	dir := t.TempDir()
	first, _ := NewSnapshotStore(dir)
	second, _ := NewSnapshotStore(dir)

	unlock, err := first.Lock(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := second.Lock(ctx, "p1"); err == nil {
		t.Fatalf("second lock must wait for the first holder")
	}

	if err := unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	unlock2, err := second.Lock(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Lock() after release error = %v", err)
	}
	_ = unlock2()
	if _, err := os.Stat(filepath.Join(dir, "p1.lock")); err != nil {
		t.Fatalf("lock file expected: %v", err)
	}
}
