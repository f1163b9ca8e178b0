package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// newTestStore opens a fresh, fully migrated database under t.TempDir.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "feedsync.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func mustEnsureAccount(t *testing.T, s *Store, name string) AccountInfo {
	t.Helper()
	info, created, err := s.EnsureAccount(context.Background(), name, "newsblur", "reader")
	if err != nil {
		t.Fatalf("ensure account %q: %v", name, err)
	}
	if !created {
		t.Fatalf("account %q already existed", name)
	}
	return info
}

func ptrTime(t time.Time) *time.Time {
	utc := t.UTC()
	return &utc
}
