package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/arla/internal/dialect"
	"github.com/roach88/arla/internal/testutil"
)

// createTestStore opens a file-backed SQLite projection in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dialect.SQLite{}, path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createMigratedStore opens a projection with the member fixture schema.
func createMigratedStore(t *testing.T) *Store {
	t.Helper()
	s := createTestStore(t)
	if _, err := s.Migrate(context.Background(), testutil.MemberSchema(t)); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	return s
}
