package store

import (
	"context"
	"path/filepath"
	"testing"

	"set-portfolio/internal/config"
)

func TestNewSQLite_InMemoryMigrate(t *testing.T) {
	s, err := NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 4})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Migrate(ctx, `CREATE TABLE IF NOT EXISTS t (id INTEGER PRIMARY KEY, v TEXT)`); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}
	if _, err := s.DB().ExecContext(ctx, `INSERT INTO t (v) VALUES (?)`, "x"); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	var count int
	if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM t`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 row, got %d", count)
	}
}

func TestNewSQLite_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "db.sqlite")
	s, err := NewSQLite(config.DatabaseConfig{Path: path, MaxOpenConns: 2, MaxIdleConns: 2})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	defer s.Close()

	if err := s.Migrate(context.Background(), `CREATE TABLE x (id INTEGER)`); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}
}
