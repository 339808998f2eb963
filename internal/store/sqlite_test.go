package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"trades-rl/internal/config"
)

func newMemoryStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 4})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if _, err := s.DB().Exec(`CREATE TABLE IF NOT EXISTS items (id INTEGER PRIMARY KEY, name TEXT);`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return s
}

func countItems(t *testing.T, s *Store) int {
	t.Helper()
	var n int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestWithTx_Commits(t *testing.T) {
	s := newMemoryStore(t)
	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO items (name) VALUES ('a'), ('b')`)
		return err
	})
	if err != nil {
		t.Fatalf("WithTx returned error: %v", err)
	}
	if n := countItems(t, s); n != 2 {
		t.Fatalf("expected 2 rows, got %d", n)
	}
}

func TestWithTx_RollsBack(t *testing.T) {
	s := newMemoryStore(t)
	boom := errors.New("boom")
	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO items (name) VALUES ('a')`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if n := countItems(t, s); n != 0 {
		t.Fatalf("expected rollback, got %d rows", n)
	}
}

func TestNewSQLite_FileCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.db")
	s, err := NewSQLite(config.DatabaseConfig{Path: path, MaxOpenConns: 2, MaxIdleConns: 2})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	defer s.Close()
	if err := s.DB().Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestNewSQLite_MemoryStoresAreIsolated(t *testing.T) {
	a := newMemoryStore(t)
	b := newMemoryStore(t)
	if _, err := a.DB().Exec(`INSERT INTO items (name) VALUES ('a')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if n := countItems(t, b); n != 0 {
		t.Fatalf("expected isolated in-memory stores, got %d rows", n)
	}
}
