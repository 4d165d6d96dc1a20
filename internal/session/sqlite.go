package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStorage persists tab snapshots in a local sqlite file
type SQLiteStorage struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the snapshot database at path
func OpenSQLite(ctx context.Context, path string) (*SQLiteStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS tab_sessions (
	tab_key TEXT PRIMARY KEY,
	snapshot TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tab_sessions: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStorage) Load(ctx context.Context, key string) (*Snapshot, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM tab_sessions WHERE tab_key = ?`, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotPersisted
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return decodeSnapshot([]byte(raw))
}

func (s *SQLiteStorage) Save(ctx context.Context, key string, snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO tab_sessions(tab_key, snapshot, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(tab_key) DO UPDATE SET
	snapshot = excluded.snapshot,
	updated_at = excluded.updated_at
`, key, string(raw), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tab_sessions WHERE tab_key = ?`, key); err != nil {
		return fmt.Errorf("remove snapshot: %w", err)
	}
	return nil
}
