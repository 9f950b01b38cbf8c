package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/glebarez/go-sqlite"
)

// SQLite is a Backend backed by a single-table SQLite database.
type SQLite struct {
	db    *sql.DB
	quota int64
}

// OpenSQLite opens (creating if needed) the database at path. quota caps the
// size in bytes of any single stored blob; 0 disables the cap.
func OpenSQLite(path string, quota int64) (*SQLite, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_busy_timeout=10000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create kv table: %w", err)
	}
	return &SQLite{db: db, quota: quota}, nil
}

func (s *SQLite) Save(ctx context.Context, key string, blob []byte) error {
	if s.quota > 0 && int64(len(blob)) > s.quota {
		return fmt.Errorf("%w: %d bytes over %d quota", ErrCapacity, len(blob), s.quota)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value;`, key, blob)
	return err
}

func (s *SQLite) Load(ctx context.Context, key string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?;`, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return blob, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
