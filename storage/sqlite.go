package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

var _ Storage = (*SQLite)(nil)

const (
	sqliteSchema = `
CREATE TABLE IF NOT EXISTS auth_records (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

	sqliteUpsert = `
INSERT INTO auth_records (key, value, updated_at) VALUES (?1, ?2, ?3)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at;`

	sqliteQueryTimeout = 5 * time.Second
)

// SQLite stores records in a single-table SQLite database. It is not trusted
// with bearer credentials.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
func OpenSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("[OpenSQLite] storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "[OpenSQLite] open sqlite db")
	}

	ctx, cancel := context.WithTimeout(context.Background(), sqliteQueryTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "[OpenSQLite] ping sqlite db")
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "[OpenSQLite] apply schema")
	}
	return &SQLite{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Load(key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteQueryTimeout)
	defer cancel()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM auth_records WHERE key = ?1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "[SQLite.Load] %s", key)
	}
	return value, true, nil
}

func (s *SQLite) Save(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteQueryTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, sqliteUpsert, key, value, s.now().UTC().UnixMilli()); err != nil {
		return errors.Wrapf(err, "[SQLite.Save] %s", key)
	}
	return nil
}

func (s *SQLite) Remove(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteQueryTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM auth_records WHERE key = ?1`, key); err != nil {
		return errors.Wrapf(err, "[SQLite.Remove] %s", key)
	}
	return nil
}
