package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQLStore keeps entries in a single kv table of a SQLite or PostgreSQL database.
type SQLStore struct {
	db *sql.DB
	q  sqlQueries
}

type sqlQueries struct {
	get, set, del, clear string
}

var sqliteQueries = sqlQueries{
	get:   `SELECT value FROM cache_entries WHERE ns = ? AND key = ?`,
	set:   `INSERT INTO cache_entries (ns, key, value, created_at) VALUES (?, ?, ?, ?) ON CONFLICT(ns, key) DO UPDATE SET value = excluded.value, created_at = excluded.created_at`,
	del:   `DELETE FROM cache_entries WHERE ns = ? AND key = ?`,
	clear: `DELETE FROM cache_entries WHERE ns = ?`,
}

var postgresQueries = sqlQueries{
	get:   `SELECT value FROM cache_entries WHERE ns = $1 AND key = $2`,
	set:   `INSERT INTO cache_entries (ns, key, value, created_at) VALUES ($1, $2, $3, $4) ON CONFLICT (ns, key) DO UPDATE SET value = excluded.value, created_at = excluded.created_at`,
	del:   `DELETE FROM cache_entries WHERE ns = $1 AND key = $2`,
	clear: `DELETE FROM cache_entries WHERE ns = $1`,
}

// OpenSQLite opens (or creates) dir/cache.db.
func OpenSQLite(dir string) (*SQLStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	path := filepath.Join(dir, "cache.db")
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	const ddl = `CREATE TABLE IF NOT EXISTS cache_entries (
		ns         TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (ns, key)
	)`
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache_entries table: %w", err)
	}
	return &SQLStore{db: db, q: sqliteQueries}, nil
}

// OpenPostgres connects to dsn and ensures the cache_entries table exists.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	const ddl = `CREATE TABLE IF NOT EXISTS cache_entries (
		ns         TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      BYTEA NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (ns, key)
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache_entries table: %w", err)
	}
	return &SQLStore{db: db, q: postgresQueries}, nil
}

func (s *SQLStore) Get(ctx context.Context, ns, key string) ([]byte, bool, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, s.q.get, ns, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *SQLStore) Set(ctx context.Context, ns, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, s.q.set, ns, key, value, time.Now().Unix())
	return err
}

func (s *SQLStore) Delete(ctx context.Context, ns, key string) error {
	_, err := s.db.ExecContext(ctx, s.q.del, ns, key)
	return err
}

func (s *SQLStore) Clear(ctx context.Context, ns string) error {
	_, err := s.db.ExecContext(ctx, s.q.clear, ns)
	return err
}

// Close ferme la connexion.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
