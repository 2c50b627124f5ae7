package cache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// SQLite is the persistent cache backend. Entries survive restarts, which
// matters for availability and resolve results that are expensive to rebuild.
type SQLite struct {
	conn       *sql.DB
	defaultTTL time.Duration
	now        func() time.Time
}

// NewSQLite opens (creating if needed) the cache database at path and runs
// pending migrations.
func NewSQLite(path string, defaultTTL time.Duration) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	// SQLite supports a single writer.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping cache database: %w", err)
	}

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run cache migrations: %w", err)
	}

	return &SQLite{conn: conn, defaultTTL: defaultTTL, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, _, found, err := s.GetWithAge(ctx, key)
	return value, found, err
}

func (s *SQLite) GetWithAge(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	var (
		value     []byte
		fetchedAt int64
		expiresAt int64
	)
	row := s.conn.QueryRowContext(ctx,
		`SELECT value, fetched_at, expires_at FROM cache_entries WHERE key = ?`, key)
	if err := row.Scan(&value, &fetchedAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, false, nil
		}
		return nil, 0, false, fmt.Errorf("cache read %q: %w", key, err)
	}

	now := s.now()
	if expiresAt > 0 && now.Unix() >= expiresAt {
		// Expired entries are removed lazily on read.
		_, _ = s.conn.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
		return nil, 0, false, nil
	}

	age := now.Sub(time.Unix(fetchedAt, 0))
	return value, age, true, nil
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	now := s.now()
	expiresAt := int64(0)
	if ttl > 0 {
		expiresAt = now.Add(ttl).Unix()
	}
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, fetched_at, expires_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   value = excluded.value,
		   fetched_at = excluded.fetched_at,
		   expires_at = excluded.expires_at`,
		key, value, now.Unix(), expiresAt)
	if err != nil {
		return fmt.Errorf("cache write %q: %w", key, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache delete %q: %w", key, err)
	}
	return nil
}

// PurgeExpired removes all expired entries and returns how many were dropped.
func (s *SQLite) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at > 0 AND expires_at <= ?`, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	return res.RowsAffected()
}
