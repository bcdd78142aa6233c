package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// Key namespaces.
const (
	NamespaceAssets = "assets"
	NamespacePair   = "pair"
)

const (
	lockTimeout    = 5 * time.Second
	lockRetryDelay = 10 * time.Millisecond
)

type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

type Result struct {
	Hit      bool
	Value    []byte
	Age      time.Duration
	Stale    bool
	TooStale bool
}

// Key joins a namespace and lowercased parts, e.g. pair:usdc:eth:base:.
func Key(namespace string, parts ...string) string {
	norm := make([]string, 0, len(parts)+1)
	norm = append(norm, namespace)
	for _, p := range parts {
		norm = append(norm, strings.ToLower(strings.TrimSpace(p)))
	}
	return strings.Join(norm, ":")
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	store := &Store{db: db, lock: flock.New(lockPath)}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"CREATE TABLE IF NOT EXISTS cache_entries (key TEXT PRIMARY KEY, value BLOB NOT NULL, created_at INTEGER NOT NULL, ttl_seconds INTEGER NOT NULL);",
	}
	err = store.withLock(func() error {
		for _, query := range queries {
			if _, err := db.Exec(query); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	return store, nil
}

// dsn adds a busy timeout so readers in other processes wait out a writer.
func dsn(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)"
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Prune deletes entries that are past their TTL by more than maxStale and
// can no longer be served as a stale fallback. A negative maxStale keeps
// everything.
func (s *Store) Prune(maxStale time.Duration) error {
	if s == nil || s.db == nil || maxStale < 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-maxStale).Unix()
	return s.withLock(func() error {
		if _, err := s.db.Exec("DELETE FROM cache_entries WHERE created_at + ttl_seconds < ?", cutoff); err != nil {
			return fmt.Errorf("prune cache: %w", err)
		}
		return nil
	})
}

// Get reports a hit with its age. A negative maxStale disables the too-stale
// cutoff.
func (s *Store) Get(key string, maxStale time.Duration) (Result, error) {
	var (
		value       []byte
		createdUnix int64
		ttlSeconds  int64
	)
	err := s.db.QueryRow("SELECT value, created_at, ttl_seconds FROM cache_entries WHERE key = ?", key).Scan(&value, &createdUnix, &ttlSeconds)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("cache read: %w", err)
	}

	age := time.Since(time.Unix(createdUnix, 0).UTC())
	if age < 0 {
		age = 0
	}
	ttl := time.Duration(ttlSeconds) * time.Second
	stale := age > ttl
	return Result{
		Hit:      true,
		Value:    value,
		Age:      age,
		Stale:    stale,
		TooStale: stale && maxStale >= 0 && age > ttl+maxStale,
	}, nil
}

func (s *Store) Set(key string, value []byte, ttl time.Duration) error {
	return s.withLock(func() error {
		ttlSeconds := int64(ttl.Seconds())
		if ttlSeconds <= 0 {
			ttlSeconds = 1
		}
		_, err := s.db.Exec(`
			INSERT INTO cache_entries (key, value, created_at, ttl_seconds)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value=excluded.value,
				created_at=excluded.created_at,
				ttl_seconds=excluded.ttl_seconds
		`, key, value, time.Now().UTC().Unix(), ttlSeconds)
		if err != nil {
			return fmt.Errorf("cache write: %w", err)
		}
		return nil
	})
}

// Delete drops key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	return s.withLock(func() error {
		if _, err := s.db.Exec("DELETE FROM cache_entries WHERE key = ?", key); err != nil {
			return fmt.Errorf("cache delete: %w", err)
		}
		return nil
	})
}

func (s *Store) withLock(fn func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock cache: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}
