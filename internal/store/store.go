package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/sideshift-bridge/internal/errors"
	"github.com/ggonzalez94/sideshift-bridge/internal/sideshift"
	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

const defaultListLimit = 20

// Record is the local copy of a shift created or watched from this machine.
type Record struct {
	ShiftID      string                         `json:"shift_id"`
	UserAddress  string                         `json:"user_address"`
	Status       sideshift.Status               `json:"status"`
	MonitorState string                         `json:"monitor_state,omitempty"`
	LastError    string                         `json:"last_error,omitempty"`
	Shift        sideshift.Shift                `json:"shift"`
	Deposit      *sideshift.DepositInstructions `json:"deposit,omitempty"`
	CreatedAt    string                         `json:"created_at"`
	UpdatedAt    string                         `json:"updated_at"`
}

// StatusUpdate is a monitor observation applied to an existing or new record.
type StatusUpdate struct {
	ShiftID      string
	Status       sideshift.Status
	MonitorState string
	LastError    string
	Shift        *sideshift.Shift
}

type Filter struct {
	UserAddress string
	Status      string
	Limit       int
}

type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create shift store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create shift lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open shift sqlite: %w", err)
	}
	st := &Store{db: db, lock: flock.New(lockPath)}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS shifts (
			shift_id TEXT PRIMARY KEY,
			user_address TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_shifts_user_updated ON shifts(user_address, updated_at DESC);",
	}
	err = st.withLock(func() error {
		for _, q := range queries {
			if _, err := db.Exec(q); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init shift schema: %w", err)
	}
	return st, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save upserts rec. Addresses are stored lowercased so lookups ignore
// checksum casing.
func (s *Store) Save(rec Record) error {
	if strings.TrimSpace(rec.ShiftID) == "" {
		return clierr.New(clierr.CodeUsage, "save shift: missing shift id")
	}
	now := time.Now().UTC()
	if rec.CreatedAt == "" {
		rec.CreatedAt = now.Format(time.RFC3339)
	}
	if rec.UpdatedAt == "" {
		rec.UpdatedAt = now.Format(time.RFC3339)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal shift record: %w", err)
	}
	createdUnix := unixOr(rec.CreatedAt, now)
	updatedUnix := unixOr(rec.UpdatedAt, now)

	return s.withLock(func() error {
		_, err := s.db.Exec(`
			INSERT INTO shifts (shift_id, user_address, status, created_at, updated_at, payload)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(shift_id) DO UPDATE SET
				user_address=excluded.user_address,
				status=excluded.status,
				updated_at=excluded.updated_at,
				payload=excluded.payload
		`, rec.ShiftID, strings.ToLower(strings.TrimSpace(rec.UserAddress)), string(rec.Status), createdUnix, updatedUnix, payload)
		if err != nil {
			return fmt.Errorf("save shift: %w", err)
		}
		return nil
	})
}

func (s *Store) Get(shiftID string) (Record, error) {
	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM shifts WHERE shift_id = ?", shiftID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, clierr.New(clierr.CodeNotFound, fmt.Sprintf("shift not found: %s", shiftID))
		}
		return Record{}, fmt.Errorf("read shift: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, fmt.Errorf("decode shift payload: %w", err)
	}
	return rec, nil
}

// Apply merges a status observation into the stored record, creating one
// when the shift was never seen locally.
func (s *Store) Apply(update StatusUpdate) error {
	rec, err := s.Get(update.ShiftID)
	if err != nil {
		if !clierr.Is(err, clierr.CodeNotFound) {
			return err
		}
		rec = Record{ShiftID: update.ShiftID}
	}
	if update.Shift != nil {
		rec.Shift = *update.Shift
		if rec.UserAddress == "" {
			rec.UserAddress = update.Shift.UserAddress
		}
	}
	if update.Status != "" {
		rec.Status = update.Status
	}
	rec.MonitorState = update.MonitorState
	rec.LastError = update.LastError
	rec.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return s.Save(rec)
}

// List returns records newest first.
func (s *Store) List(filter Filter) ([]Record, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	var (
		where []string
		args  []any
	)
	if v := strings.TrimSpace(filter.UserAddress); v != "" {
		where = append(where, "user_address = ?")
		args = append(args, strings.ToLower(v))
	}
	if v := strings.TrimSpace(filter.Status); v != "" {
		where = append(where, "status = ?")
		args = append(args, strings.ToLower(v))
	}
	query := "SELECT payload FROM shifts"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, created_at DESC, shift_id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list shifts: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan shift row: %w", err)
		}
		var rec Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("decode shift row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shift rows: %w", err)
	}
	return out, nil
}

func unixOr(v string, fallback time.Time) int64 {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return fallback.Unix()
	}
	return t.UTC().Unix()
}

func (s *Store) withLock(fn func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	locked, err := s.lock.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock shift store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock shift store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}
