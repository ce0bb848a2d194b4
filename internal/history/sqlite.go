package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection
	// serializes all access through Go's pool and avoids "database is
	// locked" errors.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session row. A zero StartedAt and empty
// Outcome get sensible defaults.
func (s *SQLiteStore) CreateSession(ctx context.Context, rec *SessionRecord) error {
	if rec.ID == "" {
		rec.ID = newULID()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	if rec.Outcome == "" {
		rec.Outcome = "running"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO build_sessions (id, build_command, outcome, started_at) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.BuildCommand, rec.Outcome, rec.StartedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FinishSession records the terminal outcome.
func (s *SQLiteStore) FinishSession(ctx context.Context, id, outcome string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE build_sessions SET outcome = ?, finished_at = ? WHERE id = ?`,
		outcome, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSession loads one session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, build_command, outcome, started_at, COALESCE(finished_at, '') FROM build_sessions WHERE id = ?`, id)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListSessions returns sessions newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, build_command, outcome, started_at, COALESCE(finished_at, '') FROM build_sessions
		 ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecordAttempt inserts one attempt row.
func (s *SQLiteStore) RecordAttempt(ctx context.Context, rec *AttemptRecord) error {
	if rec.ID == "" {
		rec.ID = newULID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO build_attempts
		 (id, session_id, number, exit_code, diagnostics, uploaded, detail, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.Number, rec.ExitCode, rec.Diagnostics, rec.Uploaded,
		rec.Detail,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.FinishedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// ListAttempts returns a session's attempts in order.
func (s *SQLiteStore) ListAttempts(ctx context.Context, sessionID string) ([]*AttemptRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, number, exit_code, diagnostics, uploaded, detail, started_at, finished_at
		 FROM build_attempts WHERE session_id = ? ORDER BY number`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var out []*AttemptRecord
	for rows.Next() {
		var rec AttemptRecord
		var started, finished string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Number, &rec.ExitCode,
			&rec.Diagnostics, &rec.Uploaded, &rec.Detail, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		rec.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*SessionRecord, error) {
	var rec SessionRecord
	var started, finished string
	if err := row.Scan(&rec.ID, &rec.BuildCommand, &rec.Outcome, &started, &finished); err != nil {
		return nil, err
	}
	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	if finished != "" {
		rec.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
	}
	return &rec, nil
}
