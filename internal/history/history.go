// Package history persists build session audit records. Every attempt
// is kept with its full result payload so a session can be reviewed
// after the fact, including ones that ended in exhaustion.
package history

import (
	"context"
	"time"
)

// SessionRecord is one build session's lifecycle row.
type SessionRecord struct {
	ID           string    `json:"id"`
	BuildCommand string    `json:"build_command"`
	Outcome      string    `json:"outcome"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
}

// AttemptRecord is one attempt within a session. Detail holds the full
// attempt payload as JSON; the scalar columns exist for listing without
// unmarshaling.
type AttemptRecord struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Number      int       `json:"number"`
	ExitCode    int       `json:"exit_code"`
	Diagnostics int       `json:"diagnostics"`
	Uploaded    int       `json:"uploaded"`
	Detail      string    `json:"detail,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Store defines the persistence interface for build history.
type Store interface {
	CreateSession(ctx context.Context, rec *SessionRecord) error
	FinishSession(ctx context.Context, id, outcome string) error
	GetSession(ctx context.Context, id string) (*SessionRecord, error)
	ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error)

	RecordAttempt(ctx context.Context, rec *AttemptRecord) error
	ListAttempts(ctx context.Context, sessionID string) ([]*AttemptRecord, error)

	Migrate(ctx context.Context) error
	Close() error
}
