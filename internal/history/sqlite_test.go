package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudbuilder/internal/buildloop"
	"cloudbuilder/internal/sshexec"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)

	err := s.Migrate(context.Background())
	assert.NoError(t, err)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &SessionRecord{BuildCommand: "make all"}
	require.NoError(t, s.CreateSession(ctx, rec))
	assert.NotEmpty(t, rec.ID, "id is generated when empty")
	assert.Equal(t, "running", rec.Outcome)

	got, err := s.GetSession(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "make all", got.BuildCommand)
	assert.Equal(t, "running", got.Outcome)
	assert.True(t, got.FinishedAt.IsZero())

	require.NoError(t, s.FinishSession(ctx, rec.ID, "success"))
	got, err = s.GetSession(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "success", got.Outcome)
	assert.False(t, got.FinishedAt.IsZero())
}

func TestGetSession_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetSession(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.FinishSession(context.Background(), "nope", "success")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSessions_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := &SessionRecord{BuildCommand: "make", StartedAt: time.Now().Add(-time.Hour)}
	newer := &SessionRecord{BuildCommand: "make check"}
	require.NoError(t, s.CreateSession(ctx, older))
	require.NoError(t, s.CreateSession(ctx, newer))

	sessions, err := s.ListSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, newer.ID, sessions[0].ID)
	assert.Equal(t, older.ID, sessions[1].ID)

	limited, err := s.ListSessions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session := &SessionRecord{BuildCommand: "make"}
	require.NoError(t, s.CreateSession(ctx, session))

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.RecordAttempt(ctx, &AttemptRecord{
			SessionID:  session.ID,
			Number:     i,
			ExitCode:   2,
			StartedAt:  time.Now(),
			FinishedAt: time.Now(),
		}))
	}

	attempts, err := s.ListAttempts(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	for i, a := range attempts {
		assert.Equal(t, i+1, a.Number)
		assert.NotEmpty(t, a.ID)
	}

	empty, err := s.ListAttempts(ctx, "other-session")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRecorder_PersistsLoopEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := NewRecorder(s)

	require.NoError(t, rec.SessionStarted(ctx, "01TESTSESSION", "make all"))

	attempt := buildloop.Attempt{
		Number:      1,
		Outcome:     buildloop.OutcomeFailed,
		Build:       &sshexec.Result{ExitCode: 2, Stderr: "boom"},
		Diagnostics: []buildloop.Diagnostic{{LocalPath: "/p/src/main.c", Line: 10}},
		StartedAt:   time.Now(),
		FinishedAt:  time.Now(),
	}
	require.NoError(t, rec.AttemptFinished(ctx, "01TESTSESSION", attempt))
	require.NoError(t, rec.SessionFinished(ctx, "01TESTSESSION", buildloop.StateExhausted))

	got, err := s.GetSession(ctx, "01TESTSESSION")
	require.NoError(t, err)
	assert.Equal(t, "exhausted", got.Outcome)

	attempts, err := s.ListAttempts(ctx, "01TESTSESSION")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, 2, attempts[0].ExitCode)
	assert.Equal(t, 1, attempts[0].Diagnostics)
	assert.Contains(t, attempts[0].Detail, "main.c")
	assert.Contains(t, attempts[0].Detail, `"outcome":"failed"`)
}
