package buildloop

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudbuilder/internal/config"
	"cloudbuilder/internal/filter"
	"cloudbuilder/internal/rclone"
	"cloudbuilder/internal/sshexec"
)

type mockRunner struct {
	syncCalls []rclone.SyncRequest
	syncErr   error
}

func (m *mockRunner) Sync(_ context.Context, req rclone.SyncRequest) (*rclone.SyncResult, error) {
	m.syncCalls = append(m.syncCalls, req)
	if m.syncErr != nil {
		return nil, m.syncErr
	}
	return &rclone.SyncResult{LocalDir: req.LocalDir, RemoteDir: req.RemoteDir}, nil
}

func (m *mockRunner) Upload(context.Context, string, string) (*rclone.UploadResult, error) {
	return nil, errors.New("not implemented")
}
func (m *mockRunner) Cat(context.Context, string) ([]byte, error) {
	return nil, errors.New("not implemented")
}
func (m *mockRunner) List(context.Context, string) ([]rclone.Entry, error) {
	return nil, errors.New("not implemented")
}
func (m *mockRunner) EnsureDir(context.Context, string) error { return nil }

type mockExecutor struct {
	results []*sshexec.Result
	err     error
	calls   int
}

func (m *mockExecutor) Run(_ context.Context, command, workDir string) (*sshexec.Result, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	res := m.results[0]
	if len(m.results) > 1 {
		m.results = m.results[1:]
	}
	res.Command = command
	res.WorkDir = workDir
	return res, nil
}

type recordedEvent struct {
	kind    string
	attempt int
	outcome State
}

type mockRecorder struct {
	events []recordedEvent
}

func (m *mockRecorder) SessionStarted(_ context.Context, _, _ string) error {
	m.events = append(m.events, recordedEvent{kind: "started"})
	return nil
}

func (m *mockRecorder) AttemptFinished(_ context.Context, _ string, a Attempt) error {
	m.events = append(m.events, recordedEvent{kind: "attempt", attempt: a.Number})
	return nil
}

func (m *mockRecorder) SessionFinished(_ context.Context, _ string, outcome State) error {
	m.events = append(m.events, recordedEvent{kind: "finished", outcome: outcome})
	return nil
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func testProfile(t *testing.T) *config.Profile {
	t.Helper()
	return &config.Profile{
		RemoteAlias:  "buildbox",
		LocalRoot:    t.TempDir(),
		RemoteRoot:   "/home/dev/project",
		BuildCommand: "make all",
	}
}

func failedBuild(stderr string) *sshexec.Result {
	return &sshexec.Result{ExitCode: 2, Stderr: stderr}
}

func TestNewSession_RequiresCompleteProfile(t *testing.T) {
	profile := testProfile(t)
	profile.RemoteAlias = ""

	_, err := NewSession(profile, &mockRunner{}, &mockExecutor{})
	require.Error(t, err)

	var cfgErr *config.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "REMOTE_HOST_NAME")
}

func TestNewSession_RequiresBuildCommand(t *testing.T) {
	profile := testProfile(t)
	profile.BuildCommand = ""

	_, err := NewSession(profile, &mockRunner{}, &mockExecutor{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BUILD_COMMAND")
}

func TestRunAttempt_SuccessHaltsSession(t *testing.T) {
	runner := &mockRunner{}
	executor := &mockExecutor{results: []*sshexec.Result{{ExitCode: 0, Stdout: "ok"}}}
	recorder := &mockRecorder{}

	session, err := NewSession(testProfile(t), runner, executor, WithRecorder(recorder))
	require.NoError(t, err)
	assert.Equal(t, StateIdle, session.State())

	attempt, err := session.RunAttempt(context.Background())
	require.NoError(t, err)
	assert.True(t, attempt.Succeeded())
	assert.Equal(t, OutcomeSuccess, attempt.Outcome)
	assert.Empty(t, attempt.Diagnostics)
	assert.Equal(t, StateSuccess, session.State())
	assert.True(t, session.State().Terminal())

	// Terminal sessions reject further attempts without touching the
	// remote again.
	_, err = session.RunAttempt(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, executor.calls)

	require.Len(t, recorder.events, 3)
	assert.Equal(t, "started", recorder.events[0].kind)
	assert.Equal(t, "attempt", recorder.events[1].kind)
	assert.Equal(t, StateSuccess, recorder.events[2].outcome)
}

func TestRunAttempt_FailureSuspendsForFixes(t *testing.T) {
	executor := &mockExecutor{results: []*sshexec.Result{failedBuild("boom")}}

	session, err := NewSession(testProfile(t), &mockRunner{}, executor)
	require.NoError(t, err)

	attempt, err := session.RunAttempt(context.Background())
	require.NoError(t, err)
	assert.False(t, attempt.Succeeded())
	assert.Equal(t, OutcomeFailed, attempt.Outcome)
	assert.Equal(t, StateFixing, session.State())
	assert.False(t, session.State().Terminal())
	assert.Equal(t, MaxAttempts-1, session.Remaining())
}

func TestRunAttempt_ExhaustsAfterMaxAttempts(t *testing.T) {
	executor := &mockExecutor{results: []*sshexec.Result{failedBuild("boom")}}
	recorder := &mockRecorder{}

	session, err := NewSession(testProfile(t), &mockRunner{}, executor, WithRecorder(recorder))
	require.NoError(t, err)

	for i := 1; i < MaxAttempts; i++ {
		_, err := session.RunAttempt(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StateFixing, session.State())
	}

	attempt, err := session.RunAttempt(context.Background())
	require.Error(t, err)
	require.NotNil(t, attempt)
	assert.Equal(t, MaxAttempts, attempt.Number)
	assert.Equal(t, StateExhausted, session.State())

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Len(t, exhausted.Attempts, MaxAttempts)
	assert.Equal(t, MaxAttempts, executor.calls)
	assert.Equal(t, 0, session.Remaining())

	last := recorder.events[len(recorder.events)-1]
	assert.Equal(t, StateExhausted, last.outcome)
}

func TestRunAttempt_SyncErrorIsTerminal(t *testing.T) {
	runner := &mockRunner{syncErr: &rclone.InvokeError{Op: "sync", Err: errors.New("spawn failed")}}
	executor := &mockExecutor{}

	session, err := NewSession(testProfile(t), runner, executor)
	require.NoError(t, err)

	_, err = session.RunAttempt(context.Background())
	require.Error(t, err)

	var invokeErr *rclone.InvokeError
	assert.ErrorAs(t, err, &invokeErr)
	assert.Equal(t, StateError, session.State())
	assert.Equal(t, 0, executor.calls, "build must not run when sync fails")
}

func TestRunAttempt_SyncMirrorsWithDelete(t *testing.T) {
	runner := &mockRunner{}
	executor := &mockExecutor{results: []*sshexec.Result{{ExitCode: 0}}}

	profile := testProfile(t)
	session, err := NewSession(profile, runner, executor)
	require.NoError(t, err)

	_, err = session.RunAttempt(context.Background())
	require.NoError(t, err)

	require.Len(t, runner.syncCalls, 1)
	req := runner.syncCalls[0]
	assert.Equal(t, profile.LocalRoot, req.LocalDir)
	assert.Equal(t, profile.RemoteRoot, req.RemoteDir)
	assert.True(t, req.DeleteExcess, "build sync must mirror exactly")
}

func TestDiagnose_MapsRemotePathsToLocal(t *testing.T) {
	profile := testProfile(t)
	stderr := profile.RemoteRoot + "/src/main.c:10:5: error: expected ';'\n" +
		profile.RemoteRoot + "/src/util.c:42: undefined reference\n" +
		"/somewhere/else/other.c:7: error\n" +
		profile.RemoteRoot + "/src/main.c:10:5: note: duplicate location\n"
	executor := &mockExecutor{results: []*sshexec.Result{failedBuild(stderr)}}

	session, err := NewSession(profile, &mockRunner{}, executor)
	require.NoError(t, err)

	attempt, err := session.RunAttempt(context.Background())
	require.NoError(t, err)
	require.Len(t, attempt.Diagnostics, 2, "off-root and duplicate locations are dropped")

	first := attempt.Diagnostics[0]
	assert.Equal(t, profile.RemoteRoot+"/src/main.c", first.RemotePath)
	assert.Equal(t, filepath.Join(profile.LocalRoot, "src", "main.c"), first.LocalPath)
	assert.Equal(t, 10, first.Line)
	assert.Equal(t, 5, first.Column)

	second := attempt.Diagnostics[1]
	assert.Equal(t, 42, second.Line)
	assert.Equal(t, 0, second.Column)
}

func TestSessionFiltersLoadedFromRules(t *testing.T) {
	profile := testProfile(t)
	rulesPath := filepath.Join(profile.LocalRoot, config.SyncRulesFileName)
	writeFile(t, rulesPath, "+ src/**\n- *.o\n")

	runner := &mockRunner{}
	executor := &mockExecutor{results: []*sshexec.Result{{ExitCode: 0}}}
	session, err := NewSession(profile, runner, executor)
	require.NoError(t, err)

	_, err = session.RunAttempt(context.Background())
	require.NoError(t, err)

	require.Len(t, runner.syncCalls, 1)
	assert.Equal(t, filter.RuleSet{
		{Kind: filter.Include, Pattern: "src/**"},
		{Kind: filter.Exclude, Pattern: "*.o"},
	}, runner.syncCalls[0].Filters)
}

func TestRunAttempt_ReloadsRulesEachAttempt(t *testing.T) {
	profile := testProfile(t)
	rulesPath := filepath.Join(profile.LocalRoot, config.SyncRulesFileName)
	writeFile(t, rulesPath, "- *.log\n")

	runner := &mockRunner{}
	executor := &mockExecutor{results: []*sshexec.Result{failedBuild("boom"), {ExitCode: 0}}}
	session, err := NewSession(profile, runner, executor)
	require.NoError(t, err)

	_, err = session.RunAttempt(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateFixing, session.State())

	// Rule edits made while suspended must reach the next sync.
	writeFile(t, rulesPath, "- *.tmp\n")

	_, err = session.RunAttempt(context.Background())
	require.NoError(t, err)

	require.Len(t, runner.syncCalls, 2)
	assert.Equal(t, filter.RuleSet{{Kind: filter.Exclude, Pattern: "*.log"}},
		runner.syncCalls[0].Filters)
	assert.Equal(t, filter.RuleSet{{Kind: filter.Exclude, Pattern: "*.tmp"}},
		runner.syncCalls[1].Filters)
}

func TestWithID_ResumesIdentifier(t *testing.T) {
	session, err := NewSession(testProfile(t), &mockRunner{}, &mockExecutor{}, WithID("01ARZ3NDEKTSV4RRFFQ69G5FAV"))
	require.NoError(t, err)
	assert.Equal(t, "01ARZ3NDEKTSV4RRFFQ69G5FAV", session.ID())
}
