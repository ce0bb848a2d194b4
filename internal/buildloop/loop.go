// Package buildloop drives the sync, build, diagnose cycle against the
// remote host. The loop itself never edits code: after a failed build
// it reports diagnostics with local paths and suspends until the caller
// has applied fixes and asks for the next attempt.
package buildloop

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"

	"cloudbuilder/internal/config"
	"cloudbuilder/internal/filter"
	"cloudbuilder/internal/logging"
	"cloudbuilder/internal/pathmap"
	"cloudbuilder/internal/rclone"
	"cloudbuilder/internal/sshexec"
)

// MaxAttempts bounds the cycle. Five failed builds in a row means the
// problem is not converging and a human should look.
const MaxAttempts = 5

// State is the session's position in the cycle.
type State string

const (
	// StateIdle is a fresh session before the first attempt.
	StateIdle State = "idle"
	// StateFixing means the last build failed and the session is
	// suspended waiting for code fixes before the next attempt.
	StateFixing State = "fixing"
	// StateSuccess is terminal: the build command exited zero.
	StateSuccess State = "success"
	// StateExhausted is terminal: MaxAttempts builds failed.
	StateExhausted State = "exhausted"
	// StateError is terminal: a sync or transport failure aborted the
	// cycle before the build outcome could be observed.
	StateError State = "error"
)

// Terminal reports whether no further attempts are possible.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateExhausted || s == StateError
}

// Diagnostic is one build message tied to a source location, with the
// remote path already mapped back to the local tree so editors can open
// it directly.
type Diagnostic struct {
	RemotePath string `json:"remote_path"`
	LocalPath  string `json:"local_path"`
	Line       int    `json:"line"`
	Column     int    `json:"column,omitempty"`
	Text       string `json:"text"`
}

// Attempt outcomes. An attempt that never observes a build result is
// not recorded, so Outcome is always one of these on completed attempts.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// Attempt is one completed sync+build cycle.
type Attempt struct {
	Number      int                `json:"number"`
	Outcome     string             `json:"outcome"`
	Sync        *rclone.SyncResult `json:"sync,omitempty"`
	Build       *sshexec.Result    `json:"build,omitempty"`
	Diagnostics []Diagnostic       `json:"diagnostics"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
}

// Succeeded reports whether this attempt's build exited zero.
func (a *Attempt) Succeeded() bool {
	return a.Build != nil && a.Build.ExitCode == 0
}

// ExhaustedError is returned when the attempt budget runs out without a
// successful build. It carries the full history so callers can show
// what was tried.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("build did not succeed after %d attempts", len(e.Attempts))
}

// Recorder persists attempt history. The zero implementation is a
// no-op; cmd wires the sqlite store in here.
type Recorder interface {
	SessionStarted(ctx context.Context, sessionID, buildCommand string) error
	AttemptFinished(ctx context.Context, sessionID string, attempt Attempt) error
	SessionFinished(ctx context.Context, sessionID string, outcome State) error
}

type nopRecorder struct{}

func (nopRecorder) SessionStarted(context.Context, string, string) error   { return nil }
func (nopRecorder) AttemptFinished(context.Context, string, Attempt) error { return nil }
func (nopRecorder) SessionFinished(context.Context, string, State) error   { return nil }

// Session is one bounded build-fix cycle against a single project.
// Not safe for concurrent use; one attempt runs at a time.
type Session struct {
	id       string
	profile  *config.Profile
	runner   rclone.Runner
	executor sshexec.Executor
	mapper   *pathmap.Mapper
	recorder Recorder
	logger   *log.Logger

	state    State
	attempts []Attempt
	started  bool
}

// Option configures a Session.
type Option func(*Session)

// WithRecorder persists attempts through the given recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Session) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithID resumes an existing session id instead of minting a new one.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// NewSession validates the profile and prepares a session in StateIdle.
// The profile must be complete and carry a build command; nothing is
// synced or executed until the first RunAttempt.
func NewSession(profile *config.Profile, runner rclone.Runner, executor sshexec.Executor, opts ...Option) (*Session, error) {
	if err := profile.RequireComplete(); err != nil {
		return nil, err
	}
	if profile.BuildCommand == "" {
		return nil, &config.ConfigError{Path: profile.ProjectPath,
			Err: errors.New("BUILD_COMMAND must be set to run the build loop")}
	}
	s := &Session{
		id:       ulid.Make().String(),
		profile:  profile,
		runner:   runner,
		executor: executor,
		mapper:   pathmap.New(profile.LocalRoot, profile.RemoteRoot),
		recorder: nopRecorder{},
		logger:   logging.Discard(),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current cycle state.
func (s *Session) State() State { return s.state }

// Attempts returns the completed attempt history.
func (s *Session) Attempts() []Attempt { return s.attempts }

// Remaining returns how many attempts are left in the budget.
func (s *Session) Remaining() int { return MaxAttempts - len(s.attempts) }

// RunAttempt performs one sync+build cycle and advances the state
// machine. On build failure before the budget runs out, the session
// suspends in StateFixing and the returned attempt carries diagnostics
// mapped to local paths. The fifth failure returns an ExhaustedError.
func (s *Session) RunAttempt(ctx context.Context) (*Attempt, error) {
	if s.state.Terminal() {
		return nil, fmt.Errorf("session %s is %s; no further attempts possible", s.id, s.state)
	}
	if !s.started {
		if err := s.recorder.SessionStarted(ctx, s.id, s.profile.BuildCommand); err != nil {
			s.logger.Warn("could not record session start", "err", err)
		}
		s.started = true
	}

	attempt := Attempt{
		Number:      len(s.attempts) + 1,
		Diagnostics: []Diagnostic{},
		StartedAt:   time.Now(),
	}
	s.logger.Info("starting build attempt", "session", s.id,
		"attempt", attempt.Number, "max", MaxAttempts)

	// Rules are re-read every attempt; the caller may have edited
	// .sync_rules along with the source fixes while suspended.
	rules, err := filter.Load(s.profile.LocalRoot)
	if err != nil {
		s.finish(ctx, StateError)
		return nil, err
	}

	sync, err := s.runner.Sync(ctx, rclone.SyncRequest{
		LocalDir:     s.profile.LocalRoot,
		RemoteDir:    s.profile.RemoteRoot,
		Filters:      rules,
		DeleteExcess: true,
	})
	if err != nil {
		s.finish(ctx, StateError)
		return nil, err
	}
	attempt.Sync = sync

	build, err := s.executor.Run(ctx, s.profile.BuildCommand, s.profile.RemoteRoot)
	if err != nil {
		s.finish(ctx, StateError)
		return nil, err
	}
	attempt.Build = build
	attempt.Diagnostics = s.diagnose(build)
	attempt.Outcome = OutcomeFailed
	if attempt.Succeeded() {
		attempt.Outcome = OutcomeSuccess
	}
	attempt.FinishedAt = time.Now()

	s.attempts = append(s.attempts, attempt)
	if err := s.recorder.AttemptFinished(ctx, s.id, attempt); err != nil {
		s.logger.Warn("could not record attempt", "err", err)
	}

	switch {
	case attempt.Succeeded():
		s.logger.Info("build succeeded", "session", s.id, "attempt", attempt.Number)
		s.finish(ctx, StateSuccess)
	case len(s.attempts) >= MaxAttempts:
		s.logger.Warn("attempt budget exhausted", "session", s.id)
		s.finish(ctx, StateExhausted)
		return &s.attempts[len(s.attempts)-1], &ExhaustedError{Attempts: s.attempts}
	default:
		s.logger.Info("build failed, awaiting fixes", "session", s.id,
			"attempt", attempt.Number, "diagnostics", len(attempt.Diagnostics))
		s.state = StateFixing
	}

	return &s.attempts[len(s.attempts)-1], nil
}

func (s *Session) finish(ctx context.Context, outcome State) {
	s.state = outcome
	if err := s.recorder.SessionFinished(ctx, s.id, outcome); err != nil {
		s.logger.Warn("could not record session outcome", "err", err)
	}
}

// diagnose extracts source locations under the remote root from the
// build output and maps them back to local paths. Lines without a
// mappable location are left out; the full output stays on the Attempt.
func (s *Session) diagnose(build *sshexec.Result) []Diagnostic {
	if build.ExitCode == 0 {
		return []Diagnostic{}
	}
	pattern := regexp.MustCompile(
		regexp.QuoteMeta(s.profile.RemoteRoot) + `/(\S+?):(\d+)(?::(\d+))?`)

	diags := []Diagnostic{}
	seen := map[string]bool{}
	for _, text := range []string{build.Stderr, build.Stdout} {
		for _, m := range pattern.FindAllStringSubmatch(text, -1) {
			remotePath := s.profile.RemoteRoot + "/" + m[1]
			localPath, err := s.mapper.ToLocal(remotePath)
			if err != nil {
				continue
			}
			line, _ := strconv.Atoi(m[2])
			col := 0
			if m[3] != "" {
				col, _ = strconv.Atoi(m[3])
			}
			key := fmt.Sprintf("%s:%d:%d", remotePath, line, col)
			if seen[key] {
				continue
			}
			seen[key] = true
			diags = append(diags, Diagnostic{
				RemotePath: remotePath,
				LocalPath:  localPath,
				Line:       line,
				Column:     col,
				Text:       m[0],
			})
		}
	}
	return diags
}
