package history

import (
	"context"
	"encoding/json"

	"cloudbuilder/internal/buildloop"
)

// Recorder adapts a Store to the build loop's persistence hooks.
type Recorder struct {
	store Store
}

var _ buildloop.Recorder = (*Recorder)(nil)

// NewRecorder wraps a store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) SessionStarted(ctx context.Context, sessionID, buildCommand string) error {
	return r.store.CreateSession(ctx, &SessionRecord{
		ID:           sessionID,
		BuildCommand: buildCommand,
	})
}

func (r *Recorder) AttemptFinished(ctx context.Context, sessionID string, attempt buildloop.Attempt) error {
	detail, err := json.Marshal(attempt)
	if err != nil {
		return err
	}
	exitCode := 0
	if attempt.Build != nil {
		exitCode = attempt.Build.ExitCode
	}
	uploaded := 0
	if attempt.Sync != nil {
		uploaded = len(attempt.Sync.Uploaded)
	}
	return r.store.RecordAttempt(ctx, &AttemptRecord{
		SessionID:   sessionID,
		Number:      attempt.Number,
		ExitCode:    exitCode,
		Diagnostics: len(attempt.Diagnostics),
		Uploaded:    uploaded,
		Detail:      string(detail),
		StartedAt:   attempt.StartedAt,
		FinishedAt:  attempt.FinishedAt,
	})
}

func (r *Recorder) SessionFinished(ctx context.Context, sessionID string, outcome buildloop.State) error {
	return r.store.FinishSession(ctx, sessionID, string(outcome))
}
