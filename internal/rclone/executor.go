// Package rclone invokes the external rclone executable and normalizes
// its heterogeneous output into canonical result shapes. Everything
// backend-specific is contained here; the rest of the core only sees
// SyncResult, Entry, and friends.
package rclone

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/log"

	"cloudbuilder/internal/logging"
)

// InvokeError is a fatal transfer-tool invocation failure: the
// executable could not be spawned, the remote alias could not be
// resolved, or the process was killed by a timeout. Per-file transfer
// errors are not InvokeErrors; they land in SyncResult.Errors.
type InvokeError struct {
	Op       string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *InvokeError) Error() string {
	msg := fmt.Sprintf("rclone %s failed", e.Op)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func (e *InvokeError) Unwrap() error { return e.Err }

// commandResult is the raw outcome of one rclone invocation.
type commandResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   string
}

// Tool runs rclone commands against a single remote alias.
type Tool struct {
	alias   string
	exePath string
	logger  *log.Logger
}

// NewTool validates the executable path (when explicitly set) and
// returns a Tool bound to the given remote alias.
func NewTool(alias, exePath string, logger *log.Logger) (*Tool, error) {
	if alias == "" {
		return nil, &InvokeError{Op: "init", Err: errors.New("remote alias must be set")}
	}
	if exePath != "" {
		if _, err := os.Stat(exePath); err != nil {
			return nil, &InvokeError{Op: "init", Err: fmt.Errorf("rclone executable not found at %s: %w", exePath, err)}
		}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Tool{alias: alias, exePath: exePath, logger: logger}, nil
}

// Alias returns the remote alias this tool targets.
func (t *Tool) Alias() string { return t.alias }

func (t *Tool) exe() string {
	if t.exePath != "" {
		return t.exePath
	}
	return "rclone"
}

// remoteDest renders alias:path for rclone command lines.
func (t *Tool) remoteDest(remotePath string) string {
	return t.alias + ":" + remotePath
}

// colorlessEnv returns the process environment with every color channel
// disabled. rclone output must stay ANSI-free so it parses as JSON.
func colorlessEnv() []string {
	env := os.Environ()
	out := env[:0]
	for _, kv := range env {
		if strings.HasPrefix(kv, "COLORTERM=") {
			continue
		}
		out = append(out, kv)
	}
	return append(out, "NO_COLOR=1", "RCLONE_COLOR=never", "TERM=dumb")
}

// invoke runs one rclone command with the given timeout ceiling.
// Stdout stays raw bytes (file reads must be binary-safe); stderr is
// ANSI-stripped text. A non-zero exit is returned in the result, not as
// an error; only spawn failures and timeouts produce an InvokeError.
func (t *Tool) invoke(ctx context.Context, op string, timeout time.Duration, args ...string) (*commandResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.exe(), args...)
	cmd.Env = colorlessEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	t.logger.Debug("invoking rclone", "op", op, "args", strings.Join(args, " "), "timeout", timeout)
	err := cmd.Run()

	res := &commandResult{
		Stdout: stdout.Bytes(),
		Stderr: ansi.Strip(stderr.String()),
	}

	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return nil, &InvokeError{Op: op, ExitCode: -1, Stderr: res.Stderr,
			Err: fmt.Errorf("timed out after %s", timeout)}
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			// Spawn failure: executable missing, permission denied.
			return nil, &InvokeError{Op: op, ExitCode: -1,
				Err: fmt.Errorf("%s: %w (install rclone or set RCLONE_EXE_PATH)", t.exe(), err)}
		}
	}

	t.logger.Debug("rclone finished", "op", op, "exit_code", res.ExitCode,
		"stdout_bytes", len(res.Stdout), "stderr_bytes", len(res.Stderr))
	return res, nil
}
