package rclone

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cloudbuilder/internal/filter"
)

// Timeout ceilings per operation, matching the transfer profile of each
// command. There is no separate watchdog; the context deadline is the
// only limit.
const (
	syncTimeout   = time.Hour
	catTimeout    = 5 * time.Minute
	listTimeout   = time.Minute
	mkdirTimeout  = time.Minute
	uploadMinWait = time.Minute
	uploadMaxWait = time.Hour
	// Upload timeouts assume a floor transfer speed of 100 KiB/s.
	uploadFloorBytesPerSec = 100 * 1024
)

// Runner is the narrow adapter the rest of the core depends on. Tool is
// the real implementation; tests substitute mocks.
type Runner interface {
	Sync(ctx context.Context, req SyncRequest) (*SyncResult, error)
	Upload(ctx context.Context, localFile, remotePath string) (*UploadResult, error)
	Cat(ctx context.Context, remotePath string) ([]byte, error)
	List(ctx context.Context, remotePath string) ([]Entry, error)
	EnsureDir(ctx context.Context, remotePath string) error
}

var _ Runner = (*Tool)(nil)

// SyncRequest describes one directory synchronization.
type SyncRequest struct {
	LocalDir  string
	RemoteDir string
	Filters   filter.RuleSet
	// DeleteExcess removes remote files absent from the local tree so
	// the remote mirrors the local directory exactly.
	DeleteExcess bool
	// DryRun passes --dry-run to rclone: it reports what would transfer
	// without touching the remote.
	DryRun bool
}

// FileEntry is one transferred file.
type FileEntry struct {
	Path string `json:"path"`
	Size int64  `json:"size,omitempty"`
}

// SyncStats is the parsed rclone transfer summary.
type SyncStats struct {
	Transferred int    `json:"transferred"`
	Errors      int    `json:"errors"`
	Checks      int    `json:"checks"`
	Elapsed     string `json:"elapsed,omitempty"`
}

// SyncResult is the canonical outcome of one sync call. Per-file
// transfer failures are collected in Errors; they do not abort the
// operation.
type SyncResult struct {
	LocalDir    string      `json:"local_dir"`
	RemoteDir   string      `json:"remote_dir"`
	RemoteDest  string      `json:"remote_dest"`
	Uploaded    []FileEntry `json:"uploaded"`
	CreatedDirs []string    `json:"created_dirs"`
	Deleted     []string    `json:"deleted"`
	Skipped     []string    `json:"skipped"`
	Errors      []string    `json:"errors"`
	Stats       SyncStats   `json:"stats"`
	ExitCode    int         `json:"exit_code"`
}

// UploadResult is the outcome of a single-file copy.
type UploadResult struct {
	LocalFile  string `json:"local_file"`
	RemoteFile string `json:"remote_file"`
	RemoteDest string `json:"remote_dest"`
	Size       int64  `json:"size"`
	ExitCode   int    `json:"exit_code"`
}

// Entry is one item of a remote directory listing.
type Entry struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	IsDir   bool   `json:"is_directory"`
	ModTime string `json:"modified_time,omitempty"`
}

// Sync mirrors localDir to the remote directory. With DeleteExcess it
// runs `rclone sync` (remote-only files removed); without it, `rclone
// copy` (remote-only files untouched). Filters pass through in order,
// unmodified, because rclone's first-match-wins semantics must be
// preserved exactly.
func (t *Tool) Sync(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	local, err := filepath.Abs(req.LocalDir)
	if err != nil {
		return nil, &InvokeError{Op: "sync", Err: err}
	}
	if _, err := os.Stat(local); err != nil {
		return nil, &InvokeError{Op: "sync", Err: fmt.Errorf("local path does not exist: %s", local)}
	}

	if err := t.EnsureDir(ctx, req.RemoteDir); err != nil {
		return nil, err
	}

	dest := t.remoteDest(req.RemoteDir)
	args := syncArgs(req, local, dest)
	verb := args[0]

	t.logger.Info("syncing directory", "local", local, "dest", dest,
		"delete_excess", req.DeleteExcess, "dry_run", req.DryRun)
	raw, err := t.invoke(ctx, verb, syncTimeout, args...)
	if err != nil {
		return nil, err
	}

	result := parseSyncLog(raw.Stderr)
	result.LocalDir = local
	result.RemoteDir = req.RemoteDir
	result.RemoteDest = dest
	result.ExitCode = raw.ExitCode

	if raw.ExitCode != 0 && len(result.Errors) == 0 {
		// Non-zero exit with nothing classified means the whole
		// invocation failed, not individual files.
		return nil, &InvokeError{Op: verb, ExitCode: raw.ExitCode, Stderr: raw.Stderr}
	}

	t.logger.Info("sync completed", "transferred", result.Stats.Transferred,
		"errors", len(result.Errors), "elapsed", result.Stats.Elapsed)
	return result, nil
}

// syncArgs builds the rclone argument vector for a sync request. The
// verb is always args[0]: sync mirrors (deleting remote-only files),
// copy leaves them alone.
func syncArgs(req SyncRequest, local, dest string) []string {
	verb := "copy"
	if req.DeleteExcess {
		verb = "sync"
	}
	args := []string{verb, "--use-json-log", "--verbose", "--stats", "1s"}
	if req.DryRun {
		args = append(args, "--dry-run")
	}
	for _, rule := range req.Filters {
		args = append(args, "--filter", rule.Arg())
	}
	return append(args, local, dest)
}

// Upload copies a single local file to the remote path. The timeout
// scales with file size so large artifacts on slow links still finish.
func (t *Tool) Upload(ctx context.Context, localFile, remotePath string) (*UploadResult, error) {
	local, err := filepath.Abs(localFile)
	if err != nil {
		return nil, &InvokeError{Op: "copyto", Err: err}
	}
	info, err := os.Stat(local)
	if err != nil {
		return nil, &InvokeError{Op: "copyto", Err: fmt.Errorf("local file does not exist: %s", local)}
	}
	if info.IsDir() {
		return nil, &InvokeError{Op: "copyto", Err: fmt.Errorf("path is not a file: %s", local)}
	}

	if dir := path.Dir(remotePath); dir != "." && dir != "/" && dir != "" {
		if err := t.EnsureDir(ctx, dir); err != nil {
			return nil, err
		}
	}

	timeout := uploadTimeout(info.Size())
	dest := t.remoteDest(remotePath)
	t.logger.Info("uploading file", "local", local, "dest", dest, "size", info.Size())

	raw, err := t.invoke(ctx, "copyto", timeout, "copyto", "--verbose", local, dest)
	if err != nil {
		return nil, err
	}
	if raw.ExitCode != 0 {
		return nil, &InvokeError{Op: "copyto", ExitCode: raw.ExitCode, Stderr: raw.Stderr}
	}

	return &UploadResult{
		LocalFile:  local,
		RemoteFile: remotePath,
		RemoteDest: dest,
		Size:       info.Size(),
		ExitCode:   raw.ExitCode,
	}, nil
}

// Cat reads a remote file and returns its raw bytes.
func (t *Tool) Cat(ctx context.Context, remotePath string) ([]byte, error) {
	dest := t.remoteDest(remotePath)
	raw, err := t.invoke(ctx, "cat", catTimeout, "cat", dest)
	if err != nil {
		return nil, err
	}
	if raw.ExitCode != 0 {
		if isNotFound(raw.Stderr) {
			return nil, &InvokeError{Op: "cat", ExitCode: raw.ExitCode,
				Err: fmt.Errorf("file not found on remote: %s", remotePath)}
		}
		return nil, &InvokeError{Op: "cat", ExitCode: raw.ExitCode, Stderr: raw.Stderr}
	}
	return raw.Stdout, nil
}

// lsjsonItem mirrors one object of `rclone lsjson` output.
type lsjsonItem struct {
	Path    string `json:"Path"`
	Name    string `json:"Name"`
	Size    int64  `json:"Size"`
	IsDir   bool   `json:"IsDir"`
	ModTime string `json:"ModTime"`
}

// List returns the entries of a remote directory.
func (t *Tool) List(ctx context.Context, remotePath string) ([]Entry, error) {
	dest := t.remoteDest(remotePath)
	raw, err := t.invoke(ctx, "lsjson", listTimeout, "lsjson", dest)
	if err != nil {
		return nil, err
	}
	if raw.ExitCode != 0 {
		if isNotFound(raw.Stderr) {
			return nil, &InvokeError{Op: "lsjson", ExitCode: raw.ExitCode,
				Err: fmt.Errorf("directory not found: %s", remotePath)}
		}
		return nil, &InvokeError{Op: "lsjson", ExitCode: raw.ExitCode, Stderr: raw.Stderr}
	}

	out := strings.TrimSpace(string(raw.Stdout))
	if out == "" {
		return []Entry{}, nil
	}
	var items []lsjsonItem
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		return nil, &InvokeError{Op: "lsjson", Err: fmt.Errorf("parse listing: %w", err)}
	}

	entries := make([]Entry, len(items))
	for i, item := range items {
		name := item.Path
		if name == "" {
			name = item.Name
		}
		entries[i] = Entry{Name: name, Size: item.Size, IsDir: item.IsDir, ModTime: item.ModTime}
	}
	return entries, nil
}

// EnsureDir checks that a remote directory exists and creates it when
// missing. A concurrent creation by another process is tolerated.
func (t *Tool) EnsureDir(ctx context.Context, remotePath string) error {
	dest := t.remoteDest(remotePath)
	check, err := t.invoke(ctx, "lsd", listTimeout, "lsd", dest)
	if err != nil {
		return err
	}
	if check.ExitCode == 0 {
		return nil
	}
	if !isNotFound(check.Stderr) {
		return &InvokeError{Op: "lsd", ExitCode: check.ExitCode, Stderr: check.Stderr}
	}

	t.logger.Info("creating remote directory", "dest", dest)
	mk, err := t.invoke(ctx, "mkdir", mkdirTimeout, "mkdir", dest)
	if err != nil {
		return err
	}
	if mk.ExitCode != 0 && !strings.Contains(strings.ToLower(mk.Stderr), "exists") {
		return &InvokeError{Op: "mkdir", ExitCode: mk.ExitCode, Stderr: mk.Stderr}
	}
	return nil
}

func uploadTimeout(size int64) time.Duration {
	estimated := time.Duration(size/uploadFloorBytesPerSec)*time.Second + 30*time.Second
	if estimated < uploadMinWait {
		return uploadMinWait
	}
	if estimated > uploadMaxWait {
		return uploadMaxWait
	}
	return estimated
}

func isNotFound(stderr string) bool {
	s := strings.ToLower(stderr)
	for _, kw := range []string{"directory not found", "doesn't exist", "no such file", "not found"} {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// logLine mirrors one `--use-json-log` record. rclone writes these to
// stderr, one JSON object per line.
type logLine struct {
	Level  string `json:"level"`
	Msg    string `json:"msg"`
	Object string `json:"object"`
	Size   int64  `json:"size"`
}

// parseSyncLog classifies rclone's JSON log stream into the canonical
// SyncResult buckets. Lines that are not JSON (older backends mix plain
// text in) fall through to the stats parser.
func parseSyncLog(stderr string) *SyncResult {
	result := &SyncResult{
		Uploaded:    []FileEntry{},
		CreatedDirs: []string{},
		Deleted:     []string{},
		Skipped:     []string{},
		Errors:      []string{},
	}

	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var entry logLine
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			parseStatsLine(line, &result.Stats)
			continue
		}

		msg := entry.Msg
		switch {
		case entry.Level == "error":
			text := strings.TrimSpace(msg)
			if entry.Object != "" {
				text = entry.Object + ": " + text
			}
			result.Errors = append(result.Errors, text)
		case strings.HasPrefix(msg, "Copied") || strings.HasPrefix(msg, "Transferred (") ||
			strings.HasPrefix(msg, "Multi-thread Copied"):
			if entry.Object != "" {
				result.Uploaded = append(result.Uploaded, FileEntry{Path: entry.Object, Size: entry.Size})
			}
		case strings.HasPrefix(msg, "Deleted") || strings.HasPrefix(msg, "Removed"):
			if entry.Object != "" {
				result.Deleted = append(result.Deleted, entry.Object)
			}
		case strings.Contains(msg, "Made directory") || strings.Contains(msg, "Created directory"):
			if entry.Object != "" {
				result.CreatedDirs = append(result.CreatedDirs, entry.Object)
			}
		case strings.Contains(msg, "skipping") || strings.Contains(msg, "Unchanged"):
			if entry.Object != "" {
				result.Skipped = append(result.Skipped, entry.Object)
			}
		default:
			// Stats summaries arrive as multi-line messages.
			for _, statsLine := range strings.Split(msg, "\n") {
				parseStatsLine(statsLine, &result.Stats)
			}
		}
	}

	return result
}

// parseStatsLine extracts one figure from rclone's transfer summary,
// e.g. "Transferred:   5 / 5, 100%" or "Elapsed time:   2.1s".
func parseStatsLine(line string, stats *SyncStats) {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, "Transferred:") && strings.Contains(line, "/"):
		rest := strings.TrimSpace(strings.TrimPrefix(line, "Transferred:"))
		if fields := strings.Fields(rest); len(fields) > 0 {
			if n, err := strconv.Atoi(fields[0]); err == nil {
				stats.Transferred = n
			}
		}
	case strings.HasPrefix(line, "Errors:"):
		rest := strings.TrimSpace(strings.TrimPrefix(line, "Errors:"))
		if fields := strings.Fields(rest); len(fields) > 0 {
			if n, err := strconv.Atoi(fields[0]); err == nil {
				stats.Errors = n
			}
		}
	case strings.HasPrefix(line, "Checks:"):
		rest := strings.TrimSpace(strings.TrimPrefix(line, "Checks:"))
		if fields := strings.Fields(rest); len(fields) > 0 {
			if n, err := strconv.Atoi(fields[0]); err == nil {
				stats.Checks = n
			}
		}
	case strings.HasPrefix(line, "Elapsed time:"):
		stats.Elapsed = strings.TrimSpace(strings.TrimPrefix(line, "Elapsed time:"))
	}
}
