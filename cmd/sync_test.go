package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"cloudbuilder/internal/output"
	"cloudbuilder/internal/rclone"
)

func newTestUI(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	prev := ui
	ui = &output.UI{Out: out, ErrOut: errOut}
	t.Cleanup(func() { ui = prev })
	return out, errOut
}

func TestPrintSyncResult_UpToDate(t *testing.T) {
	out, _ := newTestUI(t)

	printSyncResult(&rclone.SyncResult{
		Stats: rclone.SyncStats{Checks: 12},
	})

	assert.Contains(t, out.String(), "Already up to date")
	assert.Contains(t, out.String(), "12")
}

func TestPrintSyncResult_UploadsAndErrors(t *testing.T) {
	out, errOut := newTestUI(t)

	printSyncResult(&rclone.SyncResult{
		Uploaded: []rclone.FileEntry{
			{Path: "src/main.c", Size: 1024},
			{Path: "src/util.c", Size: 64},
		},
		Deleted: []string{"src/stale.c"},
		Errors:  []string{"src/locked.c: permission denied"},
	})

	assert.Contains(t, out.String(), "src/main.c")
	assert.Contains(t, out.String(), "Uploaded 2 file(s)")
	assert.Contains(t, out.String(), "Deleted 1 remote file(s)")
	assert.Contains(t, errOut.String(), "permission denied")
}

func TestDryRunMessage(t *testing.T) {
	_, errOut := newTestUI(t)
	ui.DryRun = true

	ui.DryRunMsg("no files will be transferred or deleted")

	assert.Contains(t, errOut.String(), "DRY-RUN")
	assert.Contains(t, errOut.String(), "no files will be transferred")
}

func TestVersionCommand(t *testing.T) {
	out, _ := newTestUI(t)
	buildVersion = "1.2.3"
	buildCommit = "abc123"

	versionCmd.Run(versionCmd, nil)

	assert.Contains(t, out.String(), "1.2.3")
	assert.Contains(t, out.String(), "abc123")
}
