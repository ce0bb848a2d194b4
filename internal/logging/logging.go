// Package logging configures the shared stderr logger. Stdout belongs
// to the MCP stdio transport, so nothing may ever log there.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// New returns a logger writing to stderr. Verbose lowers the level to
// Debug, which includes full subprocess command lines.
func New(verbose bool) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          "cloudbuilder",
	})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

// Discard returns a logger that drops everything; used by tests and as
// the fallback when a constructor receives a nil logger.
func Discard() *log.Logger {
	return log.New(io.Discard)
}
