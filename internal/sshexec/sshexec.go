// Package sshexec runs commands on the remote build host over SSH.
// Command failure (non-zero exit) is a normal result; only transport
// problems surface as errors.
package sshexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/x/ansi"
	"golang.org/x/crypto/ssh"

	"cloudbuilder/internal/logging"
)

// DialTimeout bounds the TCP connect plus SSH handshake.
const DialTimeout = 15 * time.Second

// Target identifies the host to connect to. Password never appears in
// any error or log produced by this package.
type Target struct {
	Host     string
	Port     int
	User     string
	Password string
}

// Addr renders host:port for dialing.
func (t Target) Addr() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(t.Host, fmt.Sprintf("%d", port))
}

// Result is one completed remote command.
type Result struct {
	Command  string `json:"command"`
	WorkDir  string `json:"working_directory,omitempty"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Success reports whether the command exited zero.
func (r *Result) Success() bool { return r.ExitCode == 0 }

// ExecError is a transport-level failure: connection refused, auth
// rejected, session setup failed. It never wraps a command's own exit
// status.
type ExecError struct {
	Host string
	Op   string
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("ssh %s to %s failed: %v", e.Op, e.Host, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Executor is the remote command surface the build loop and MCP layer
// depend on.
type Executor interface {
	Run(ctx context.Context, command, workDir string) (*Result, error)
}

// Client dials a fresh SSH connection per command. Build commands are
// infrequent enough that connection reuse is not worth the idle-session
// bookkeeping.
type Client struct {
	target Target
	logger *log.Logger
}

var _ Executor = (*Client)(nil)

// NewClient returns a client for the given target.
func NewClient(target Target, logger *log.Logger) (*Client, error) {
	if target.Host == "" {
		return nil, &ExecError{Op: "init", Err: errors.New("host must be set")}
	}
	if target.User == "" {
		return nil, &ExecError{Host: target.Host, Op: "init", Err: errors.New("user must be set")}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{target: target, logger: logger}, nil
}

// Run executes a command on the remote host. With workDir set, the
// command runs as `cd <dir> && <command>` so relative paths resolve
// against the project tree.
func (c *Client) Run(ctx context.Context, command, workDir string) (*Result, error) {
	if strings.TrimSpace(command) == "" {
		return nil, &ExecError{Host: c.target.Host, Op: "run", Err: errors.New("command must not be empty")}
	}

	full := command
	if workDir != "" {
		full = fmt.Sprintf("cd %s && %s", shellQuote(workDir), command)
	}

	config := &ssh.ClientConfig{
		User:            c.target.User,
		Auth:            []ssh.AuthMethod{ssh.Password(c.target.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         DialTimeout,
	}

	c.logger.Debug("dialing ssh", "addr", c.target.Addr(), "user", c.target.User)
	conn, err := ssh.Dial("tcp", c.target.Addr(), config)
	if err != nil {
		return nil, &ExecError{Host: c.target.Host, Op: "dial", Err: sanitize(err, c.target.Password)}
	}
	defer conn.Close()

	session, err := conn.NewSession()
	if err != nil {
		return nil, &ExecError{Host: c.target.Host, Op: "session", Err: err}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	// ssh sessions have no context support; closing the connection
	// unblocks Run when the context is canceled.
	done := make(chan error, 1)
	go func() { done <- session.Run(full) }()

	c.logger.Info("executing remote command", "host", c.target.Host, "workdir", workDir)
	select {
	case <-ctx.Done():
		conn.Close()
		<-done
		return nil, &ExecError{Host: c.target.Host, Op: "run", Err: ctx.Err()}
	case err = <-done:
	}

	result := &Result{
		Command: command,
		WorkDir: workDir,
		Stdout:  ansi.Strip(stdout.String()),
		Stderr:  ansi.Strip(stderr.String()),
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
		} else {
			return nil, &ExecError{Host: c.target.Host, Op: "run", Err: err}
		}
	}

	c.logger.Debug("remote command finished", "exit_code", result.ExitCode,
		"stdout_bytes", len(result.Stdout), "stderr_bytes", len(result.Stderr))
	return result, nil
}

// shellQuote wraps a path in single quotes for the remote shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// sanitize guards against transport errors that echo credentials back.
func sanitize(err error, password string) error {
	if password == "" {
		return err
	}
	msg := err.Error()
	if strings.Contains(msg, password) {
		return errors.New(strings.ReplaceAll(msg, password, "[redacted]"))
	}
	return err
}
