// Package mcp exposes the remote build workflow as MCP tools over
// stdio. Stdout carries the protocol; all logging goes to stderr.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/text/encoding/ianaindex"

	"cloudbuilder/internal/buildloop"
	"cloudbuilder/internal/config"
	"cloudbuilder/internal/filter"
	"cloudbuilder/internal/history"
	"cloudbuilder/internal/logging"
	"cloudbuilder/internal/pathmap"
	"cloudbuilder/internal/rclone"
	"cloudbuilder/internal/sshexec"
)

// Version reported in the MCP handshake.
const Version = "1.0.0"

// Server wraps the sync and build layers and exposes them as MCP tools.
type Server struct {
	profile  *config.Profile
	runner   rclone.Runner
	executor sshexec.Executor
	store    history.Store
	logger   *log.Logger

	// session is the active build loop, nil until run_build_attempt
	// starts one. One session at a time; the loop is sequential.
	session *buildloop.Session
}

// NewServer creates the MCP server wrapper. executor and store may be
// nil; the affected tools then report a configuration error instead of
// failing at startup, so introspection keeps working on a half
// configured machine.
func NewServer(profile *config.Profile, runner rclone.Runner, executor sshexec.Executor, store history.Store, logger *log.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{
		profile:  profile,
		runner:   runner,
		executor: executor,
		store:    store,
		logger:   logger,
	}
}

// MCPServer returns a configured mcp-go server with all tools,
// resources, and prompts registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("cloudbuilder", Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
	)

	srv.AddTool(s.syncDirectoryTool())
	srv.AddTool(s.uploadFileTool())
	srv.AddTool(s.readRemoteFileTool())
	srv.AddTool(s.executeRemoteCommandTool())
	srv.AddTool(s.listRemoteDirectoryTool())
	srv.AddTool(s.runBuildAttemptTool())
	srv.AddTool(s.buildSessionStatusTool())

	srv.AddResource(s.configResource())

	for _, p := range s.prompts() {
		srv.AddPrompt(p.prompt, p.handler)
	}

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// mapper builds the path mapper for the current profile. Callers must
// have checked profile completeness first.
func (s *Server) mapper() *pathmap.Mapper {
	return pathmap.New(s.profile.LocalRoot, s.profile.RemoteRoot)
}

// requireComplete guards every tool that spawns a subprocess or opens a
// connection. Nothing runs against an incomplete profile.
func (s *Server) requireComplete() *mcp.CallToolResult {
	if err := s.profile.RequireComplete(); err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// sync_directory
func (s *Server) syncDirectoryTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("sync_directory",
		mcp.WithDescription("Synchronize a local directory to the remote build host. Defaults to the configured project roots. Filter rules from .sync_rules apply in order. Returns a JSON report of uploaded, deleted, and skipped files."),
		mcp.WithString("local_path", mcp.Description("Local directory to sync (default: configured LOCAL_PATH)")),
		mcp.WithString("remote_path", mcp.Description("Remote destination directory (default: configured REMOTE_PATH)")),
		mcp.WithBoolean("delete_excess", mcp.Description("Delete remote files absent locally so the remote mirrors the local tree (default: true)")),
	)
	return tool, s.handleSyncDirectory
}

func (s *Server) handleSyncDirectory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if res := s.requireComplete(); res != nil {
		return res, nil
	}

	localPath := request.GetString("local_path", s.profile.LocalRoot)
	remotePath := request.GetString("remote_path", s.profile.RemoteRoot)

	rules, err := filter.Load(s.profile.LocalRoot)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.runner.Sync(ctx, rclone.SyncRequest{
		LocalDir:     localPath,
		RemoteDir:    remotePath,
		Filters:      rules,
		DeleteExcess: request.GetBool("delete_excess", true),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("sync failed: %v", err)), nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal sync result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// upload_file
func (s *Server) uploadFileTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("upload_file",
		mcp.WithDescription("Upload a single local file to the remote build host. When remote_path is omitted the file must live under the configured LOCAL_PATH and lands at the corresponding remote location."),
		mcp.WithString("local_file", mcp.Required(), mcp.Description("Path of the local file to upload")),
		mcp.WithString("remote_path", mcp.Description("Remote destination file path (default: mapped from local_file)")),
	)
	return tool, s.handleUploadFile
}

func (s *Server) handleUploadFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if res := s.requireComplete(); res != nil {
		return res, nil
	}

	localFile, err := request.RequireString("local_file")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: local_file"), nil
	}

	remotePath := request.GetString("remote_path", "")
	if remotePath == "" {
		mapped, err := s.mapper().ToRemote(localFile)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		remotePath = mapped
	}

	result, err := s.runner.Upload(ctx, localFile, remotePath)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("upload failed: %v", err)), nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal upload result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// read_remote_file
func (s *Server) readRemoteFileTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("read_remote_file",
		mcp.WithDescription("Read a file from the remote build host and return its text content. Binary-safe transfer; content is decoded using the given character encoding."),
		mcp.WithString("remote_path", mcp.Required(), mcp.Description("Remote file path to read")),
		mcp.WithString("encoding", mcp.Description("IANA character encoding of the file (default: utf-8)")),
	)
	return tool, s.handleReadRemoteFile
}

func (s *Server) handleReadRemoteFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if res := s.requireComplete(); res != nil {
		return res, nil
	}

	remotePath, err := request.RequireString("remote_path")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: remote_path"), nil
	}
	encodingName := request.GetString("encoding", "utf-8")

	raw, err := s.runner.Cat(ctx, remotePath)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read failed: %v", err)), nil
	}

	text, err := decodeText(raw, encodingName)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

// decodeText converts raw file bytes to UTF-8 using an IANA encoding
// name.
func decodeText(raw []byte, encodingName string) (string, error) {
	enc, err := ianaindex.IANA.Encoding(encodingName)
	if err != nil || enc == nil {
		return "", fmt.Errorf("unknown encoding %q", encodingName)
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("decode as %s: %w", encodingName, err)
	}
	if !utf8.Valid(decoded) {
		return "", fmt.Errorf("file is not valid %s text", encodingName)
	}
	return string(decoded), nil
}

// execute_remote_command
func (s *Server) executeRemoteCommandTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("execute_remote_command",
		mcp.WithDescription("Execute a shell command on the remote build host over SSH. A non-zero exit code is a normal result, returned with the captured output. Returns JSON with exit_code, stdout, and stderr."),
		mcp.WithString("command", mcp.Required(), mcp.Description("Shell command to execute")),
		mcp.WithString("working_directory", mcp.Description("Remote directory to run in (default: configured REMOTE_PATH)")),
	)
	return tool, s.handleExecuteRemoteCommand
}

func (s *Server) handleExecuteRemoteCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if res := s.requireComplete(); res != nil {
		return res, nil
	}
	if s.executor == nil {
		return mcp.NewToolResultError(fmt.Sprintf("remote %q has no SSH access configured; check rclone.conf", s.profile.RemoteAlias)), nil
	}

	command, err := request.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: command"), nil
	}
	workDir := request.GetString("working_directory", s.profile.RemoteRoot)

	result, err := s.executor.Run(ctx, command, workDir)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("remote execution failed: %v", err)), nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// list_remote_directory
func (s *Server) listRemoteDirectoryTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("list_remote_directory",
		mcp.WithDescription("List the contents of a directory on the remote build host. Returns a JSON array of entries with name, size, and is_directory."),
		mcp.WithString("remote_path", mcp.Description("Remote directory to list (default: configured REMOTE_PATH)")),
	)
	return tool, s.handleListRemoteDirectory
}

func (s *Server) handleListRemoteDirectory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if res := s.requireComplete(); res != nil {
		return res, nil
	}

	remotePath := request.GetString("remote_path", s.profile.RemoteRoot)
	entries, err := s.runner.List(ctx, remotePath)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal entries: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// run_build_attempt
func (s *Server) runBuildAttemptTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("run_build_attempt",
		mcp.WithDescription("Run one sync-and-build attempt against the remote host. On failure the session suspends with diagnostics mapped to local file paths; apply fixes locally and call again. At most 5 attempts per session. Returns JSON with the session state, attempt result, and diagnostics."),
		mcp.WithBoolean("restart", mcp.Description("Discard the current session and start a fresh one (default: false)")),
	)
	return tool, s.handleRunBuildAttempt
}

// attemptReport is the tool-facing view of a build attempt.
type attemptReport struct {
	SessionID string             `json:"session_id"`
	State     buildloop.State    `json:"state"`
	Attempt   *buildloop.Attempt `json:"attempt,omitempty"`
	Remaining int                `json:"attempts_remaining"`
	Guidance  string             `json:"guidance,omitempty"`
}

func (s *Server) handleRunBuildAttempt(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if res := s.requireComplete(); res != nil {
		return res, nil
	}
	if s.executor == nil {
		return mcp.NewToolResultError(fmt.Sprintf("remote %q has no SSH access configured; check rclone.conf", s.profile.RemoteAlias)), nil
	}

	if request.GetBool("restart", false) {
		s.session = nil
	}
	if s.session == nil || s.session.State().Terminal() {
		opts := []buildloop.Option{buildloop.WithLogger(s.logger)}
		if s.store != nil {
			opts = append(opts, buildloop.WithRecorder(history.NewRecorder(s.store)))
		}
		session, err := buildloop.NewSession(s.profile, s.runner, s.executor, opts...)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		s.session = session
	}

	attempt, err := s.session.RunAttempt(ctx)
	report := attemptReport{
		SessionID: s.session.ID(),
		State:     s.session.State(),
		Attempt:   attempt,
		Remaining: s.session.Remaining(),
	}

	switch s.session.State() {
	case buildloop.StateSuccess:
		report.Guidance = "Build succeeded."
	case buildloop.StateFixing:
		report.Guidance = "Build failed. Fix the listed local files, then call run_build_attempt again."
	case buildloop.StateExhausted:
		report.Guidance = "Attempt budget exhausted. Review the diagnostics and restart when ready."
	}

	if err != nil {
		// Exhaustion still returns the final attempt report; anything
		// else is a transport or sync failure.
		var exhausted *buildloop.ExhaustedError
		if !errors.As(err, &exhausted) {
			return mcp.NewToolResultError(fmt.Sprintf("build attempt failed: %v", err)), nil
		}
	}

	data, err := json.Marshal(report)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal report: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// build_session_status
func (s *Server) buildSessionStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("build_session_status",
		mcp.WithDescription("Report the state of the current build session: attempts used, remaining budget, and the diagnostics of the last attempt. Returns JSON."),
	)
	return tool, s.handleBuildSessionStatus
}

func (s *Server) handleBuildSessionStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.session == nil {
		return mcp.NewToolResultText(`{"state":"none","detail":"no build session started; call run_build_attempt"}`), nil
	}

	attempts := s.session.Attempts()
	report := attemptReport{
		SessionID: s.session.ID(),
		State:     s.session.State(),
		Remaining: s.session.Remaining(),
	}
	if len(attempts) > 0 {
		report.Attempt = &attempts[len(attempts)-1]
	}

	data, err := json.Marshal(report)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal report: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
