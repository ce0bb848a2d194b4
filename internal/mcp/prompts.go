package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"cloudbuilder/internal/buildloop"
)

// registeredPrompt pairs a prompt definition with its handler.
type registeredPrompt struct {
	prompt  mcp.Prompt
	handler server.PromptHandlerFunc
}

// prompts returns the workflow prompts. Each renders a short playbook
// with the profile's actual paths substituted in, so the client can
// follow it without re-asking for configuration.
func (s *Server) prompts() []registeredPrompt {
	return []registeredPrompt{
		s.checkConfigPrompt(),
		s.syncProjectPrompt(),
		s.buildProjectPrompt(),
		s.syncAndBuildPrompt(),
	}
}

func (s *Server) promptResult(name, text string) *mcp.GetPromptResult {
	return mcp.NewGetPromptResult(name, []mcp.PromptMessage{
		mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(text)),
	})
}

func (s *Server) checkConfigPrompt() registeredPrompt {
	prompt := mcp.NewPrompt("check_config",
		mcp.WithPromptDescription("Verify the connection profile before doing any remote work."),
	)
	handler := func(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		text := fmt.Sprintf(
			"Verify the cloudbuilder configuration:\n"+
				"1. Read the %s resource and check connection_status.\n"+
				"2. If it reports incomplete, list the missing fields to the user; they come from "+
				".cloudbuilder.json in the project directory or the matching environment variables.\n"+
				"3. When complete, call list_remote_directory on %s to confirm the remote %q is reachable.\n"+
				"4. Report the resolved local and remote roots so the user can confirm they are the intended project.",
			ConfigResourceURI, orUnset(s.profile.RemoteRoot), s.profile.RemoteAlias)
		return s.promptResult("check_config", text), nil
	}
	return registeredPrompt{prompt, handler}
}

func (s *Server) syncProjectPrompt() registeredPrompt {
	prompt := mcp.NewPrompt("sync_project",
		mcp.WithPromptDescription("Mirror the local project tree to the remote build host."),
	)
	handler := func(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		text := fmt.Sprintf(
			"Sync the project to the remote host:\n"+
				"1. Call sync_directory with no arguments to mirror %s to %s on remote %q. "+
				"Filter rules from .sync_rules apply in file order.\n"+
				"2. Review the report: uploaded and deleted files should match your recent edits.\n"+
				"3. Per-file errors in the report do not abort the sync; resolve them (permissions, "+
				"locked files) and sync again.\n"+
				"4. Pass delete_excess=false when remote-only files must survive.",
			orUnset(s.profile.LocalRoot), orUnset(s.profile.RemoteRoot), s.profile.RemoteAlias)
		return s.promptResult("sync_project", text), nil
	}
	return registeredPrompt{prompt, handler}
}

func (s *Server) buildProjectPrompt() registeredPrompt {
	prompt := mcp.NewPrompt("build_project",
		mcp.WithPromptDescription("Drive the remote build to green with the bounded fix cycle."),
	)
	handler := func(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		text := fmt.Sprintf(
			"Build the project on the remote host and fix errors iteratively:\n"+
				"1. Call run_build_attempt. It syncs %s to %s and runs %s there.\n"+
				"2. On failure the response lists diagnostics with local file paths under %s. "+
				"Edit those local files to fix the reported errors. Do not edit anything on the remote.\n"+
				"3. Call run_build_attempt again; your edits are synced automatically.\n"+
				"4. Stop when the state is success, or after %d attempts when it is exhausted. "+
				"When exhausted, summarize the remaining errors instead of restarting blindly.",
			orUnset(s.profile.LocalRoot), orUnset(s.profile.RemoteRoot),
			orUnset(s.profile.BuildCommand), orUnset(s.profile.LocalRoot), buildloop.MaxAttempts)
		return s.promptResult("build_project", text), nil
	}
	return registeredPrompt{prompt, handler}
}

func (s *Server) syncAndBuildPrompt() registeredPrompt {
	prompt := mcp.NewPrompt("sync_and_build",
		mcp.WithPromptDescription("Sync the project to the remote host and run the build command."),
	)
	handler := func(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		text := fmt.Sprintf(
			"Sync the project and build it on the remote host:\n"+
				"1. Call sync_directory to mirror %s to %s on remote %q.\n"+
				"2. Review the sync report for per-file errors before building.\n"+
				"3. Call execute_remote_command with the build command (%s) in %s.\n"+
				"4. If the build fails, switch to the build_project workflow for the guided fix cycle.",
			orUnset(s.profile.LocalRoot), orUnset(s.profile.RemoteRoot),
			s.profile.RemoteAlias, orUnset(s.profile.BuildCommand), orUnset(s.profile.RemoteRoot))
		return s.promptResult("sync_and_build", text), nil
	}
	return registeredPrompt{prompt, handler}
}

func orUnset(v string) string {
	if strings.TrimSpace(v) == "" {
		return "<not configured>"
	}
	return v
}
