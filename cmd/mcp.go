package cmd

import (
	"github.com/spf13/cobra"

	"cloudbuilder/internal/mcp"
	"cloudbuilder/internal/rclone"
	"cloudbuilder/internal/sshexec"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for coding agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This exposes the sync, upload, remote read, remote exec, and build
loop operations as MCP tools. Configure in your client with:

  {
    "mcpServers": {
      "cloudbuilder": { "command": "cloudbuilder", "args": ["mcp"] }
    }
  }

Available tools: sync_directory, upload_file, read_remote_file,
execute_remote_command, list_remote_directory, run_build_attempt,
build_session_status`,
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, err := resolveProfile()
		if err != nil {
			return err
		}

		// The server must start even on a half configured machine so
		// the config resource can explain what is missing. Tool
		// handlers re-check completeness per call.
		var runner *rclone.Tool
		if profile.RemoteAlias != "" {
			runner, err = newRunner(profile)
			if err != nil {
				return err
			}
		}

		var executor sshexec.Executor
		if profile.RemoteAlias != "" {
			executor, err = newExecutor(profile)
			if err != nil {
				logger.Warn("ssh unavailable, execute_remote_command disabled", "err", err)
				executor = nil
			}
		}

		store, err := getStore()
		if err != nil {
			logger.Warn("history store unavailable, attempts will not be persisted", "err", err)
			store = nil
		}

		logger.Info("starting MCP stdio server", "remote", profile.RemoteAlias,
			"configured", profile.Complete())
		srv := mcp.NewServer(profile, runner, executor, store, logger)
		return srv.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
