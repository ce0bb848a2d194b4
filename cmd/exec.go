package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var execWorkDir string

var execCmd = &cobra.Command{
	Use:   "exec <command>...",
	Short: "Run a command on the remote host over SSH",
	Long: `Execute a shell command on the remote build host. The command runs in
REMOTE_PATH unless --workdir overrides it. The remote exit code becomes
the local exit code.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, err := resolveProfile()
		if err != nil {
			return err
		}
		if err := profile.RequireComplete(); err != nil {
			return err
		}

		executor, err := newExecutor(profile)
		if err != nil {
			return err
		}
		if executor == nil {
			return fmt.Errorf("remote %q has no SSH access configured; check rclone.conf", profile.RemoteAlias)
		}

		workDir := execWorkDir
		if workDir == "" {
			workDir = profile.RemoteRoot
		}

		result, err := executor.Run(cmd.Context(), strings.Join(args, " "), workDir)
		if err != nil {
			return err
		}

		if result.Stdout != "" {
			fmt.Fprint(ui.Out, result.Stdout)
		}
		if result.Stderr != "" {
			fmt.Fprint(ui.ErrOut, result.Stderr)
		}
		if !result.Success() {
			ui.Error("Command exited with code %d", result.ExitCode)
			return fmt.Errorf("remote command failed with exit code %d", result.ExitCode)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(execCmd)

	execCmd.Flags().StringVarP(&execWorkDir, "workdir", "w", "", "Remote working directory (default: REMOTE_PATH)")
}
