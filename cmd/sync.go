package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"cloudbuilder/internal/filter"
	"cloudbuilder/internal/output"
	"cloudbuilder/internal/rclone"
)

var syncNoDelete bool

var syncCmd = &cobra.Command{
	Use:   "sync [local-dir] [remote-dir]",
	Short: "Mirror the local project tree to the remote host",
	Long: `Synchronize a local directory to the remote build host with rclone.
With no arguments the configured LOCAL_PATH is mirrored to REMOTE_PATH.
Filter rules from .sync_rules apply in file order.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, err := resolveProfile()
		if err != nil {
			return err
		}
		if err := profile.RequireComplete(); err != nil {
			return err
		}

		localDir := profile.LocalRoot
		if len(args) > 0 {
			localDir = args[0]
		}
		remoteDir := profile.RemoteRoot
		if len(args) > 1 {
			remoteDir = args[1]
		}

		rules, err := filter.Load(profile.LocalRoot)
		if err != nil {
			return err
		}

		runner, err := newRunner(profile)
		if err != nil {
			return err
		}

		ui.Info("Syncing %s to %s", output.Cyan(localDir), output.Cyan(runner.Alias()+":"+remoteDir))
		ui.DryRunMsg("no files will be transferred or deleted")
		result, err := runner.Sync(cmd.Context(), rclone.SyncRequest{
			LocalDir:     localDir,
			RemoteDir:    remoteDir,
			Filters:      rules,
			DeleteExcess: !syncNoDelete,
			DryRun:       dryRun,
		})
		if err != nil {
			return err
		}

		printSyncResult(result)
		return nil
	},
}

func printSyncResult(result *rclone.SyncResult) {
	if len(result.Uploaded)+len(result.Deleted)+len(result.CreatedDirs) == 0 {
		ui.Success("Already up to date (%d checked)", result.Stats.Checks)
	}

	if len(result.Uploaded) > 0 {
		table := ui.Table([]string{"File", "Size"})
		for _, f := range result.Uploaded {
			table.Append([]string{f.Path, fmt.Sprintf("%d", f.Size)})
		}
		_ = table.Render()
		ui.Success("Uploaded %d file(s)", len(result.Uploaded))
	}
	for _, d := range result.Deleted {
		ui.VerboseLog("deleted %s", d)
	}
	if len(result.Deleted) > 0 {
		ui.Info("Deleted %d remote file(s)", len(result.Deleted))
	}
	for _, e := range result.Errors {
		ui.Error("%s", e)
	}
	if result.Stats.Elapsed != "" {
		ui.VerboseLog("elapsed %s", result.Stats.Elapsed)
	}
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().BoolVar(&syncNoDelete, "no-delete", false, "Keep remote files that no longer exist locally")
}
