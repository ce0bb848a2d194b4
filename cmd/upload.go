package cmd

import (
	"github.com/spf13/cobra"

	"cloudbuilder/internal/output"
	"cloudbuilder/internal/pathmap"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <local-file> [remote-path]",
	Short: "Upload a single file to the remote host",
	Long: `Copy one local file to the remote build host. When remote-path is
omitted the file must live under LOCAL_PATH and lands at the
corresponding location under REMOTE_PATH.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, err := resolveProfile()
		if err != nil {
			return err
		}
		if err := profile.RequireComplete(); err != nil {
			return err
		}

		localFile := args[0]
		remotePath := ""
		if len(args) > 1 {
			remotePath = args[1]
		}
		if remotePath == "" {
			mapper := pathmap.New(profile.LocalRoot, profile.RemoteRoot)
			remotePath, err = mapper.ToRemote(localFile)
			if err != nil {
				return err
			}
		}

		runner, err := newRunner(profile)
		if err != nil {
			return err
		}

		result, err := runner.Upload(cmd.Context(), localFile, remotePath)
		if err != nil {
			return err
		}

		ui.Success("Uploaded %s to %s (%d bytes)",
			output.Cyan(result.LocalFile), output.Cyan(result.RemoteDest), result.Size)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}
