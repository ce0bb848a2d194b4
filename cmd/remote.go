package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Inspect the remote project tree",
}

var remoteLsCmd = &cobra.Command{
	Use:   "ls [remote-dir]",
	Short: "List a remote directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, err := resolveProfile()
		if err != nil {
			return err
		}
		if err := profile.RequireComplete(); err != nil {
			return err
		}

		remotePath := profile.RemoteRoot
		if len(args) > 0 {
			remotePath = args[0]
		}

		runner, err := newRunner(profile)
		if err != nil {
			return err
		}

		entries, err := runner.List(cmd.Context(), remotePath)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			ui.Info("Directory %s is empty", remotePath)
			return nil
		}

		table := ui.Table([]string{"Name", "Size", "Modified"})
		for _, e := range entries {
			name := e.Name
			size := fmt.Sprintf("%d", e.Size)
			if e.IsDir {
				name += "/"
				size = "-"
			}
			table.Append([]string{name, size, e.ModTime})
		}
		return table.Render()
	},
}

var remoteCatCmd = &cobra.Command{
	Use:   "cat <remote-file>",
	Short: "Print a remote file to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, err := resolveProfile()
		if err != nil {
			return err
		}
		if err := profile.RequireComplete(); err != nil {
			return err
		}

		runner, err := newRunner(profile)
		if err != nil {
			return err
		}

		data, err := runner.Cat(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		_, err = ui.Out.Write(data)
		return err
	},
}

func init() {
	rootCmd.AddCommand(remoteCmd)
	remoteCmd.AddCommand(remoteLsCmd)
	remoteCmd.AddCommand(remoteCatCmd)
}
