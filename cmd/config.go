package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"cloudbuilder/internal/output"
	"cloudbuilder/internal/rclone"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the resolved connection profile",
	Long: `Show the effective connection profile after merging .cloudbuilder.json
with the environment. Credentials from rclone.conf are never printed.

Running bare 'cloudbuilder config' is the same as 'cloudbuilder config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

func configShowRun() error {
	profile, err := resolveProfile()
	if err != nil {
		return err
	}

	view := map[string]any{
		"REMOTE_HOST_NAME": profile.RemoteAlias,
		"LOCAL_PATH":       profile.LocalRoot,
		"REMOTE_PATH":      profile.RemoteRoot,
		"BUILD_COMMAND":    profile.BuildCommand,
		"RCLONE_EXE_PATH":  profile.RclonePath,
		"project_dir":      profile.ProjectPath,
	}

	data, err := yaml.Marshal(view)
	if err != nil {
		return err
	}
	fmt.Fprint(ui.Out, string(data))

	if missing := profile.Missing(); len(missing) > 0 {
		ui.Warning("Incomplete profile, missing: %v", missing)
	} else {
		ui.Success("Profile complete")
	}

	if confPath, err := rclone.ConfigPath(); err == nil {
		ui.VerboseLog("rclone config: %s", output.Cyan(confPath))
	} else {
		ui.Warning("%v", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}
