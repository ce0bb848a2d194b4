package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cloudbuilder/internal/config"
	"cloudbuilder/internal/history"
	"cloudbuilder/internal/logging"
	"cloudbuilder/internal/output"
	"cloudbuilder/internal/rclone"
	"cloudbuilder/internal/sshexec"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	logger    = logging.Discard()
	histStore history.Store

	verbose    bool
	dryRun     bool
	projectDir string
)

// envKeys are bound directly so both the environment and the config
// file can supply them. Project-file values still win; see
// config.Resolve.
var envKeys = []string{
	"REMOTE_HOST_NAME",
	"RCLONE_EXE_PATH",
	"LOCAL_PATH",
	"REMOTE_PATH",
	"BUILD_COMMAND",
	"PROJECT_PATH",
}

var rootCmd = &cobra.Command{
	Use:   "cloudbuilder",
	Short: "Sync, build, and debug projects on a remote host",
	Long: `cloudbuilder mirrors a local project tree to a remote build host with
rclone, runs build commands there over SSH, and maps diagnostics back
to local file paths. Run 'cloudbuilder mcp' to expose the same
operations as MCP tools on stdio.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would change without touching the remote")
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project", "p", ".", "Project directory holding .cloudbuilder.json")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/cloudbuilder/config.yaml)")
}

func initConfig() {
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "cloudbuilder")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}

	home, _ := os.UserHomeDir()
	viper.SetDefault("history_db", filepath.Join(home, ".config", "cloudbuilder", "history.db"))

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun
	logger = logging.New(verbose)
}

// resolveProfile merges the project file with the bound environment.
// The --project flag wins; PROJECT_PATH covers launchers that cannot
// pass flags.
func resolveProfile() (*config.Profile, error) {
	dir := projectDir
	if dir == "" || dir == "." {
		if env := viper.GetString("PROJECT_PATH"); env != "" {
			dir = env
		}
	}
	return config.Resolve(dir, viper.GetString)
}

// newRunner builds the transfer tool for a resolved profile.
func newRunner(profile *config.Profile) (*rclone.Tool, error) {
	return rclone.NewTool(profile.RemoteAlias, profile.RclonePath, logger)
}

// newExecutor builds the SSH client from the remote's rclone.conf
// definition. Remotes without SSH material yield a nil executor; the
// transfer tools still work.
func newExecutor(profile *config.Profile) (sshexec.Executor, error) {
	remote, err := rclone.LookupRemote(profile.RemoteAlias, "")
	if err != nil {
		return nil, err
	}
	if remote.Type != "sftp" || remote.Host == "" {
		return nil, nil
	}
	return sshexec.NewClient(sshexec.Target{
		Host:     remote.Host,
		Port:     remote.Port,
		User:     remote.User,
		Password: remote.Password,
	}, logger)
}

// getStore returns the shared history store, initializing it on first call.
func getStore() (history.Store, error) {
	if histStore != nil {
		return histStore, nil
	}

	dbPath := viper.GetString("history_db")
	s, err := history.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate history database: %w", err)
	}

	histStore = s
	return histStore, nil
}
