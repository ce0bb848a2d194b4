package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"cloudbuilder/internal/buildloop"
	"cloudbuilder/internal/history"
	"cloudbuilder/internal/output"
)

var buildOnce bool

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Run the sync-and-build cycle against the remote host",
	Long: `Sync the project to the remote host and run BUILD_COMMAND there. On
failure, diagnostics are printed with local file paths; fix them and
press Enter to retry. At most 5 attempts per session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, err := resolveProfile()
		if err != nil {
			return err
		}

		runner, err := newRunner(profile)
		if err != nil {
			return err
		}
		executor, err := newExecutor(profile)
		if err != nil {
			return err
		}
		if executor == nil {
			return fmt.Errorf("remote %q has no SSH access configured; check rclone.conf", profile.RemoteAlias)
		}

		opts := []buildloop.Option{buildloop.WithLogger(logger)}
		if store, err := getStore(); err == nil {
			opts = append(opts, buildloop.WithRecorder(history.NewRecorder(store)))
		} else {
			ui.Warning("History unavailable: %v", err)
		}

		session, err := buildloop.NewSession(profile, runner, executor, opts...)
		if err != nil {
			return err
		}

		stdin := bufio.NewReader(os.Stdin)
		for {
			attempt, err := session.RunAttempt(cmd.Context())
			if attempt != nil {
				printAttempt(attempt, session)
			}
			if err != nil {
				return err
			}
			if session.State().Terminal() {
				return nil
			}
			if buildOnce {
				ui.Info("Session %s suspended; rerun build to continue", session.ID())
				return nil
			}

			ui.Info("Fix the files above, then press Enter to retry (%d attempt(s) left, Ctrl-C to stop)",
				session.Remaining())
			if _, err := stdin.ReadString('\n'); err != nil {
				return nil
			}
		}
	},
}

func printAttempt(attempt *buildloop.Attempt, session *buildloop.Session) {
	ui.Info("Attempt %d/%d", attempt.Number, buildloop.MaxAttempts)
	if attempt.Sync != nil && len(attempt.Sync.Uploaded) > 0 {
		ui.VerboseLog("synced %d file(s)", len(attempt.Sync.Uploaded))
	}

	if attempt.Succeeded() {
		ui.Success("Build succeeded")
		if attempt.Build.Stdout != "" {
			fmt.Fprint(ui.Out, attempt.Build.Stdout)
		}
		return
	}

	ui.Error("Build failed with exit code %d", attempt.Build.ExitCode)
	if attempt.Build.Stderr != "" {
		fmt.Fprint(ui.ErrOut, attempt.Build.Stderr)
	}
	if len(attempt.Diagnostics) > 0 {
		table := ui.Table([]string{"File", "Line", "Message"})
		for _, d := range attempt.Diagnostics {
			table.Append([]string{d.LocalPath, strconv.Itoa(d.Line), d.Text})
		}
		_ = table.Render()
	}
	if session.State() == buildloop.StateExhausted {
		ui.Error("Attempt budget exhausted (%s)", output.OutcomeColor("exhausted"))
	}
}

var buildHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded build sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := getStore()
		if err != nil {
			return err
		}

		sessions, err := store.ListSessions(cmd.Context(), 20)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			ui.Info("No build sessions recorded")
			return nil
		}

		table := ui.Table([]string{"Session", "Command", "Outcome", "Started"})
		for _, s := range sessions {
			table.Append([]string{
				s.ID,
				s.BuildCommand,
				output.OutcomeColor(s.Outcome),
				s.StartedAt.Local().Format("2006-01-02 15:04:05"),
			})
		}
		return table.Render()
	},
}

var buildShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the attempts of a build session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := getStore()
		if err != nil {
			return err
		}

		session, err := store.GetSession(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		attempts, err := store.ListAttempts(cmd.Context(), session.ID)
		if err != nil {
			return err
		}

		ui.Info("Session %s: %s (%s)", session.ID, session.BuildCommand,
			output.OutcomeColor(session.Outcome))

		table := ui.Table([]string{"#", "Exit", "Diagnostics", "Uploaded", "Finished"})
		for _, a := range attempts {
			table.Append([]string{
				strconv.Itoa(a.Number),
				strconv.Itoa(a.ExitCode),
				strconv.Itoa(a.Diagnostics),
				strconv.Itoa(a.Uploaded),
				a.FinishedAt.Local().Format("15:04:05"),
			})
		}
		return table.Render()
	},
}

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.AddCommand(buildHistoryCmd)
	buildCmd.AddCommand(buildShowCmd)

	buildCmd.Flags().BoolVar(&buildOnce, "once", false, "Run a single attempt and exit")
}
