package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tengjizhang/feedsync/internal/config"
	"github.com/tengjizhang/feedsync/internal/store"
)

// Execute loads the configuration and runs the command line.
func Execute() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd(cfg).ExecuteContext(ctx)
}

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	db       string
	output   string
	logLevel string
	account  string
}

func NewRootCmd(cfg config.Config) *cobra.Command {
	flags := globalFlags{db: cfg.DBPath, output: string(OutputTable), logLevel: cfg.LogLevel}
	var (
		app    *App
		outFmt OutputFormat
	)
	getApp := func() *App { return app }
	getOutput := func() OutputFormat { return outFmt }

	root := &cobra.Command{
		Use:           "feedsync",
		Short:         "Keep local feed state in sync with NewsBlur",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) (err error) {
			if outFmt, err = parseOutputFormat(flags.output); err != nil {
				return err
			}
			level, err := config.ParseLogLevel(flags.logLevel)
			if err != nil {
				return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
			}
			if app != nil || !requiresApp(cmd) {
				return nil
			}
			runCfg := cfg
			runCfg.DBPath = flags.db
			app, err = NewApp(cmd.Context(), runCfg, newLogger(cmd.ErrOrStderr(), level), flags.account)
			return err
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if app == nil {
				return
			}
			_ = app.Close()
			app = nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.db, "db", flags.db, "SQLite database path")
	pf.StringVarP(&flags.output, "output", "o", flags.output, "Output format: table, wide, json, yaml")
	pf.StringVar(&flags.logLevel, "log-level", flags.logLevel, "Log level: debug, info, warn, error")
	pf.StringVarP(&flags.account, "account", "a", "", "Account name or ID (defaults to the only account)")

	for _, newCmd := range []func(func() *App, func() OutputFormat) *cobra.Command{
		newRefreshCmd, newSyncCmd, newLoginCmd, newLogoutCmd,
		newGetCmd, newSearchCmd,
		newAddCmd, newRemoveCmd, newRenameCmd, newMoveCmd, newUpdateCmd,
		newImportCmd, newExportCmd,
	} {
		root.AddCommand(newCmd(getApp, getOutput))
	}
	root.AddCommand(newServeCmd(getApp))
	return root
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func parseOutputFormat(raw string) (OutputFormat, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch OutputFormat(s) {
	case OutputTable, OutputJSON, OutputWide, OutputYAML:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("%w: invalid output format %q (expected table|wide|json|yaml)", store.ErrInvalidInput, raw)
	}
}

func requiresApp(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		name := c.Name()
		if name == "help" || name == "completion" {
			return false
		}
	}
	return true
}
