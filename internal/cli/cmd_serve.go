package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tengjizhang/feedsync/internal/api"
	"github.com/tengjizhang/feedsync/internal/scheduler"
)

func newServeCmd(getApp func() *App) *cobra.Command {
	var addr string
	var noSchedule bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Refresh periodically and serve the local status API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(getApp)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = app.cfg.ListenAddr
			}
			ctx := cmd.Context()

			if !noSchedule {
				sched := scheduler.New(app.manager, app.cfg.RefreshInterval, app.cfg.RefreshInterval, app.logger)
				sched.Start(ctx)
				defer sched.Stop()
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Serving on http://%s (refresh every %s)\n", addr, app.cfg.RefreshInterval)
			return api.New(app.manager, app.logger).ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "listen", "", "Listen address (default from config)")
	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "Serve without periodic refresh")
	return cmd
}
