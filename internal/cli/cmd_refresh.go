package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tengjizhang/feedsync/internal/manager"
)

func newRefreshCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	var opts manager.RefreshOptions
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Reconcile folders, feeds and statuses with the remote service",
		Long:  "Refresh every account, or only the one selected with --account.\nWith --stories every unread story is downloaded as well.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(getApp)
			if err != nil {
				return err
			}
			results, refreshErr := app.manager.Refresh(cmd.Context(), app.account, opts)
			if results == nil && refreshErr != nil {
				return refreshErr
			}
			out := cmd.OutOrStdout()
			if ok, err := writeStructured(out, getOutput(), results); ok {
				if err != nil {
					return err
				}
				return refreshErr
			}
			writeRefreshSummary(out, results, getOutput() == OutputWide)
			return refreshErr
		},
	}
	cmd.Flags().BoolVar(&opts.Stories, "stories", false, "also download every unread story")
	return cmd
}

func newSyncCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push pending read/starred changes, then pull the remote state",
		Long:  "Sync every account, or only the one selected with --account.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(getApp)
			if err != nil {
				return err
			}
			results, syncErr := app.manager.Sync(cmd.Context(), app.account)
			if results == nil && syncErr != nil {
				return syncErr
			}
			out := cmd.OutOrStdout()
			if ok, err := writeStructured(out, getOutput(), results); ok {
				if err != nil {
					return err
				}
				return syncErr
			}
			for _, res := range results {
				if res.Error != "" {
					fmt.Fprintf(out, "%s %s  %s\n", color.RedString("✗"), res.AccountName, res.Error)
					continue
				}
				fmt.Fprintf(out, "%s %s  %d unread, %d starred, %d pending\n",
					color.GreenString("✓"), res.AccountName, res.Unread, res.Starred, res.Pending)
			}
			return syncErr
		},
	}
}

func newLoginCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Validate the configured credentials and store a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, d, err := requireDelegate(getApp)
			if err != nil {
				return err
			}
			if err := d.Login(cmd.Context()); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			resp := SessionResponse{Account: d.Info().Name, LoggedIn: true}
			if ok, err := writeStructured(out, getOutput(), resp); ok {
				return err
			}
			fmt.Fprintf(out, "%s logged in as %s\n", color.GreenString("✓"), fallback(d.Info().Username, d.Info().Name))
			return nil
		},
	}
}

func newLogoutCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the remote session and forget it locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, d, err := requireDelegate(getApp)
			if err != nil {
				return err
			}
			if err := d.Logout(cmd.Context()); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			resp := SessionResponse{Account: d.Info().Name, LoggedIn: false}
			if ok, err := writeStructured(out, getOutput(), resp); ok {
				return err
			}
			fmt.Fprintf(out, "Logged out of %s\n", d.Info().Name)
			return nil
		},
	}
}
