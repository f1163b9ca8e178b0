package cli

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/tengjizhang/feedsync/internal/opml"
)

func newImportCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	var noValidate bool

	cmd := &cobra.Command{
		Use:   "import <file.opml|url>",
		Short: "Subscribe to every feed of an OPML document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, d, err := requireDelegate(getApp)
			if err != nil {
				return err
			}
			rc, err := opml.Open(cmd.Context(), &http.Client{Timeout: app.cfg.HTTPTimeout}, args[0])
			if err != nil {
				return err
			}
			defer rc.Close()

			res, importErr := d.ImportOPML(cmd.Context(), rc, !noValidate)
			resp := ImportResponse{Source: args[0], Added: res.Added, Existing: res.Existing, Failed: res.Failed}
			if importErr != nil {
				resp.Error = importErr.Error()
			}

			out := cmd.OutOrStdout()
			if ok, err := writeStructured(out, getOutput(), resp); ok {
				if err != nil {
					return err
				}
				return importErr
			}
			fmt.Fprintf(out, "Imported from %s\n", resp.Source)
			fmt.Fprintf(out, "Added: %d, Existing: %d, Failed: %d\n", resp.Added, resp.Existing, resp.Failed)
			return importErr
		},
	}
	cmd.Flags().BoolVar(&noValidate, "no-validate", false, "Subscribe without checking that each URL is a readable feed")
	return cmd
}

func newExportCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the account tree as OPML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, d, err := requireDelegate(getApp)
			if err != nil {
				return err
			}
			snap := d.Account().Snapshot()
			if outPath == "" {
				return opml.Write(cmd.OutOrStdout(), snap)
			}

			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			if err := opml.Write(f, snap); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d feeds to %s\n", len(snap.FlattenedFeeds()), outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "file", "f", "", "Write to a file instead of stdout")
	return cmd
}
