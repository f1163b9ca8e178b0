package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tengjizhang/feedsync/internal/model"
)

func newSearchCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	var feedID string
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search stories with full-text search",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, d, err := requireDelegate(getApp)
			if err != nil {
				return err
			}
			stories, err := app.store.SearchStories(cmd.Context(), d.Info().ID, model.SearchOptions{
				Query:  args[0],
				FeedID: feedID,
				Limit:  limit,
			})
			if err != nil {
				return fmt.Errorf("search stories: %w", err)
			}
			out := cmd.OutOrStdout()
			if ok, err := writeStructured(out, getOutput(), stories); ok {
				return err
			}
			writeStoriesTable(out, stories, getOutput() == OutputWide)
			return nil
		},
	}
	cmd.Flags().StringVar(&feedID, "feed", "", "Filter by feed ID")
	cmd.Flags().IntVar(&limit, "limit", 50, "Result limit")
	return cmd
}
