package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tengjizhang/feedsync/internal/model"
)

func newGetCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Get accounts, feeds, stories and stats",
	}

	cmd.AddCommand(newGetAccountsCmd(getApp, getOutput))
	cmd.AddCommand(newGetTreeCmd(getApp, getOutput))
	cmd.AddCommand(newGetFeedsCmd(getApp, getOutput))
	cmd.AddCommand(newGetStoriesCmd(getApp, getOutput))
	cmd.AddCommand(newGetStoryCmd(getApp, getOutput))
	cmd.AddCommand(newGetStatsCmd(getApp, getOutput))
	cmd.AddCommand(newGetPendingCmd(getApp, getOutput))
	return cmd
}

func newGetAccountsCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List registered accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(getApp)
			if err != nil {
				return err
			}
			accounts, err := app.manager.Accounts(cmd.Context())
			if err != nil {
				return fmt.Errorf("list accounts: %w", err)
			}
			out := cmd.OutOrStdout()
			if ok, err := writeStructured(out, getOutput(), accounts); ok {
				return err
			}
			writeAccountsTable(out, accounts, getOutput() == OutputWide)
			return nil
		},
	}
}

func newGetTreeCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Show the folder and feed tree of an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, d, err := requireDelegate(getApp)
			if err != nil {
				return err
			}
			snap := d.Account().Snapshot()
			out := cmd.OutOrStdout()
			if ok, err := writeStructured(out, getOutput(), snap); ok {
				return err
			}
			writeTree(out, snap, getOutput() == OutputWide)
			return nil
		},
	}
}

func newGetFeedsCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	return &cobra.Command{
		Use:   "feeds",
		Short: "List subscribed feeds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, d, err := requireDelegate(getApp)
			if err != nil {
				return err
			}
			feeds, err := app.store.ListFeeds(cmd.Context(), d.Info().ID)
			if err != nil {
				return fmt.Errorf("list feeds: %w", err)
			}
			out := cmd.OutOrStdout()
			if ok, err := writeStructured(out, getOutput(), feeds); ok {
				return err
			}
			writeFeedsTable(out, feeds, getOutput() == OutputWide)
			return nil
		},
	}
}

func newGetStoriesCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	var status string
	var feedID string
	var limit int

	cmd := &cobra.Command{
		Use:   "stories",
		Short: "List stories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, d, err := requireDelegate(getApp)
			if err != nil {
				return err
			}
			stories, err := app.store.ListStories(cmd.Context(), d.Info().ID, model.StoryListOptions{
				Status: status,
				FeedID: feedID,
				Limit:  limit,
			})
			if err != nil {
				return fmt.Errorf("list stories: %w", err)
			}
			out := cmd.OutOrStdout()
			if ok, err := writeStructured(out, getOutput(), stories); ok {
				return err
			}
			writeStoriesTable(out, stories, getOutput() == OutputWide)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "unread", "Story status: unread, read, starred, all")
	cmd.Flags().StringVar(&feedID, "feed", "", "Filter by feed ID")
	cmd.Flags().IntVar(&limit, "limit", 50, "Result limit")
	return cmd
}

func newGetStoryCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "story <id>",
		Short: "Show one story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, d, err := requireDelegate(getApp)
			if err != nil {
				return err
			}
			story, err := app.store.GetStory(cmd.Context(), d.Info().ID, strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("get story: %w", err)
			}
			out := cmd.OutOrStdout()
			if ok, err := writeStructured(out, getOutput(), story); ok {
				return err
			}

			bold := color.New(color.Bold).SprintFunc()
			faint := color.New(color.Faint).SprintFunc()
			fmt.Fprintln(out, bold(displayStoryTitle(story)))
			fmt.Fprintln(out, faint(fmt.Sprintf("source: %s | date: %s | url: %s",
				fallback(story.FeedName, story.FeedID), formatDate(story.PublishedAt), fallback(story.URL, "-"))))
			fmt.Fprintln(out)

			body := strings.TrimSpace(story.ContentMD)
			if body == "" {
				body = strings.TrimSpace(story.Summary)
			}
			if body == "" {
				body = fallback(story.URL, "(no content)")
			}
			if !raw {
				if rendered, err := glamour.Render(body, "dark"); err == nil {
					body = rendered
				}
			}
			fmt.Fprintln(out, body)
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print Markdown without terminal rendering")
	return cmd
}

func newGetStatsCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Get aggregate stats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, d, err := requireDelegate(getApp)
			if err != nil {
				return err
			}
			stats, err := app.store.GetStats(cmd.Context(), d.Info().ID)
			if err != nil {
				return fmt.Errorf("get stats: %w", err)
			}
			out := cmd.OutOrStdout()
			if ok, err := writeStructured(out, getOutput(), stats); ok {
				return err
			}
			writeStatsTable(out, stats)
			return nil
		},
	}
}

func newGetPendingCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List status changes waiting to be pushed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, d, err := requireDelegate(getApp)
			if err != nil {
				return err
			}
			statuses, err := app.store.ListSyncStatuses(cmd.Context(), d.Info().ID)
			if err != nil {
				return fmt.Errorf("list pending statuses: %w", err)
			}
			out := cmd.OutOrStdout()
			if ok, err := writeStructured(out, getOutput(), statuses); ok {
				return err
			}
			writePendingTable(out, statuses)
			return nil
		},
	}
}
