package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tengjizhang/feedsync/internal/newsblur"
)

func newAddCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add feeds and folders",
	}
	cmd.AddCommand(newAddFeedCmd(getApp, getOutput))
	cmd.AddCommand(newAddFolderCmd(getApp, getOutput))
	return cmd
}

func newAddFeedCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	var name string
	var folder string
	var noValidate bool
	var noDownload bool

	cmd := &cobra.Command{
		Use:   "feed <url>",
		Short: "Subscribe to a feed or site URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, d, err := requireDelegate(getApp)
			if err != nil {
				return err
			}
			feed, err := d.CreateFeed(cmd.Context(), args[0], newsblur.CreateFeedOptions{
				Name:         name,
				Folder:       folder,
				Validate:     !noValidate,
				SkipDownload: noDownload,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ok, err := writeStructured(out, getOutput(), AddFeedResponse{Feed: feed, Folder: folder}); ok {
				return err
			}
			fmt.Fprintf(out, "Added feed %s: %s\n", feed.FeedID, feed.DisplayName())
			if feed.URL != "" && feed.URL != args[0] {
				fmt.Fprintf(cmd.ErrOrStderr(), "Subscribed to %s\n", feed.URL)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Custom feed name")
	cmd.Flags().StringVar(&folder, "folder", "", "Folder to add the feed to (created when missing)")
	cmd.Flags().BoolVar(&noValidate, "no-validate", false, "Skip feed discovery and send the URL as-is")
	cmd.Flags().BoolVar(&noDownload, "no-download", false, "Skip the initial story download")
	return cmd
}

func newAddFolderCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	return &cobra.Command{
		Use:   "folder <name>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, d, err := requireDelegate(getApp)
			if err != nil {
				return err
			}
			name := strings.TrimSpace(args[0])
			if err := d.CreateFolder(cmd.Context(), name); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ok, err := writeStructured(out, getOutput(), FolderResponse{Folder: name}); ok {
				return err
			}
			fmt.Fprintf(out, "Created folder %s\n", name)
			return nil
		},
	}
}

func newRemoveCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "remove",
		Aliases: []string{"rm"},
		Short:   "Remove feeds, folders and accounts",
	}
	cmd.AddCommand(newRemoveFeedCmd(getApp, getOutput))
	cmd.AddCommand(newRemoveFolderCmd(getApp, getOutput))
	cmd.AddCommand(newRemoveAccountCmd(getApp, getOutput))
	return cmd
}

func newRemoveAccountCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	return &cobra.Command{
		Use:   "account <name|id>",
		Short: "Forget an account that is no longer in the config, with all its local data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(getApp)
			if err != nil {
				return err
			}
			info, err := app.manager.RemoveAccount(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ok, err := writeStructured(out, getOutput(), info); ok {
				return err
			}
			fmt.Fprintf(out, "Removed account %s (%s)\n", info.Name, info.ID)
			return nil
		},
	}
}

func newRemoveFeedCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	var folder string

	cmd := &cobra.Command{
		Use:   "feed <id>",
		Short: "Unsubscribe a feed from a folder, or from the top level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, d, err := requireDelegate(getApp)
			if err != nil {
				return err
			}
			feedID := strings.TrimSpace(args[0])
			if err := d.RemoveFeed(cmd.Context(), feedID, folder); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ok, err := writeStructured(out, getOutput(), RemoveFeedResponse{FeedID: feedID, Folder: folder}); ok {
				return err
			}
			fmt.Fprintf(out, "Removed feed %s from %s\n", feedID, containerLabel(folder))
			return nil
		},
	}
	cmd.Flags().StringVar(&folder, "folder", "", "Folder to remove the feed from (default: top level)")
	return cmd
}

func newRemoveFolderCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	return &cobra.Command{
		Use:   "folder <name>",
		Short: "Delete a folder and the feeds that live only in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, d, err := requireDelegate(getApp)
			if err != nil {
				return err
			}
			name := args[0]
			if err := d.RemoveFolder(cmd.Context(), name); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ok, err := writeStructured(out, getOutput(), FolderResponse{Folder: name}); ok {
				return err
			}
			fmt.Fprintf(out, "Removed folder %s\n", name)
			return nil
		},
	}
}

func newRenameCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rename",
		Short: "Rename feeds and folders",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "feed <id> <name>",
		Short: "Rename a feed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, d, err := requireDelegate(getApp)
			if err != nil {
				return err
			}
			if err := d.RenameFeed(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ok, err := writeStructured(out, getOutput(), RenameResponse{From: args[0], To: args[1]}); ok {
				return err
			}
			fmt.Fprintf(out, "Renamed feed %s to %s\n", args[0], args[1])
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "folder <from> <to>",
		Short: "Rename a folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, d, err := requireDelegate(getApp)
			if err != nil {
				return err
			}
			if err := d.RenameFolder(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ok, err := writeStructured(out, getOutput(), RenameResponse{From: args[0], To: args[1]}); ok {
				return err
			}
			fmt.Fprintf(out, "Renamed folder %s to %s\n", args[0], args[1])
			return nil
		},
	})
	return cmd
}

func newMoveCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	var from string
	var to string
	var keep bool

	cmd := &cobra.Command{
		Use:   "move <feed-id>",
		Short: "Move a feed between folders",
		Long:  "Move a feed between folders. An empty --from or --to means the top level. With --keep the feed is added to --to and stays where it is.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, d, err := requireDelegate(getApp)
			if err != nil {
				return err
			}
			feedID := strings.TrimSpace(args[0])
			if keep {
				err = d.AddFeed(cmd.Context(), feedID, to)
			} else {
				err = d.MoveFeed(cmd.Context(), feedID, from, to)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ok, err := writeStructured(out, getOutput(), MoveFeedResponse{FeedID: feedID, From: from, To: to, Kept: keep}); ok {
				return err
			}
			if keep {
				fmt.Fprintf(out, "Added feed %s to %s\n", feedID, containerLabel(to))
			} else {
				fmt.Fprintf(out, "Moved feed %s from %s to %s\n", feedID, containerLabel(from), containerLabel(to))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Source folder (default: top level)")
	cmd.Flags().StringVar(&to, "to", "", "Destination folder (default: top level)")
	cmd.Flags().BoolVar(&keep, "keep", false, "Add to the destination without leaving the source")
	return cmd
}

func containerLabel(folder string) string {
	if folder == "" {
		return "top level"
	}
	return "folder " + folder
}
