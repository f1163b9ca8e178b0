package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tengjizhang/feedsync/internal/model"
	"github.com/tengjizhang/feedsync/internal/store"
)

func newUpdateCmd(getApp func() *App, getOutput func() OutputFormat) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update story status",
	}
	cmd.AddCommand(newUpdateStoriesCmd(getApp, getOutput, "story <id>", "Update one story status", cobra.ExactArgs(1)))
	cmd.AddCommand(newUpdateStoriesCmd(getApp, getOutput, "stories <id> [id...]", "Batch update story status", cobra.MinimumNArgs(1)))
	return cmd
}

// statusFlags holds the mutually exclusive --read/--unread/--starred/--unstarred.
type statusFlags struct {
	read, unread, starred, unstarred bool
}

func (f statusFlags) resolve() (model.StatusKey, bool, error) {
	type choice struct {
		set  bool
		key  model.StatusKey
		flag bool
	}
	var picked []choice
	for _, c := range []choice{
		{f.read, model.StatusRead, true},
		{f.unread, model.StatusRead, false},
		{f.starred, model.StatusStarred, true},
		{f.unstarred, model.StatusStarred, false},
	} {
		if c.set {
			picked = append(picked, c)
		}
	}
	if len(picked) != 1 {
		return "", false, fmt.Errorf("%w: choose exactly one of --read, --unread, --starred, --unstarred", store.ErrInvalidInput)
	}
	return picked[0].key, picked[0].flag, nil
}

func newUpdateStoriesCmd(getApp func() *App, getOutput func() OutputFormat, use, short string, args cobra.PositionalArgs) *cobra.Command {
	var flags statusFlags

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, d, err := requireDelegate(getApp)
			if err != nil {
				return err
			}
			key, flag, err := flags.resolve()
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(args))
			for _, a := range args {
				if id := strings.TrimSpace(a); id != "" {
					ids = append(ids, id)
				}
			}
			if len(ids) == 0 {
				return fmt.Errorf("%w: no story ids given", store.ErrInvalidInput)
			}

			changed, err := d.MarkArticles(cmd.Context(), ids, key, flag)
			if err != nil {
				return fmt.Errorf("update stories: %w", err)
			}
			if changed == nil {
				changed = []string{}
			}
			out := cmd.OutOrStdout()
			resp := UpdateStoriesResponse{Key: key, Flag: flag, IDs: ids, Changed: changed}
			if ok, err := writeStructured(out, getOutput(), resp); ok {
				return err
			}
			fmt.Fprintf(out, "Marked %d of %d stories as %s\n", len(changed), len(ids), statusLabel(key, flag))
			return nil
		},
	}

	cmd.Flags().BoolVar(&flags.read, "read", false, "Mark as read")
	cmd.Flags().BoolVar(&flags.unread, "unread", false, "Mark as unread")
	cmd.Flags().BoolVar(&flags.starred, "starred", false, "Mark as starred")
	cmd.Flags().BoolVar(&flags.unstarred, "unstarred", false, "Mark as unstarred")
	return cmd
}

func statusLabel(key model.StatusKey, flag bool) string {
	switch {
	case key == model.StatusRead && flag:
		return "read"
	case key == model.StatusRead:
		return "unread"
	case flag:
		return "starred"
	default:
		return "unstarred"
	}
}
