package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/tengjizhang/feedsync/internal/account"
	"github.com/tengjizhang/feedsync/internal/content"
	"github.com/tengjizhang/feedsync/internal/model"
)

type OutputFormat = model.OutputFormat

const (
	OutputTable = model.OutputTable
	OutputJSON  = model.OutputJSON
	OutputWide  = model.OutputWide
	OutputYAML  = model.OutputYAML
)

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(out io.Writer, v any) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// writeStructured handles the machine-readable formats. It reports false
// when the caller should render a table instead.
func writeStructured(out io.Writer, format OutputFormat, v any) (bool, error) {
	switch format {
	case OutputJSON:
		return true, writeJSON(out, v)
	case OutputYAML:
		return true, writeYAML(out, v)
	default:
		return false, nil
	}
}

func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
}

func writeAccountsTable(out io.Writer, accounts []model.AccountInfo, wide bool) {
	tw := newTable(out)
	if wide {
		fmt.Fprintln(tw, "NAME\tTYPE\tUSERNAME\tID\tLAST_FETCH\tCREATED")
	} else {
		fmt.Fprintln(tw, "NAME\tTYPE\tUSERNAME\tLAST_FETCH")
	}
	for _, a := range accounts {
		if wide {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				a.Name, a.Type, fallback(a.Username, "-"), a.ID, humanAgo(a.LastArticleFetchEnd), formatDate(&a.CreatedAt))
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.Name, a.Type, fallback(a.Username, "-"), humanAgo(a.LastArticleFetchEnd))
	}
	_ = tw.Flush()
}

// writeTree prints the account tree indented by depth.
func writeTree(out io.Writer, snap account.Snapshot, wide bool) {
	account.Walk(snap, func(n account.Node, depth int) {
		indent := strings.Repeat("  ", depth)
		switch v := n.(type) {
		case account.Snapshot:
			fmt.Fprintf(out, "%s (%s)\n", v.Name, v.Type)
		case account.FolderSnapshot:
			fmt.Fprintf(out, "%s%s/\n", indent, v.Name)
		case account.Feed:
			if wide {
				fmt.Fprintf(out, "%s%s [%s] %s\n", indent, v.DisplayName(), v.FeedID, v.URL)
				return
			}
			fmt.Fprintf(out, "%s%s\n", indent, v.DisplayName())
		}
	})
}

func writeFeedsTable(out io.Writer, feeds []model.FeedRow, wide bool) {
	tw := newTable(out)
	if wide {
		fmt.Fprintln(tw, "ID\tNAME\tUNREAD\tTOTAL\tFOLDERS\tURL\tSITE_URL")
		for _, f := range feeds {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
				f.FeedID,
				content.CompactText(feedRowName(f), 30),
				f.UnreadCount,
				f.TotalCount,
				fallback(strings.Join(f.Folders, ","), "-"),
				content.CompactText(f.URL, 46),
				content.CompactText(f.HomePageURL, 46),
			)
		}
	} else {
		fmt.Fprintln(tw, "ID\tNAME\tUNREAD\tFOLDERS\tURL")
		for _, f := range feeds {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
				f.FeedID,
				content.CompactText(feedRowName(f), 30),
				f.UnreadCount,
				fallback(strings.Join(f.Folders, ","), "-"),
				content.CompactText(f.URL, 56),
			)
		}
	}
	_ = tw.Flush()
}

func writeStoriesTable(out io.Writer, stories []model.Story, wide bool) {
	tw := newTable(out)
	if wide {
		fmt.Fprintln(tw, "ID\tFEED\tTITLE\tDATE\tREAD\tSTAR\tURL\tSUMMARY")
		for _, s := range stories {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%t\t%s\t%s\n",
				s.ArticleID,
				content.CompactText(s.FeedName, 24),
				content.CompactText(displayStoryTitle(s), 56),
				formatDate(s.PublishedAt),
				s.Read,
				s.Starred,
				content.CompactText(s.URL, 48),
				content.CompactText(oneLine(s.Summary), 90),
			)
		}
	} else {
		fmt.Fprintln(tw, "ID\tFEED\tTITLE\tDATE")
		for _, s := range stories {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
				s.ArticleID,
				content.CompactText(s.FeedName, 24),
				content.CompactText(displayStoryTitle(s), 56),
				formatDate(s.PublishedAt),
			)
		}
	}
	_ = tw.Flush()
}

func writeStatsTable(out io.Writer, st model.Stats) {
	tw := newTable(out)
	fmt.Fprintln(tw, "METRIC\tVALUE")
	fmt.Fprintf(tw, "feeds\t%d\n", st.Feeds)
	fmt.Fprintf(tw, "folders\t%d\n", st.Folders)
	fmt.Fprintf(tw, "unread\t%d\n", st.Unread)
	fmt.Fprintf(tw, "starred\t%d\n", st.Starred)
	fmt.Fprintf(tw, "total\t%d\n", st.Total)
	fmt.Fprintf(tw, "pending\t%d\n", st.Pending)
	_ = tw.Flush()
}

func writePendingTable(out io.Writer, statuses []model.SyncStatus) {
	tw := newTable(out)
	fmt.Fprintln(tw, "ARTICLE\tKEY\tFLAG\tSELECTED")
	for _, st := range statuses {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%t\n", st.ArticleID, st.Key, st.Flag, st.Selected)
	}
	_ = tw.Flush()
}

// writeRefreshSummary prints one colored line per account.
func writeRefreshSummary(out io.Writer, results []model.RefreshResult, wide bool) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()

	for _, r := range results {
		took := r.EndedAt.Sub(r.StartedAt).Round(10 * time.Millisecond)
		if r.Error != "" {
			fmt.Fprintf(out, "%s %s %s\n", red("✗"), r.AccountName, faint(oneLine(r.Error)))
			continue
		}
		line := fmt.Sprintf("%s %s  %d feeds, %d folders, %d pending", green("✓"), r.AccountName, r.Feeds, r.Folders, r.Pending)
		if wide {
			line += " " + faint(fmt.Sprintf("(%s)", took))
		}
		fmt.Fprintln(out, line)
	}
}

func feedRowName(f model.FeedRow) string {
	if strings.TrimSpace(f.EditedName) != "" {
		return f.EditedName
	}
	return fallback(f.Name, f.URL)
}

func oneLine(v string) string {
	v = strings.ReplaceAll(v, "\n", " ")
	v = strings.ReplaceAll(v, "\r", " ")
	return strings.TrimSpace(v)
}

func displayStoryTitle(s model.Story) string {
	if strings.TrimSpace(s.Title) != "" {
		return s.Title
	}
	if strings.TrimSpace(s.URL) != "" {
		return s.URL
	}
	return "(untitled)"
}

func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}

func humanAgo(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	d := time.Since(*t)
	if d < time.Minute {
		return "just now"
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours()/24))
}

func fallback(v, fb string) string {
	if strings.TrimSpace(v) == "" {
		return fb
	}
	return v
}
