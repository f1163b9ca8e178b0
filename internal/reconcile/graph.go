// Package reconcile converges a local account graph and status sets onto the
// state reported by a remote service.
package reconcile

import (
	"sort"
	"strings"

	"github.com/tengjizhang/feedsync/internal/account"
)

// RemoteFeed is one subscription as the remote service reports it.
type RemoteFeed struct {
	FeedID      string
	Name        string
	URL         string
	HomePageURL string
	FaviconURL  string
}

// Relationship places a remote feed in a remote folder. The sentinel folder
// name means account level.
type Relationship struct {
	FolderName string
	FeedID     string
}

// GroupRelationships groups pairs by folder name, keeping first-seen feed
// order within each group.
func GroupRelationships(pairs []Relationship) map[string][]string {
	out := make(map[string][]string)
	seen := make(map[Relationship]struct{}, len(pairs))
	for _, p := range pairs {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out[p.FolderName] = append(out[p.FolderName], p.FeedID)
	}
	return out
}

// SyncFolders deletes local folders the remote no longer has, moving their
// feeds to account level, and creates folders that only exist remotely.
func SyncFolders(w *account.Writer, remoteNames []string) {
	remote := make(map[string]struct{}, len(remoteNames))
	for _, name := range remoteNames {
		remote[name] = struct{}{}
	}

	for _, folder := range w.Folders() {
		if _, ok := remote[folder.Name()]; ok {
			continue
		}
		for _, feed := range w.FolderFeeds(folder) {
			w.AddFeed(feed)
			w.ClearFolderRelationship(feed, folder.Name())
		}
		w.RemoveFolder(folder)
	}

	for _, name := range sortedKeys(remote) {
		if name == account.SentinelFolderName || strings.TrimSpace(name) == "" {
			continue
		}
		if _, ok := w.Folder(name); ok {
			continue
		}
		// Blank and sentinel names were filtered above.
		_, _ = w.EnsureFolder(name)
	}
}

// SyncFeeds removes local feeds missing remotely, refreshes metadata of the
// ones that still exist and adds new ones at account level in one batch.
func SyncFeeds(w *account.Writer, remote []RemoteFeed) {
	remoteIDs := make(map[string]struct{}, len(remote))
	for _, rf := range remote {
		remoteIDs[rf.FeedID] = struct{}{}
	}

	for _, feed := range w.FlattenedFeeds() {
		if _, ok := remoteIDs[feed.FeedID]; !ok {
			w.RemoveFeedEverywhere(feed)
		}
	}

	staged := make(map[string]*account.Feed)
	var order []string
	for _, rf := range remote {
		if existing := w.ExistingFeed(rf.FeedID); existing != nil {
			w.UpdateFeed(existing, account.FeedUpdate{
				Name:        rf.Name,
				URL:         rf.URL,
				HomePageURL: rf.HomePageURL,
				FaviconURL:  rf.FaviconURL,
				ExternalID:  rf.FeedID,
			})
			continue
		}
		if _, ok := staged[rf.FeedID]; ok {
			continue
		}
		f := w.NewFeed(rf.FeedID, rf.URL, rf.Name, rf.HomePageURL)
		f.FaviconURL = rf.FaviconURL
		staged[rf.FeedID] = f
		order = append(order, rf.FeedID)
	}

	batch := make([]*account.Feed, 0, len(order))
	for _, id := range order {
		batch = append(batch, staged[id])
	}
	w.AddFeeds(batch)
}

// SyncFeedFolderRelationship makes folder membership match the remote groups
// and trims account-level feeds to the sentinel group.
func SyncFeedFolderRelationship(w *account.Writer, groups map[string][]string) {
	for _, name := range sortedKeys(groups) {
		if name == account.SentinelFolderName {
			continue
		}
		folder, ok := w.Folder(name)
		if !ok {
			continue
		}
		want := toSet(groups[name])

		for _, feed := range w.FolderFeeds(folder) {
			if _, ok := want[feed.FeedID]; ok {
				continue
			}
			w.RemoveFeedFromFolder(folder, feed)
			w.ClearFolderRelationship(feed, name)
			w.AddFeed(feed)
		}

		for _, id := range groups[name] {
			if w.FolderHasFeed(folder, id) {
				continue
			}
			feed := w.ExistingFeed(id)
			if feed == nil {
				continue
			}
			w.SetFolderRelationship(feed, name, name)
			w.AddFeedToFolder(folder, feed)
		}
	}

	top, hasSentinel := groups[account.SentinelFolderName]
	keep := toSet(top)
	for _, feed := range w.TopLevelFeeds() {
		if !hasSentinel {
			w.RemoveFeed(feed)
			continue
		}
		if _, ok := keep[feed.FeedID]; !ok {
			w.RemoveFeed(feed)
		}
	}
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
