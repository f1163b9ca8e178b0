package account

import (
	"fmt"
	"sort"
	"strings"
)

// Writer is the only handle that can mutate an Account. It is valid for the
// duration of the Update callback that produced it.
type Writer struct {
	acct    *Account
	changes int
	touched map[string]struct{}
	order   []string
}

// Changes reports how many effective mutations this writer has applied.
func (w *Writer) Changes() int {
	return w.changes
}

func (w *Writer) AccountID() string {
	return w.a().ID
}

func (w *Writer) a() *Account {
	if w.acct == nil {
		panic("account: writer used outside Update")
	}
	return w.acct
}

func (w *Writer) changed(container string) {
	w.changes++
	if _, ok := w.touched[container]; ok {
		return
	}
	w.touched[container] = struct{}{}
	w.order = append(w.order, container)
}

func (w *Writer) events() []Event {
	if w.changes == 0 {
		return nil
	}
	out := make([]Event, 0, len(w.order)+1)
	for _, name := range w.order {
		out = append(out, ChildrenChanged{AccountID: w.acct.ID, Folder: name})
	}
	return append(out, BatchUpdated{AccountID: w.acct.ID, Changes: w.changes})
}

func (w *Writer) Folders() []*Folder {
	return w.a().sortedFolders()
}

func (w *Writer) Folder(name string) (*Folder, bool) {
	f, ok := w.a().folders[name]
	return f, ok
}

// EnsureFolder returns the folder named name, creating it when missing. The
// sentinel and blank names are rejected.
func (w *Writer) EnsureFolder(name string) (*Folder, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("folder name %q is reserved", name)
	}
	a := w.a()
	if f, ok := a.folders[name]; ok {
		return f, nil
	}
	f := &Folder{name: name, feeds: make(map[string]*Feed)}
	a.folders[name] = f
	w.changed("")
	return f, nil
}

func (w *Writer) RemoveFolder(folder *Folder) {
	a := w.a()
	if _, ok := a.folders[folder.name]; !ok {
		return
	}
	delete(a.folders, folder.name)
	w.changed("")
}

func (w *Writer) RenameFolder(folder *Folder, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("folder name %q is reserved", name)
	}
	a := w.a()
	if folder.name == name {
		return nil
	}
	if _, exists := a.folders[name]; exists {
		return fmt.Errorf("folder %q already exists", name)
	}
	delete(a.folders, folder.name)
	for _, feed := range folder.feeds {
		if id, ok := feed.FolderRelationship[folder.name]; ok {
			delete(feed.FolderRelationship, folder.name)
			feed.FolderRelationship[name] = id
		}
	}
	folder.name = name
	a.folders[name] = folder
	w.changed("")
	return nil
}

func (w *Writer) TopLevelFeeds() []*Feed {
	return sortedFeeds(w.a().topLevel)
}

func (w *Writer) HasTopLevelFeed(feedID string) bool {
	_, ok := w.a().topLevel[feedID]
	return ok
}

func (w *Writer) FolderFeeds(folder *Folder) []*Feed {
	return sortedFeeds(folder.feeds)
}

func (w *Writer) FolderHasFeed(folder *Folder, feedID string) bool {
	_, ok := folder.feeds[feedID]
	return ok
}

// ExistingFeed looks a feed up account-wide: top level first, then folders.
func (w *Writer) ExistingFeed(feedID string) *Feed {
	return w.a().existingFeed(feedID)
}

// FlattenedFeeds returns each distinct feed once.
func (w *Writer) FlattenedFeeds() []*Feed {
	a := w.a()
	all := make(map[string]*Feed, len(a.topLevel))
	for id, f := range a.topLevel {
		all[id] = f
	}
	for _, folder := range a.folders {
		for id, f := range folder.feeds {
			if _, ok := all[id]; !ok {
				all[id] = f
			}
		}
	}
	return sortedFeeds(all)
}

// NewFeed builds a detached feed. Attach it with AddFeed or AddFeedToFolder.
func (w *Writer) NewFeed(feedID, url, name, homePageURL string) *Feed {
	return &Feed{
		FeedID:             feedID,
		ExternalID:         feedID,
		URL:                url,
		Name:               name,
		HomePageURL:        homePageURL,
		FolderRelationship: make(map[string]string),
	}
}

func (w *Writer) AddFeed(feed *Feed) {
	a := w.a()
	if _, ok := a.topLevel[feed.FeedID]; ok {
		return
	}
	a.topLevel[feed.FeedID] = feed
	w.changed("")
}

// AddFeeds attaches several feeds at account level in one step.
func (w *Writer) AddFeeds(feeds []*Feed) {
	for _, f := range feeds {
		w.AddFeed(f)
	}
}

func (w *Writer) RemoveFeed(feed *Feed) {
	a := w.a()
	if _, ok := a.topLevel[feed.FeedID]; !ok {
		return
	}
	delete(a.topLevel, feed.FeedID)
	w.changed("")
}

func (w *Writer) RemoveFeeds(feeds []*Feed) {
	for _, f := range feeds {
		w.RemoveFeed(f)
	}
}

func (w *Writer) AddFeedToFolder(folder *Folder, feed *Feed) {
	if _, ok := folder.feeds[feed.FeedID]; ok {
		return
	}
	folder.feeds[feed.FeedID] = feed
	w.changed(folder.name)
}

func (w *Writer) RemoveFeedFromFolder(folder *Folder, feed *Feed) {
	if _, ok := folder.feeds[feed.FeedID]; !ok {
		return
	}
	delete(folder.feeds, feed.FeedID)
	w.changed(folder.name)
}

// RemoveFeedEverywhere detaches the feed from the account and every folder.
func (w *Writer) RemoveFeedEverywhere(feed *Feed) {
	w.RemoveFeed(feed)
	for _, folder := range w.a().sortedFolders() {
		w.RemoveFeedFromFolder(folder, feed)
	}
}

type FeedUpdate struct {
	Name        string
	URL         string
	HomePageURL string
	FaviconURL  string
	ExternalID  string
}

// UpdateFeed applies remote metadata and drops any local name override.
func (w *Writer) UpdateFeed(feed *Feed, upd FeedUpdate) {
	w.a()
	dirty := false
	set := func(dst *string, v string) {
		if *dst != v {
			*dst = v
			dirty = true
		}
	}
	set(&feed.Name, upd.Name)
	if upd.URL != "" {
		set(&feed.URL, upd.URL)
	}
	set(&feed.HomePageURL, upd.HomePageURL)
	set(&feed.FaviconURL, upd.FaviconURL)
	set(&feed.ExternalID, upd.ExternalID)
	set(&feed.EditedName, "")
	if dirty {
		w.changes++
	}
}

func (w *Writer) SetEditedName(feed *Feed, name string) {
	w.a()
	if feed.EditedName == name {
		return
	}
	feed.EditedName = name
	w.changes++
}

func (w *Writer) SetFolderRelationship(feed *Feed, folderName, id string) {
	w.a()
	if feed.FolderRelationship == nil {
		feed.FolderRelationship = make(map[string]string)
	}
	if cur, ok := feed.FolderRelationship[folderName]; ok && cur == id {
		return
	}
	feed.FolderRelationship[folderName] = id
	w.changes++
}

func (w *Writer) ClearFolderRelationship(feed *Feed, folderName string) {
	w.a()
	if _, ok := feed.FolderRelationship[folderName]; !ok {
		return
	}
	delete(feed.FolderRelationship, folderName)
	w.changes++
}

// FolderNames lists every local folder name, sorted.
func (w *Writer) FolderNames() []string {
	a := w.a()
	out := make([]string, 0, len(a.folders))
	for name := range a.folders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
