package account

import (
	"sort"
	"strings"
	"sync"
)

// SentinelFolderName is the remote name for "no folder". It never becomes a
// local folder.
const SentinelFolderName = " "

type Feed struct {
	FeedID             string            `json:"feed_id" yaml:"feed_id"`
	ExternalID         string            `json:"external_id,omitempty" yaml:"external_id,omitempty"`
	URL                string            `json:"url" yaml:"url"`
	Name               string            `json:"name,omitempty" yaml:"name,omitempty"`
	EditedName         string            `json:"edited_name,omitempty" yaml:"edited_name,omitempty"`
	HomePageURL        string            `json:"home_page_url,omitempty" yaml:"home_page_url,omitempty"`
	FaviconURL         string            `json:"favicon_url,omitempty" yaml:"favicon_url,omitempty"`
	FolderRelationship map[string]string `json:"folder_relationship,omitempty" yaml:"folder_relationship,omitempty"`
}

func (f Feed) DisplayName() string {
	if strings.TrimSpace(f.EditedName) != "" {
		return f.EditedName
	}
	if strings.TrimSpace(f.Name) != "" {
		return f.Name
	}
	return f.URL
}

func (f Feed) clone() Feed {
	out := f
	if f.FolderRelationship != nil {
		out.FolderRelationship = make(map[string]string, len(f.FolderRelationship))
		for k, v := range f.FolderRelationship {
			out.FolderRelationship[k] = v
		}
	}
	return out
}

type Folder struct {
	name  string
	feeds map[string]*Feed
}

func (f *Folder) Name() string {
	return f.name
}

// Account is the root of one remote service's local hierarchy. Mutation is
// only possible through the Writer handed out by Update.
type Account struct {
	ID   string
	Name string
	Type string

	mu       sync.Mutex
	folders  map[string]*Folder
	topLevel map[string]*Feed

	subsMu  sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

func New(id, name, kind string) *Account {
	return &Account{
		ID:       id,
		Name:     name,
		Type:     kind,
		folders:  make(map[string]*Folder),
		topLevel: make(map[string]*Feed),
		subs:     make(map[int]func(Event)),
	}
}

// Update runs fn with exclusive write access to the graph. Events collected
// during fn are delivered after the lock is released.
func (a *Account) Update(fn func(w *Writer) error) error {
	a.mu.Lock()
	w := &Writer{acct: a, touched: make(map[string]struct{})}
	err := fn(w)
	events := w.events()
	w.acct = nil
	a.mu.Unlock()

	a.deliver(events)
	return err
}

func (a *Account) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{ID: a.ID, Name: a.Name, Type: a.Type}
	for _, f := range sortedFeeds(a.topLevel) {
		snap.Feeds = append(snap.Feeds, f.clone())
	}
	for _, folder := range a.sortedFolders() {
		fs := FolderSnapshot{Name: folder.name}
		for _, f := range sortedFeeds(folder.feeds) {
			fs.Feeds = append(fs.Feeds, f.clone())
		}
		snap.Folders = append(snap.Folders, fs)
	}
	return snap
}

func (a *Account) FeedIDs() map[string]struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]struct{})
	for id := range a.topLevel {
		out[id] = struct{}{}
	}
	for _, folder := range a.folders {
		for id := range folder.feeds {
			out[id] = struct{}{}
		}
	}
	return out
}

// FindFeed returns a copy of the feed with feedID, wherever it lives.
func (a *Account) FindFeed(feedID string) (Feed, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if f := a.existingFeed(feedID); f != nil {
		return f.clone(), true
	}
	return Feed{}, false
}

func (a *Account) HasFolder(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.folders[name]
	return ok
}

func (a *Account) existingFeed(feedID string) *Feed {
	if f, ok := a.topLevel[feedID]; ok {
		return f
	}
	for _, folder := range a.sortedFolders() {
		if f, ok := folder.feeds[feedID]; ok {
			return f
		}
	}
	return nil
}

func (a *Account) sortedFolders() []*Folder {
	out := make([]*Folder, 0, len(a.folders))
	for _, f := range a.folders {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func sortedFeeds(m map[string]*Feed) []*Feed {
	out := make([]*Feed, 0, len(m))
	for _, f := range m {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FeedID < out[j].FeedID })
	return out
}

type Snapshot struct {
	ID      string           `json:"id" yaml:"id"`
	Name    string           `json:"name" yaml:"name"`
	Type    string           `json:"type" yaml:"type"`
	Feeds   []Feed           `json:"feeds" yaml:"feeds"`
	Folders []FolderSnapshot `json:"folders" yaml:"folders"`
}

type FolderSnapshot struct {
	Name  string `json:"name" yaml:"name"`
	Feeds []Feed `json:"feeds" yaml:"feeds"`
}

// FlattenedFeeds returns every feed once, ordered by feed ID.
func (s Snapshot) FlattenedFeeds() []Feed {
	seen := make(map[string]struct{})
	out := make([]Feed, 0, len(s.Feeds))
	add := func(f Feed) {
		if _, ok := seen[f.FeedID]; ok {
			return
		}
		seen[f.FeedID] = struct{}{}
		out = append(out, f)
	}
	for _, f := range s.Feeds {
		add(f)
	}
	for _, folder := range s.Folders {
		for _, f := range folder.Feeds {
			add(f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FeedID < out[j].FeedID })
	return out
}

// FolderNames maps each feed ID to the folders that contain it.
func (s Snapshot) FolderNames() map[string][]string {
	out := make(map[string][]string)
	for _, folder := range s.Folders {
		for _, f := range folder.Feeds {
			out[f.FeedID] = append(out[f.FeedID], folder.Name)
		}
	}
	return out
}
