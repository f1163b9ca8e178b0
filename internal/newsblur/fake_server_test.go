package newsblur

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeCall struct {
	Method string
	Path   string
	Form   url.Values
	Query  url.Values
}

// fakeNewsBlur is an in-memory stand-in for the NewsBlur API.
type fakeNewsBlur struct {
	mu sync.Mutex

	password string
	session  string
	logins   int
	date     time.Time

	feeds   map[string]Feed
	folders map[string][]string
	unread  map[string]struct{}
	starred map[string]struct{}
	stories map[string]Story
	pages   map[string][][]Story
	nextID  int

	// fail maps a path to the status code it answers with.
	fail       map[string]int
	retryAfter string
	calls      []fakeCall
	gates      map[string]*fakeGate
}

// fakeGate parks requests to one path until opened. entered is closed when
// the first request arrives.
type fakeGate struct {
	arrived  sync.Once
	opened   sync.Once
	entered  chan struct{}
	released chan struct{}
}

func (g *fakeGate) open() { g.opened.Do(func() { close(g.released) }) }

// hold parks every request to path until the returned gate is opened. The
// gate opens at the latest when the test ends.
func (f *fakeNewsBlur) hold(t *testing.T, path string) *fakeGate {
	t.Helper()
	g := &fakeGate{entered: make(chan struct{}), released: make(chan struct{})}
	f.mu.Lock()
	f.gates[path] = g
	f.mu.Unlock()
	t.Cleanup(g.open)
	return g
}

func newFakeNewsBlur() *fakeNewsBlur {
	return &fakeNewsBlur{
		password: "secret",
		session:  "sess-1",
		date:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		feeds:    make(map[string]Feed),
		folders:  map[string][]string{" ": nil},
		unread:   make(map[string]struct{}),
		starred:  make(map[string]struct{}),
		stories:  make(map[string]Story),
		pages:    make(map[string][][]Story),
		nextID:   100,
		fail:     make(map[string]int),
		gates:    make(map[string]*fakeGate),
	}
}

func (f *fakeNewsBlur) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeNewsBlur) addFeed(id, title, folder string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feeds[id] = Feed{
		ID:          flexString(id),
		Title:       title,
		FeedAddress: "https://" + id + ".example/feed.xml",
		FeedLink:    "https://" + id + ".example/",
	}
	if folder == "" {
		folder = " "
	}
	f.folders[folder] = append(f.folders[folder], id)
}

func (f *fakeNewsBlur) addStory(s Story, unread, starred bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stories[s.Hash] = s
	if unread {
		f.unread[s.Hash] = struct{}{}
	}
	if starred {
		f.starred[s.Hash] = struct{}{}
	}
}

func (f *fakeNewsBlur) callsTo(path string) []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeCall
	for _, c := range f.calls {
		if c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeNewsBlur) serve(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	path := strings.TrimPrefix(r.URL.Path, "/")

	f.mu.Lock()
	gate := f.gates[path]
	f.mu.Unlock()
	if gate != nil {
		gate.arrived.Do(func() { close(gate.entered) })
		<-gate.released
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{Method: r.Method, Path: path, Form: r.PostForm, Query: r.URL.Query()})

	if code, ok := f.fail[path]; ok {
		if f.retryAfter != "" {
			w.Header().Set("Retry-After", f.retryAfter)
		}
		w.WriteHeader(code)
		return
	}
	w.Header().Set("Date", f.date.Format(http.TimeFormat))
	w.Header().Set("Content-Type", "application/json")

	if path == "api/login" {
		f.logins++
		if r.PostForm.Get("password") != f.password {
			writeJSON(w, map[string]any{
				"code":   -1,
				"errors": map[string][]string{"__all__": {"Whoopsy-daisy, wrong password."}},
			})
			return
		}
		http.SetCookie(w, &http.Cookie{Name: SessionCookieName, Value: f.session})
		writeJSON(w, map[string]any{"code": 1, "authenticated": true})
		return
	}

	if c, err := r.Cookie(SessionCookieName); err != nil || c.Value != f.session {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	switch {
	case path == "api/logout":
		writeJSON(w, map[string]any{"code": 1})
	case path == "reader/feeds":
		flat := make(map[string][]string, len(f.folders))
		for name, ids := range f.folders {
			flat[name] = append([]string{}, ids...)
		}
		writeJSON(w, map[string]any{"feeds": f.feeds, "flat_folders": flat})
	case path == "reader/unread_story_hashes":
		byFeed := make(map[string][][]any)
		for _, hash := range sortedSet(f.unread) {
			feedID := strings.SplitN(hash, ":", 2)[0]
			byFeed[feedID] = append(byFeed[feedID], []any{hash, 1767225600})
		}
		writeJSON(w, map[string]any{"unread_feed_story_hashes": byFeed})
	case path == "reader/starred_story_hashes":
		pairs := make([][]any, 0)
		for _, hash := range sortedSet(f.starred) {
			pairs = append(pairs, []any{hash, 1767225600})
		}
		writeJSON(w, map[string]any{"starred_story_hashes": pairs})
	case path == "reader/river_stories":
		out := make([]Story, 0)
		for _, h := range r.URL.Query()["h"] {
			if s, ok := f.stories[h]; ok {
				out = append(out, s)
			}
		}
		writeJSON(w, map[string]any{"stories": out})
	case strings.HasPrefix(path, "reader/feed/"):
		id := strings.TrimPrefix(path, "reader/feed/")
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		out := make([]Story, 0)
		if pages := f.pages[id]; page >= 1 && page <= len(pages) {
			out = pages[page-1]
		}
		writeJSON(w, map[string]any{"stories": out})
	case path == "reader/mark_story_hash_as_unread":
		for _, h := range r.PostForm["story_hash"] {
			f.unread[h] = struct{}{}
		}
		writeJSON(w, map[string]any{"code": 1, "result": "ok"})
	case path == "reader/mark_story_hashes_as_read":
		for _, h := range r.PostForm["story_hash"] {
			delete(f.unread, h)
		}
		writeJSON(w, map[string]any{"code": 1, "result": "ok"})
	case path == "reader/mark_story_hash_as_starred":
		for _, h := range r.PostForm["story_hash"] {
			f.starred[h] = struct{}{}
		}
		writeJSON(w, map[string]any{"code": 1, "result": "ok"})
	case path == "reader/mark_story_hash_as_unstarred":
		for _, h := range r.PostForm["story_hash"] {
			delete(f.starred, h)
		}
		writeJSON(w, map[string]any{"code": 1, "result": "ok"})
	case path == "reader/add_folder":
		name := r.PostForm.Get("folder")
		if _, ok := f.folders[name]; !ok {
			f.folders[name] = nil
		}
		writeJSON(w, map[string]any{"code": 1})
	case path == "reader/rename_folder":
		from, to := r.PostForm.Get("folder_to_rename"), r.PostForm.Get("new_folder_name")
		f.folders[to] = f.folders[from]
		delete(f.folders, from)
		writeJSON(w, map[string]any{"code": 1})
	case path == "reader/delete_folder":
		name := r.PostForm.Get("folder_to_delete")
		for _, id := range r.PostForm["feed_id"] {
			delete(f.feeds, id)
		}
		delete(f.folders, name)
		writeJSON(w, map[string]any{"code": 1})
	case path == "reader/add_url":
		f.addURLLocked(w, r.PostForm.Get("url"), r.PostForm.Get("folder"))
	case path == "reader/rename_feed":
		id := r.PostForm.Get("feed_id")
		feed := f.feeds[id]
		feed.Title = r.PostForm.Get("feed_title")
		f.feeds[id] = feed
		writeJSON(w, map[string]any{"code": 1})
	case path == "reader/delete_feed":
		id := r.PostForm.Get("feed_id")
		folder := r.PostForm.Get("in_folder")
		if folder == "" {
			folder = " "
		}
		f.folders[folder] = without(f.folders[folder], id)
		writeJSON(w, map[string]any{"code": 1})
	case path == "reader/move_feed_to_folder":
		id := r.PostForm.Get("feed_id")
		from, to := r.PostForm.Get("in_folders"), r.PostForm.Get("to_folders")
		if from == "" {
			from = " "
		}
		if to == "" {
			to = " "
		}
		f.folders[from] = without(f.folders[from], id)
		f.folders[to] = append(f.folders[to], id)
		writeJSON(w, map[string]any{"code": 1})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeNewsBlur) addURLLocked(w http.ResponseWriter, rawURL, folder string) {
	if strings.Contains(rawURL, "nothing-here") {
		writeJSON(w, map[string]any{"code": 1})
		return
	}
	if strings.Contains(rawURL, "broken") {
		writeJSON(w, map[string]any{"code": -1, "message": "This address does not point to an RSS feed or a website with an RSS feed."})
		return
	}
	var feed Feed
	for _, existing := range f.feeds {
		if existing.FeedAddress == rawURL {
			feed = existing
		}
	}
	if feed.ID == "" {
		id := strconv.Itoa(f.nextID)
		f.nextID++
		feed = Feed{ID: flexString(id), Title: "Feed " + id, FeedAddress: rawURL, FeedLink: rawURL}
		f.feeds[id] = feed
	}
	if folder == "" {
		folder = " "
	}
	f.folders[folder] = append(without(f.folders[folder], string(feed.ID)), string(feed.ID))
	writeJSON(w, map[string]any{"code": 1, "feed": feed})
}

func writeJSON(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}

func sortedSet(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func newTestClient(t *testing.T, srv *httptest.Server, sessionID string) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		BaseURL:    srv.URL,
		Username:   "reader",
		Password:   "secret",
		SessionID:  sessionID,
		HTTPClient: srv.Client(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func (f *fakeNewsBlur) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}
