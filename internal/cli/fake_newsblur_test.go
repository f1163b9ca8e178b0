package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/tengjizhang/feedsync/internal/newsblur"
)

// fakeNewsBlur serves one account with feed 7 at the top level. Story 7:a is
// unread and 7:b is starred.
type fakeNewsBlur struct {
	mu      sync.Mutex
	folders map[string][]string
	unread  map[string]bool
	starred map[string]bool
	calls   []string
}

func newFakeNewsBlur(t *testing.T) (*fakeNewsBlur, *httptest.Server) {
	t.Helper()
	f := &fakeNewsBlur{
		folders: map[string][]string{" ": {"7"}},
		unread:  map[string]bool{"7:a": true},
		starred: map[string]bool{"7:b": true},
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeNewsBlur) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = r.ParseForm()
	path := strings.TrimPrefix(r.URL.Path, "/")
	f.calls = append(f.calls, path)

	write := func(v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	ok := func() { write(map[string]any{"code": 1, "result": "ok"}) }

	if path == "api/login" {
		http.SetCookie(w, &http.Cookie{Name: newsblur.SessionCookieName, Value: "cli-session"})
		write(map[string]any{"code": 1, "authenticated": true})
		return
	}
	if c, err := r.Cookie(newsblur.SessionCookieName); err != nil || c.Value != "cli-session" {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	switch path {
	case "api/logout":
		ok()
	case "reader/feeds":
		write(map[string]any{
			"feeds": map[string]any{"7": map[string]any{
				"id": 7, "feed_title": "Seven", "feed_address": "https://seven.example/rss", "feed_link": "https://seven.example",
			}},
			"flat_folders": f.folders,
		})
	case "reader/unread_story_hashes":
		pairs := make([]any, 0)
		for _, h := range sortedKeys(f.unread) {
			pairs = append(pairs, []any{h, 1767225600})
		}
		write(map[string]any{"unread_feed_story_hashes": map[string]any{"7": pairs}})
	case "reader/starred_story_hashes":
		pairs := make([]any, 0)
		for _, h := range sortedKeys(f.starred) {
			pairs = append(pairs, []any{h, 1767225600})
		}
		write(map[string]any{"starred_story_hashes": pairs})
	case "reader/river_stories":
		stories := make([]any, 0)
		for _, h := range r.URL.Query()["h"] {
			stories = append(stories, map[string]any{
				"story_hash":      h,
				"story_feed_id":   7,
				"story_title":     "Story " + h,
				"story_content":   "<p>hello from <b>" + h + "</b></p>",
				"story_permalink": "https://seven.example/" + strings.ReplaceAll(h, ":", "-"),
				"story_timestamp": "1767225600",
			})
		}
		write(map[string]any{"stories": stories})
	case "reader/mark_story_hashes_as_read":
		for _, h := range r.PostForm["story_hash"] {
			delete(f.unread, h)
		}
		ok()
	case "reader/mark_story_hash_as_unread":
		for _, h := range r.PostForm["story_hash"] {
			f.unread[h] = true
		}
		ok()
	case "reader/mark_story_hash_as_starred":
		for _, h := range r.PostForm["story_hash"] {
			f.starred[h] = true
		}
		ok()
	case "reader/mark_story_hash_as_unstarred":
		for _, h := range r.PostForm["story_hash"] {
			delete(f.starred, h)
		}
		ok()
	case "reader/add_folder":
		name := r.PostForm.Get("folder")
		if _, exists := f.folders[name]; !exists {
			f.folders[name] = []string{}
		}
		ok()
	case "reader/move_feed_to_folder":
		id := r.PostForm.Get("feed_id")
		from, to := folderKey(r.PostForm.Get("in_folders")), folderKey(r.PostForm.Get("to_folders"))
		f.folders[from] = without(f.folders[from], id)
		f.folders[to] = append(f.folders[to], id)
		ok()
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeNewsBlur) callsTo(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == path {
			n++
		}
	}
	return n
}

func (f *fakeNewsBlur) isUnread(hash string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread[hash]
}

func folderKey(name string) string {
	if name == "" {
		return " "
	}
	return name
}

func sortedKeys(m map[string]bool) []string {
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
