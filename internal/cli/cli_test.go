package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tengjizhang/feedsync/internal/account"
	"github.com/tengjizhang/feedsync/internal/config"
	"github.com/tengjizhang/feedsync/internal/model"
	"github.com/tengjizhang/feedsync/internal/newsblur"
	"github.com/tengjizhang/feedsync/internal/store"
)

func testConfig(dbPath, server string) config.Config {
	cfg := config.Config{
		DBPath:            dbPath,
		HTTPTimeout:       10 * time.Second,
		UserAgent:         "feedsync-test/1.0",
		LogLevel:          "error",
		RefreshInterval:   time.Minute,
		AutoPushThreshold: 100,
	}
	if server != "" {
		cfg.Accounts = []config.Account{{
			Name: "main", Type: config.AccountTypeNewsBlur, Username: "reader", Password: "secret", Server: server,
		}}
	}
	return cfg
}

// runCLI executes one command line and returns its stdout.
func runCLI(t *testing.T, cfg config.Config, args ...string) string {
	t.Helper()
	out, err := execCLI(cfg, args...)
	if err != nil {
		t.Fatalf("command failed (%v): %v", args, err)
	}
	return out
}

func execCLI(cfg config.Config, args ...string) (string, error) {
	root := NewRootCmd(cfg)
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), err
}

func TestRefreshThenReadLocally(t *testing.T) {
	_, srv := newFakeNewsBlur(t)
	cfg := testConfig(filepath.Join(t.TempDir(), "feedsync.db"), srv.URL)

	out := runCLI(t, cfg, "refresh")
	if !strings.Contains(out, "main") || !strings.Contains(out, "1 feeds") {
		t.Fatalf("unexpected refresh summary %q", out)
	}

	var feeds []model.FeedRow
	if err := json.Unmarshal([]byte(runCLI(t, cfg, "get", "feeds", "-o", "json")), &feeds); err != nil {
		t.Fatalf("decode feeds: %v", err)
	}
	if len(feeds) != 1 || feeds[0].FeedID != "7" || feeds[0].Name != "Seven" {
		t.Fatalf("unexpected feeds %+v", feeds)
	}

	var stories []model.Story
	if err := yaml.Unmarshal([]byte(runCLI(t, cfg, "get", "stories", "--status", "all", "-o", "yaml")), &stories); err != nil {
		t.Fatalf("decode stories: %v", err)
	}
	if len(stories) != 2 {
		t.Fatalf("expected 2 stories, got %d", len(stories))
	}

	var stats model.Stats
	if err := json.Unmarshal([]byte(runCLI(t, cfg, "get", "stats", "-o", "json")), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Feeds != 1 || stats.Unread != 1 || stats.Starred != 1 || stats.Total != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	story := runCLI(t, cfg, "get", "story", "7:a", "--raw")
	if !strings.Contains(story, "Story 7:a") || !strings.Contains(story, "hello from") {
		t.Fatalf("unexpected story output %q", story)
	}

	if out := runCLI(t, cfg, "search", "hello"); !strings.Contains(out, "7:a") {
		t.Fatalf("search should find 7:a, got %q", out)
	}
	if out := runCLI(t, cfg, "get", "tree"); !strings.Contains(out, "Seven") {
		t.Fatalf("tree should list the feed, got %q", out)
	}
}

func TestUpdateQueuesAndSyncPushes(t *testing.T) {
	fake, srv := newFakeNewsBlur(t)
	cfg := testConfig(filepath.Join(t.TempDir(), "feedsync.db"), srv.URL)
	runCLI(t, cfg, "refresh")

	var resp UpdateStoriesResponse
	if err := json.Unmarshal([]byte(runCLI(t, cfg, "update", "story", "7:a", "--read", "-o", "json")), &resp); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if len(resp.Changed) != 1 || resp.Key != model.StatusRead || !resp.Flag {
		t.Fatalf("unexpected update response %+v", resp)
	}
	if fake.callsTo("reader/mark_story_hashes_as_read") != 0 {
		t.Fatalf("a small change should wait for the next push")
	}

	var pending []model.SyncStatus
	if err := json.Unmarshal([]byte(runCLI(t, cfg, "get", "pending", "-o", "json")), &pending); err != nil {
		t.Fatalf("decode pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ArticleID != "7:a" || !pending[0].Flag {
		t.Fatalf("unexpected pending %+v", pending)
	}

	runCLI(t, cfg, "sync")
	if fake.isUnread("7:a") {
		t.Fatalf("sync should have marked 7:a read remotely")
	}

	var stats model.Stats
	if err := json.Unmarshal([]byte(runCLI(t, cfg, "get", "stats", "-o", "json")), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Pending != 0 || stats.Unread != 0 {
		t.Fatalf("unexpected stats after sync %+v", stats)
	}
}

func TestRefreshStoriesAndSyncEveryAccount(t *testing.T) {
	fake, srv := newFakeNewsBlur(t)
	cfg := testConfig(filepath.Join(t.TempDir(), "feedsync.db"), srv.URL)

	runCLI(t, cfg, "refresh")
	before := fake.callsTo("reader/river_stories")
	runCLI(t, cfg, "refresh", "--stories")
	if fake.callsTo("reader/river_stories") <= before {
		t.Fatalf("refresh --stories should download unread stories")
	}

	var accounts []model.AccountInfo
	if err := json.Unmarshal([]byte(runCLI(t, cfg, "get", "accounts", "-o", "json")), &accounts); err != nil {
		t.Fatalf("decode accounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0].LastArticleFetchEnd == nil {
		t.Fatalf("expected a recorded fetch window, got %+v", accounts)
	}

	var results []model.SyncResult
	if err := json.Unmarshal([]byte(runCLI(t, cfg, "sync", "-o", "json")), &results); err != nil {
		t.Fatalf("decode sync: %v", err)
	}
	if len(results) != 1 || results[0].AccountName != "main" || results[0].Unread != 1 || results[0].Error != "" {
		t.Fatalf("unexpected sync results %+v", results)
	}
}

func TestAddFolderAndMoveFeed(t *testing.T) {
	fake, srv := newFakeNewsBlur(t)
	cfg := testConfig(filepath.Join(t.TempDir(), "feedsync.db"), srv.URL)
	runCLI(t, cfg, "refresh")

	runCLI(t, cfg, "add", "folder", "Tech")
	runCLI(t, cfg, "move", "7", "--to", "Tech")
	if fake.callsTo("reader/move_feed_to_folder") != 1 {
		t.Fatalf("expected one remote move")
	}

	var snap account.Snapshot
	if err := json.Unmarshal([]byte(runCLI(t, cfg, "get", "tree", "-o", "json")), &snap); err != nil {
		t.Fatalf("decode tree: %v", err)
	}
	if len(snap.Feeds) != 0 || len(snap.Folders) != 1 || len(snap.Folders[0].Feeds) != 1 {
		t.Fatalf("feed should live only in Tech: %+v", snap)
	}

	// A second refresh agrees with the remote tree.
	runCLI(t, cfg, "refresh")
	if err := json.Unmarshal([]byte(runCLI(t, cfg, "get", "tree", "-o", "json")), &snap); err != nil {
		t.Fatalf("decode tree: %v", err)
	}
	if len(snap.Folders) != 1 || snap.Folders[0].Name != "Tech" || len(snap.Folders[0].Feeds) != 1 {
		t.Fatalf("tree changed after refresh: %+v", snap)
	}
}

func TestExportWritesOPML(t *testing.T) {
	_, srv := newFakeNewsBlur(t)
	dir := t.TempDir()
	cfg := testConfig(filepath.Join(dir, "feedsync.db"), srv.URL)
	runCLI(t, cfg, "refresh")

	out := filepath.Join(dir, "subs.opml")
	runCLI(t, cfg, "export", "-f", out)
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.Contains(string(data), `xmlUrl="https://seven.example/rss"`) {
		t.Fatalf("export missing feed:\n%s", data)
	}
}

func TestUpdateRequiresExactlyOneFlag(t *testing.T) {
	_, srv := newFakeNewsBlur(t)
	cfg := testConfig(filepath.Join(t.TempDir(), "feedsync.db"), srv.URL)

	_, err := execCLI(cfg, "update", "story", "7:a", "--read", "--starred")
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if ErrorExitCode(err) != exitInvalidInput {
		t.Fatalf("exit code = %d", ErrorExitCode(err))
	}
}

func TestUpdateUnknownStoryIsNotFound(t *testing.T) {
	fake, srv := newFakeNewsBlur(t)
	cfg := testConfig(filepath.Join(t.TempDir(), "feedsync.db"), srv.URL)
	runCLI(t, cfg, "refresh")

	_, err := execCLI(cfg, "update", "stories", "7:a", "bogus", "--read")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if ErrorExitCode(err) != exitNotFound {
		t.Fatalf("exit code = %d", ErrorExitCode(err))
	}

	var pending []model.SyncStatus
	if err := json.Unmarshal([]byte(runCLI(t, cfg, "get", "pending", "-o", "json")), &pending); err != nil {
		t.Fatalf("decode pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("rejected update queued %+v", pending)
	}
	runCLI(t, cfg, "sync")
	if fake.callsTo("reader/mark_story_hashes_as_read") != 0 {
		t.Fatalf("rejected update reached the server")
	}
}

func TestAccountSelection(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "feedsync.db"), "")

	_, err := execCLI(cfg, "get", "feeds")
	if ErrorExitCode(err) != exitNotFound {
		t.Fatalf("no accounts should be not found, got %v", err)
	}

	_, srv := newFakeNewsBlur(t)
	cfg = testConfig(cfg.DBPath, srv.URL)
	_, err = execCLI(cfg, "--account", "other", "get", "feeds")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown account should be not found, got %v", err)
	}
	if out := runCLI(t, cfg, "get", "accounts"); !strings.Contains(out, "main") {
		t.Fatalf("accounts table missing main: %q", out)
	}
}

func TestInvalidOutputFormat(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "feedsync.db"), "")
	_, err := execCLI(cfg, "get", "accounts", "-o", "xml")
	if ErrorExitCode(err) != exitInvalidInput {
		t.Fatalf("expected invalid input, got %v", err)
	}
	_, err = execCLI(cfg, "--log-level", "loud", "get", "accounts")
	if ErrorExitCode(err) != exitInvalidInput {
		t.Fatalf("expected invalid log level to be rejected, got %v", err)
	}
}

func TestDBFlagOverridesConfig(t *testing.T) {
	configDB := filepath.Join(t.TempDir(), "from-config.db")
	flagDB := filepath.Join(t.TempDir(), "from-flag.db")
	cfg := testConfig(configDB, "")

	runCLI(t, cfg, "--db", flagDB, "get", "accounts", "-o", "json")

	if _, err := os.Stat(flagDB); err != nil {
		t.Fatalf("expected flag DB at %q: %v", flagDB, err)
	}
	if _, err := os.Stat(configDB); !os.IsNotExist(err) {
		t.Fatalf("expected config DB not to be opened, stat err: %v", err)
	}
}

func TestHelpDoesNotOpenDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "feedsync.db")
	if _, err := execCLI(testConfig(dbPath, ""), "help"); err != nil {
		t.Fatalf("help: %v", err)
	}
	if _, err := os.Stat(dbPath); !os.IsNotExist(err) {
		t.Fatalf("help should not create the database, stat err: %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		err  error
		code int
		kind string
	}{
		{fmt.Errorf("x: %w", store.ErrInvalidInput), exitInvalidInput, "invalid-input"},
		{&newsblur.AccountError{AccountName: "main", Err: newsblur.ErrInvalidParameter}, exitInvalidInput, "invalid-input"},
		{fmt.Errorf("story: %w", store.ErrNotFound), exitNotFound, "not-found"},
		{&newsblur.AccountError{AccountName: "main", Err: newsblur.ErrUnauthorized}, exitRemote, "auth"},
		{&newsblur.AccountError{AccountName: "main", Err: &newsblur.RateLimitError{RetryAfter: time.Second}}, exitRemote, "rate-limited"},
		{&newsblur.AccountError{AccountName: "main", Err: &newsblur.StatusError{Code: 502, Path: "reader/feeds"}}, exitRemote, "remote"},
		{errors.New("boom"), exitInternal, "internal"},
	}
	for _, tc := range cases {
		if got := ErrorExitCode(tc.err); got != tc.code {
			t.Fatalf("%v: exit code = %d, want %d", tc.err, got, tc.code)
		}
		if got := FormatError(tc.err); !strings.HasPrefix(got, "Error ["+tc.kind+"]: ") {
			t.Fatalf("%v: formatted as %q", tc.err, got)
		}
	}
	if ErrorExitCode(nil) != 0 || FormatError(nil) != "" {
		t.Fatalf("nil error should map to success")
	}
}

func TestRemoveAccountOnlyWhenUnconfigured(t *testing.T) {
	_, srv := newFakeNewsBlur(t)
	cfg := testConfig(filepath.Join(t.TempDir(), "feedsync.db"), srv.URL)
	runCLI(t, cfg, "get", "accounts")

	_, err := execCLI(cfg, "remove", "account", "main")
	if !errors.Is(err, store.ErrConflict) || ErrorExitCode(err) != exitInvalidInput {
		t.Fatalf("configured account should be refused, got %v", err)
	}

	// Dropped from the config, the stored account is still listed until removed.
	bare := testConfig(cfg.DBPath, "")
	if out := runCLI(t, bare, "get", "accounts"); !strings.Contains(out, "main") {
		t.Fatalf("expected stored account to remain: %q", out)
	}
	if out := runCLI(t, bare, "remove", "account", "main"); !strings.Contains(out, "Removed account main") {
		t.Fatalf("unexpected output %q", out)
	}
	var accounts []model.AccountInfo
	if err := json.Unmarshal([]byte(runCLI(t, bare, "get", "accounts", "-o", "json")), &accounts); err != nil {
		t.Fatalf("decode accounts: %v", err)
	}
	if len(accounts) != 0 {
		t.Fatalf("expected no accounts, got %+v", accounts)
	}
}
