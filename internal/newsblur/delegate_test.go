package newsblur

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/tengjizhang/feedsync/internal/account"
	"github.com/tengjizhang/feedsync/internal/model"
	"github.com/tengjizhang/feedsync/internal/store"
)

func newTestDelegate(t *testing.T, fake *fakeNewsBlur, opts DelegateOptions) (*Delegate, *store.Store) {
	t.Helper()
	srv := fake.start(t)

	db, err := store.OpenDB(filepath.Join(t.TempDir(), "feedsync.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	st := store.NewStore(db)

	info, _, err := st.EnsureAccount(context.Background(), "main", AccountType, "reader")
	if err != nil {
		t.Fatalf("ensure account: %v", err)
	}

	opts.Store = st
	opts.Client = newTestClient(t, srv, "sess-1")
	if opts.Now == nil {
		opts.Now = func() time.Time { return fake.date }
	}
	d := NewDelegate(info, opts)
	if err := d.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return d, st
}

// seededFake has feed 1 at account level, feed 2 in Tech, feed 3 in both Tech
// and News, and an empty folder.
func seededFake() *fakeNewsBlur {
	fake := newFakeNewsBlur()
	fake.addFeed("1", "One", "")
	fake.addFeed("2", "Two", "Tech")
	fake.addFeed("3", "Three", "Tech")
	fake.mu.Lock()
	fake.folders["News"] = []string{"3"}
	fake.folders["Empty"] = nil
	fake.mu.Unlock()

	fake.addStory(Story{Hash: "1:a", FeedID: "1", Title: "Alpha", Content: "<p>alpha body</p>", Timestamp: "1767225600"}, true, false)
	fake.addStory(Story{Hash: "2:b", FeedID: "2", Title: "Beta", Content: "<p>beta body</p>", Timestamp: "1767225600"}, false, true)
	fake.addStory(Story{Hash: "3:c", FeedID: "3", Title: "Gamma", Content: "<p>gamma body</p>", Timestamp: "1767225600"}, true, true)
	return fake
}

func feedIDsOf(feeds []account.Feed) []string {
	out := make([]string, 0, len(feeds))
	for _, f := range feeds {
		out = append(out, f.FeedID)
	}
	return out
}

func folderMap(snap account.Snapshot) map[string][]string {
	out := make(map[string][]string)
	for _, f := range snap.Folders {
		out[f.Name] = feedIDsOf(f.Feeds)
	}
	return out
}

func idSlice(m map[string]struct{}) []string {
	return sortedSet(m)
}

func TestRefreshAllConvergesTreeAndStatuses(t *testing.T) {
	ctx := context.Background()
	fake := seededFake()
	d, st := newTestDelegate(t, fake, DelegateOptions{})

	if err := d.RefreshAll(ctx); err != nil {
		t.Fatalf("refresh all: %v", err)
	}

	snap := d.Account().Snapshot()
	if got := feedIDsOf(snap.Feeds); !reflect.DeepEqual(got, []string{"1"}) {
		t.Fatalf("unexpected top-level feeds %v", got)
	}
	wantFolders := map[string][]string{"Empty": {}, "News": {"3"}, "Tech": {"2", "3"}}
	if got := folderMap(snap); !reflect.DeepEqual(got, wantFolders) {
		t.Fatalf("expected folders %v, got %v", wantFolders, got)
	}

	unread, err := st.UnreadArticleIDs(ctx, d.Info().ID)
	if err != nil {
		t.Fatalf("unread ids: %v", err)
	}
	if got := idSlice(unread); !reflect.DeepEqual(got, []string{"1:a", "3:c"}) {
		t.Fatalf("unexpected unread %v", got)
	}
	starred, err := st.StarredArticleIDs(ctx, d.Info().ID)
	if err != nil {
		t.Fatalf("starred ids: %v", err)
	}
	if got := idSlice(starred); !reflect.DeepEqual(got, []string{"2:b", "3:c"}) {
		t.Fatalf("unexpected starred %v", got)
	}

	story, err := st.GetStory(ctx, d.Info().ID, "2:b")
	if err != nil {
		t.Fatalf("get story: %v", err)
	}
	if !story.Read || !story.Starred || !strings.Contains(story.ContentMD, "beta body") {
		t.Fatalf("unexpected story %+v", story)
	}
	if !d.Progress().IsComplete() {
		t.Fatalf("expected progress to be complete: %+v", d.Progress().Snapshot())
	}

	// The persisted graph matches the in-memory one.
	reloaded := account.New(d.Info().ID, "main", AccountType)
	if err := st.LoadGraph(ctx, reloaded); err != nil {
		t.Fatalf("load graph: %v", err)
	}
	if got := folderMap(reloaded.Snapshot()); !reflect.DeepEqual(got, wantFolders) {
		t.Fatalf("reloaded folders %v", got)
	}
}

func TestRefreshFeedsDropsRemovedRemoteState(t *testing.T) {
	ctx := context.Background()
	fake := seededFake()
	d, _ := newTestDelegate(t, fake, DelegateOptions{})
	if err := d.RefreshFeeds(ctx); err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	fake.mu.Lock()
	delete(fake.folders, "News")
	delete(fake.feeds, "1")
	fake.folders[" "] = nil
	fake.mu.Unlock()

	if err := d.RefreshFeeds(ctx); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	snap := d.Account().Snapshot()
	if len(snap.Feeds) != 0 {
		t.Fatalf("expected no top-level feeds, got %v", feedIDsOf(snap.Feeds))
	}
	if got := folderMap(snap); !reflect.DeepEqual(got, map[string][]string{"Empty": {}, "Tech": {"2", "3"}}) {
		t.Fatalf("unexpected folders %v", got)
	}
	feed, ok := d.Account().FindFeed("3")
	if !ok {
		t.Fatalf("feed 3 missing")
	}
	if _, ok := feed.FolderRelationship["News"]; ok {
		t.Fatalf("News relationship should be cleared: %v", feed.FolderRelationship)
	}
}

func TestRefreshAllWrapsAccountAndResetsProgress(t *testing.T) {
	fake := seededFake()
	fake.fail["reader/feeds"] = 500
	d, _ := newTestDelegate(t, fake, DelegateOptions{})

	err := d.RefreshAll(context.Background())
	var ae *AccountError
	if !errors.As(err, &ae) || ae.AccountName != "main" {
		t.Fatalf("expected account error, got %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != 500 {
		t.Fatalf("expected wrapped status error, got %v", err)
	}
	if snap := d.Progress().Snapshot(); snap.NumberOfTasks != 0 {
		t.Fatalf("expected progress reset, got %+v", snap)
	}
	// The pull still ran after the failed tree refresh.
	if len(fake.callsTo("reader/unread_story_hashes")) == 0 {
		t.Fatalf("expected status pull to run")
	}
}

func TestRefreshAllRunsOneAtATime(t *testing.T) {
	fake := seededFake()
	d, _ := newTestDelegate(t, fake, DelegateOptions{})
	gate := fake.hold(t, "reader/feeds")

	first := make(chan error, 1)
	go func() { first <- d.RefreshAll(context.Background()) }()
	<-gate.entered

	second := make(chan error, 1)
	go func() { second <- d.RefreshAll(context.Background()) }()
	select {
	case err := <-second:
		t.Fatalf("second refresh finished while the first was running: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	if snap := d.Progress().Snapshot(); snap.NumberOfTasks != 4 || snap.IsComplete {
		t.Fatalf("second refresh reset the running progress: %+v", snap)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.RefreshAll(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("waiting refresh should give up on cancel, got %v", err)
	}

	gate.open()
	for _, ch := range []chan error{first, second} {
		if err := <-ch; err != nil {
			t.Fatalf("refresh all: %v", err)
		}
	}
	if n := len(fake.callsTo("reader/feeds")); n != 2 {
		t.Fatalf("expected 2 tree pulls, got %d", n)
	}
}

func TestRefreshStoriesChunksUnreadAndRecordsFetchWindow(t *testing.T) {
	ctx := context.Background()
	fake := seededFake()
	for i := 0; i < 205; i++ {
		hash := fmt.Sprintf("1:s%03d", i)
		fake.addStory(Story{Hash: hash, FeedID: "1", Title: "Story " + hash, Timestamp: "1767225600"}, true, false)
	}
	d, st := newTestDelegate(t, fake, DelegateOptions{})
	if err := d.RefreshFeeds(ctx); err != nil {
		t.Fatalf("refresh feeds: %v", err)
	}

	if err := d.RefreshStories(ctx); err != nil {
		t.Fatalf("refresh stories: %v", err)
	}

	calls := fake.callsTo("reader/river_stories")
	if len(calls) != 3 {
		t.Fatalf("expected 3 river_stories calls for 207 hashes, got %d", len(calls))
	}
	for _, c := range calls {
		if n := len(c.Query["h"]); n > MaxStoriesPerRequest {
			t.Fatalf("chunk of %d hashes exceeds %d", n, MaxStoriesPerRequest)
		}
	}

	stats, err := st.GetStats(ctx, d.Info().ID)
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if stats.Total != 207 || stats.Unread != 207 {
		t.Fatalf("expected 207 unread stories, got %+v", stats)
	}

	acct, err := st.GetAccount(ctx, d.Info().ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	for _, got := range []*time.Time{acct.LastArticleFetchStart, acct.LastArticleFetchEnd, d.Info().LastArticleFetchEnd} {
		if got == nil || !got.Equal(fake.date) {
			t.Fatalf("fetch window = %v..%v, want %v", acct.LastArticleFetchStart, acct.LastArticleFetchEnd, fake.date)
		}
	}
	if !d.Progress().IsComplete() {
		t.Fatalf("progress should be complete: %+v", d.Progress().Snapshot())
	}
}

func TestMarkArticlesQueuesUntilPushed(t *testing.T) {
	ctx := context.Background()
	fake := seededFake()
	d, st := newTestDelegate(t, fake, DelegateOptions{})
	if err := d.RefreshAll(ctx); err != nil {
		t.Fatalf("refresh all: %v", err)
	}

	changed, err := d.MarkArticles(ctx, []string{"1:a"}, model.StatusRead, true)
	if err != nil {
		t.Fatalf("mark articles: %v", err)
	}
	if !reflect.DeepEqual(changed, []string{"1:a"}) {
		t.Fatalf("unexpected changed ids %v", changed)
	}

	// A pull before the push must not revert the pending change.
	if err := d.RefreshArticleStatus(ctx); err != nil {
		t.Fatalf("refresh status: %v", err)
	}
	story, err := st.GetStory(ctx, d.Info().ID, "1:a")
	if err != nil {
		t.Fatalf("get story: %v", err)
	}
	if !story.Read {
		t.Fatalf("pending read status was overwritten by the pull")
	}

	if err := d.SyncArticleStatus(ctx); err != nil {
		t.Fatalf("sync status: %v", err)
	}
	pending, err := st.ListSyncStatuses(ctx, d.Info().ID)
	if err != nil {
		t.Fatalf("list sync statuses: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty queue, got %+v", pending)
	}
	fake.mu.Lock()
	_, stillUnread := fake.unread["1:a"]
	fake.mu.Unlock()
	if stillUnread {
		t.Fatalf("remote should have 1:a read")
	}
}

func TestFailedPushLeavesStatusPending(t *testing.T) {
	ctx := context.Background()
	fake := seededFake()
	fake.fail["reader/mark_story_hash_as_starred"] = 500
	d, st := newTestDelegate(t, fake, DelegateOptions{})
	if err := d.RefreshAll(ctx); err != nil {
		t.Fatalf("refresh all: %v", err)
	}

	if _, err := d.MarkArticles(ctx, []string{"1:a"}, model.StatusStarred, true); err != nil {
		t.Fatalf("mark articles: %v", err)
	}
	if _, err := d.MarkArticles(ctx, []string{"1:a"}, model.StatusRead, true); err != nil {
		t.Fatalf("mark articles: %v", err)
	}
	if err := d.SendArticleStatus(ctx); err == nil {
		t.Fatalf("expected push error")
	}

	pending, err := st.ListSyncStatuses(ctx, d.Info().ID)
	if err != nil {
		t.Fatalf("list sync statuses: %v", err)
	}
	want := []model.SyncStatus{{ArticleID: "1:a", Key: model.StatusStarred, Flag: true}}
	if !reflect.DeepEqual(pending, want) {
		t.Fatalf("expected %+v, got %+v", want, pending)
	}
}

func TestMarkArticlesPushesAboveThreshold(t *testing.T) {
	ctx := context.Background()
	fake := seededFake()
	d, st := newTestDelegate(t, fake, DelegateOptions{AutoPushThreshold: 1})
	if err := d.RefreshAll(ctx); err != nil {
		t.Fatalf("refresh all: %v", err)
	}

	// 2:b is already read, so only two rows are queued.
	if _, err := d.MarkArticles(ctx, []string{"1:a", "2:b", "3:c"}, model.StatusRead, true); err != nil {
		t.Fatalf("mark articles: %v", err)
	}
	calls := fake.callsTo("reader/mark_story_hashes_as_read")
	if len(calls) != 1 || !reflect.DeepEqual(calls[0].Form["story_hash"], []string{"1:a", "3:c"}) {
		t.Fatalf("expected one batched read call, got %+v", calls)
	}
	n, err := st.SelectPendingCount(ctx, d.Info().ID)
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected empty queue, got %d", n)
	}
}

func TestMarkArticlesQueuesOnlyChangedArticles(t *testing.T) {
	ctx := context.Background()
	fake := seededFake()
	d, st := newTestDelegate(t, fake, DelegateOptions{})
	if err := d.RefreshAll(ctx); err != nil {
		t.Fatalf("refresh all: %v", err)
	}

	changed, err := d.MarkArticles(ctx, []string{"2:b"}, model.StatusRead, true)
	if err != nil {
		t.Fatalf("mark articles: %v", err)
	}
	if len(changed) != 0 {
		t.Fatalf("2:b was already read, got changed %v", changed)
	}
	changed, err = d.MarkArticles(ctx, []string{"2:b", "3:c"}, model.StatusStarred, true)
	if err != nil {
		t.Fatalf("mark articles: %v", err)
	}
	if len(changed) != 0 {
		t.Fatalf("both were already starred, got changed %v", changed)
	}

	n, err := st.SelectPendingCount(ctx, d.Info().ID)
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if n != 0 {
		t.Fatalf("no-op marks queued %d rows", n)
	}
}

func TestMarkArticlesRejectsUnknownArticle(t *testing.T) {
	ctx := context.Background()
	fake := seededFake()
	d, st := newTestDelegate(t, fake, DelegateOptions{})
	if err := d.RefreshAll(ctx); err != nil {
		t.Fatalf("refresh all: %v", err)
	}

	_, err := d.MarkArticles(ctx, []string{"1:a", "9:nope"}, model.StatusRead, true)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "9:nope") {
		t.Fatalf("error should name the unknown story: %v", err)
	}

	// The known article in the same call is left untouched.
	story, err := st.GetStory(ctx, d.Info().ID, "1:a")
	if err != nil {
		t.Fatalf("get story: %v", err)
	}
	if story.Read {
		t.Fatalf("1:a was marked read despite the rejected call")
	}
	n, err := st.SelectPendingCount(ctx, d.Info().ID)
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if n != 0 {
		t.Fatalf("rejected call queued %d rows", n)
	}
}

func TestLoadResetsInterruptedPush(t *testing.T) {
	ctx := context.Background()
	fake := seededFake()
	d, st := newTestDelegate(t, fake, DelegateOptions{})

	if err := st.InsertStatuses(ctx, d.Info().ID, []model.SyncStatus{{ArticleID: "1:a", Key: model.StatusRead, Flag: true}}); err != nil {
		t.Fatalf("insert statuses: %v", err)
	}
	if _, err := st.SelectForProcessing(ctx, d.Info().ID); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := d.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	n, err := st.SelectPendingCount(ctx, d.Info().ID)
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pending row after load, got %d", n)
	}
}

func TestCreateFeedSubscribesRenamesAndDownloads(t *testing.T) {
	ctx := context.Background()
	fake := seededFake()
	recent := fake.date.Add(-24 * time.Hour).Unix()
	old := fake.date.AddDate(-1, 0, 0).Unix()
	fake.pages["100"] = [][]Story{
		{{Hash: "100:n1", FeedID: "100", Title: "New", Timestamp: flexString(itoa(recent))}},
		{{Hash: "100:o1", FeedID: "100", Title: "Old", Timestamp: flexString(itoa(old))}},
		{{Hash: "100:o2", FeedID: "100", Title: "Older", Timestamp: flexString(itoa(old))}},
	}
	fake.unread["100:n1"] = struct{}{}
	d, st := newTestDelegate(t, fake, DelegateOptions{})
	if err := d.RefreshFeeds(ctx); err != nil {
		t.Fatalf("refresh feeds: %v", err)
	}

	feed, err := d.CreateFeed(ctx, "https://new.example/feed.xml", CreateFeedOptions{Name: "Renamed", Folder: "Tech"})
	if err != nil {
		t.Fatalf("create feed: %v", err)
	}
	if feed.FeedID != "100" || feed.EditedName != "Renamed" || feed.FolderRelationship["Tech"] != "Tech" {
		t.Fatalf("unexpected feed %+v", feed)
	}
	if got := folderMap(d.Account().Snapshot())["Tech"]; !reflect.DeepEqual(got, []string{"100", "2", "3"}) {
		t.Fatalf("unexpected Tech feeds %v", got)
	}
	if len(fake.callsTo("reader/rename_feed")) != 1 {
		t.Fatalf("expected rename call")
	}
	if pages := len(fake.callsTo("reader/feed/100")); pages != 2 {
		t.Fatalf("expected download to stop after 2 pages, got %d", pages)
	}

	story, err := st.GetStory(ctx, d.Info().ID, "100:n1")
	if err != nil {
		t.Fatalf("get story: %v", err)
	}
	if story.Read {
		t.Fatalf("new story should be unread after the status pull")
	}
	if _, err := st.GetStory(ctx, d.Info().ID, "100:o1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("old story should be skipped, got %v", err)
	}
}

func TestCreateFeedWithoutRemoteFeedIsInvalidParameter(t *testing.T) {
	fake := seededFake()
	d, _ := newTestDelegate(t, fake, DelegateOptions{})

	_, err := d.CreateFeed(context.Background(), "https://nothing-here.example/", CreateFeedOptions{})
	if !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected invalid parameter, got %v", err)
	}
	var ae *AccountError
	if !errors.As(err, &ae) {
		t.Fatalf("expected account error, got %T", err)
	}
}

func TestRemoveFolderUnsubscribesExclusiveFeeds(t *testing.T) {
	ctx := context.Background()
	fake := seededFake()
	d, _ := newTestDelegate(t, fake, DelegateOptions{})
	if err := d.RefreshFeeds(ctx); err != nil {
		t.Fatalf("refresh feeds: %v", err)
	}

	if err := d.RemoveFolder(ctx, "Tech"); err != nil {
		t.Fatalf("remove folder: %v", err)
	}
	calls := fake.callsTo("reader/delete_folder")
	if len(calls) != 1 {
		t.Fatalf("expected one delete_folder call, got %d", len(calls))
	}
	if got := calls[0].Form["feed_id"]; !reflect.DeepEqual(got, []string{"2"}) {
		t.Fatalf("expected only feed 2 to be sent, got %v", got)
	}

	snap := d.Account().Snapshot()
	if _, ok := folderMap(snap)["Tech"]; ok {
		t.Fatalf("Tech should be gone")
	}
	feed, ok := d.Account().FindFeed("3")
	if !ok {
		t.Fatalf("feed 3 should survive in News")
	}
	if _, ok := feed.FolderRelationship["Tech"]; ok {
		t.Fatalf("Tech relationship should be cleared: %v", feed.FolderRelationship)
	}
	if _, ok := d.Account().FindFeed("2"); ok {
		t.Fatalf("feed 2 should be gone with its folder")
	}
}

func TestRemoveFolderUnknownIsNotFound(t *testing.T) {
	d, _ := newTestDelegate(t, seededFake(), DelegateOptions{})
	if err := d.RemoveFolder(context.Background(), "Nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMoveFeedUpdatesTreeAndRelationship(t *testing.T) {
	ctx := context.Background()
	fake := seededFake()
	d, _ := newTestDelegate(t, fake, DelegateOptions{})
	if err := d.RefreshFeeds(ctx); err != nil {
		t.Fatalf("refresh feeds: %v", err)
	}

	if err := d.MoveFeed(ctx, "1", "", "News"); err != nil {
		t.Fatalf("move feed: %v", err)
	}
	calls := fake.callsTo("reader/move_feed_to_folder")
	if len(calls) != 1 || calls[0].Form.Get("in_folders") != "" || calls[0].Form.Get("to_folders") != "News" {
		t.Fatalf("unexpected move calls %+v", calls)
	}
	snap := d.Account().Snapshot()
	if len(snap.Feeds) != 0 {
		t.Fatalf("feed 1 should leave the top level")
	}
	if got := folderMap(snap)["News"]; !reflect.DeepEqual(got, []string{"1", "3"}) {
		t.Fatalf("unexpected News feeds %v", got)
	}
	feed, _ := d.Account().FindFeed("1")
	if feed.FolderRelationship["News"] != "News" {
		t.Fatalf("expected News relationship, got %v", feed.FolderRelationship)
	}

	// The next tree refresh agrees with the local move.
	if err := d.RefreshFeeds(ctx); err != nil {
		t.Fatalf("refresh feeds: %v", err)
	}
	if got := folderMap(d.Account().Snapshot())["News"]; !reflect.DeepEqual(got, []string{"1", "3"}) {
		t.Fatalf("refresh changed News to %v", got)
	}
}

func TestRemoveFeedFromOneFolder(t *testing.T) {
	ctx := context.Background()
	fake := seededFake()
	d, _ := newTestDelegate(t, fake, DelegateOptions{})
	if err := d.RefreshFeeds(ctx); err != nil {
		t.Fatalf("refresh feeds: %v", err)
	}

	if err := d.RemoveFeed(ctx, "3", "News"); err != nil {
		t.Fatalf("remove feed: %v", err)
	}
	calls := fake.callsTo("reader/delete_feed")
	if len(calls) != 1 || calls[0].Form.Get("in_folder") != "News" {
		t.Fatalf("unexpected delete calls %+v", calls)
	}
	folders := folderMap(d.Account().Snapshot())
	if len(folders["News"]) != 0 || !reflect.DeepEqual(folders["Tech"], []string{"2", "3"}) {
		t.Fatalf("unexpected folders %v", folders)
	}
}

func TestRenameFolderAndFeed(t *testing.T) {
	ctx := context.Background()
	fake := seededFake()
	d, _ := newTestDelegate(t, fake, DelegateOptions{})
	if err := d.RefreshFeeds(ctx); err != nil {
		t.Fatalf("refresh feeds: %v", err)
	}

	if err := d.RenameFolder(ctx, "Tech", "Technology"); err != nil {
		t.Fatalf("rename folder: %v", err)
	}
	if d.Account().HasFolder("Tech") || !d.Account().HasFolder("Technology") {
		t.Fatalf("folder was not renamed")
	}
	if err := d.RenameFolder(ctx, "Technology", "News"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	if err := d.RenameFeed(ctx, "2", "Deux"); err != nil {
		t.Fatalf("rename feed: %v", err)
	}
	feed, _ := d.Account().FindFeed("2")
	if feed.DisplayName() != "Deux" {
		t.Fatalf("expected edited name, got %+v", feed)
	}
}

func TestRestoreFolderRecreatesFeeds(t *testing.T) {
	ctx := context.Background()
	fake := seededFake()
	d, _ := newTestDelegate(t, fake, DelegateOptions{})
	if err := d.RefreshFeeds(ctx); err != nil {
		t.Fatalf("refresh feeds: %v", err)
	}

	var removed account.FolderSnapshot
	for _, f := range d.Account().Snapshot().Folders {
		if f.Name == "News" {
			removed = f
		}
	}
	if err := d.RemoveFolder(ctx, "News"); err != nil {
		t.Fatalf("remove folder: %v", err)
	}
	if err := d.RestoreFolder(ctx, removed); err != nil {
		t.Fatalf("restore folder: %v", err)
	}
	if got := folderMap(d.Account().Snapshot())["News"]; !reflect.DeepEqual(got, []string{"3"}) {
		t.Fatalf("unexpected restored folder %v", got)
	}
	// Feed 3 still lived in Tech, so it was re-filed instead of re-created.
	if n := len(fake.callsTo("reader/feed/3")); n != 0 {
		t.Fatalf("restore should not download an existing feed, got %d calls", n)
	}
}

func TestImportOPMLCreatesFoldersAndFeeds(t *testing.T) {
	ctx := context.Background()
	fake := seededFake()
	d, _ := newTestDelegate(t, fake, DelegateOptions{})
	if err := d.RefreshFeeds(ctx); err != nil {
		t.Fatalf("refresh feeds: %v", err)
	}

	doc := `<?xml version="1.0"?>
<opml version="2.0"><body>
  <outline text="Solo" xmlUrl="https://solo.example/feed.xml"/>
  <outline text="Imported">
    <outline text="Nested" xmlUrl="https://nested.example/feed.xml"/>
    <outline text="Again" xmlUrl="https://1.example/feed.xml"/>
  </outline>
</body></opml>`

	res, err := d.ImportOPML(ctx, strings.NewReader(doc), false)
	if err != nil {
		t.Fatalf("import opml: %v", err)
	}
	if res != (ImportResult{Added: 2, Existing: 1}) {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(fake.callsTo("reader/add_folder")) != 1 {
		t.Fatalf("expected Imported folder to be created remotely")
	}
	folders := folderMap(d.Account().Snapshot())
	if got := folders["Imported"]; !reflect.DeepEqual(got, []string{"1", "101"}) {
		t.Fatalf("unexpected Imported feeds %v", got)
	}
}

func TestProcessStoriesHonorsSince(t *testing.T) {
	fake := seededFake()
	d, _ := newTestDelegate(t, fake, DelegateOptions{})
	since := fake.date.AddDate(0, -3, 0)

	old := []Story{{Hash: "9:x", FeedID: "9", Timestamp: flexString(itoa(since.Add(-time.Hour).Unix()))}}
	kept, err := d.ProcessStories(context.Background(), old, nil, &since)
	if err != nil {
		t.Fatalf("process stories: %v", err)
	}
	if kept {
		t.Fatalf("expected stories older than since to be dropped")
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
