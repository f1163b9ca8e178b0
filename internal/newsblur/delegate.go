package newsblur

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tengjizhang/feedsync/internal/account"
	"github.com/tengjizhang/feedsync/internal/content"
	"github.com/tengjizhang/feedsync/internal/discover"
	"github.com/tengjizhang/feedsync/internal/model"
	"github.com/tengjizhang/feedsync/internal/progress"
	"github.com/tengjizhang/feedsync/internal/reconcile"
	"github.com/tengjizhang/feedsync/internal/store"
)

const (
	// AccountType is the type string stored for NewsBlur accounts.
	AccountType = "newsblur"

	DefaultAutoPushThreshold = 100

	missingStoriesWindow = 90 * 24 * time.Hour
	feedDownloadMonths   = 3
)

type DelegateOptions struct {
	Store      *store.Store
	Client     *Client
	Renderer   *content.Renderer
	Discoverer *discover.Discoverer
	Logger     *slog.Logger
	// AutoPushThreshold is the pending-status count above which MarkArticles
	// pushes immediately.
	AutoPushThreshold int
	RetentionDays     int
	Now               func() time.Time
}

// Delegate keeps one local account in sync with a NewsBlur account.
type Delegate struct {
	infoMu     sync.Mutex
	info       model.AccountInfo
	acct       *account.Account
	store      *store.Store
	client     *Client
	renderer   *content.Renderer
	discoverer *discover.Discoverer
	progress   *progress.DownloadProgress
	logger     *slog.Logger
	// refreshing holds one token while a refresh of this account runs.
	refreshing chan struct{}

	autoPushThreshold int
	retentionDays     int
	now               func() time.Time
}

func NewDelegate(info model.AccountInfo, opts DelegateOptions) *Delegate {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	renderer := opts.Renderer
	if renderer == nil {
		renderer = content.NewRenderer()
	}
	threshold := opts.AutoPushThreshold
	if threshold <= 0 {
		threshold = DefaultAutoPushThreshold
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Delegate{
		info:              info,
		acct:              account.New(info.ID, info.Name, info.Type),
		store:             opts.Store,
		client:            opts.Client,
		renderer:          renderer,
		discoverer:        opts.Discoverer,
		progress:          progress.New(),
		refreshing:        make(chan struct{}, 1),
		logger:            logger.With("account", info.Name),
		autoPushThreshold: threshold,
		retentionDays:     opts.RetentionDays,
		now:               now,
	}
}

func (d *Delegate) Info() model.AccountInfo {
	d.infoMu.Lock()
	defer d.infoMu.Unlock()
	return d.info
}

func (d *Delegate) Account() *account.Account            { return d.acct }
func (d *Delegate) Progress() *progress.DownloadProgress { return d.progress }

// Load restores the persisted graph and returns statuses left selected by an
// interrupted push to the pending state.
func (d *Delegate) Load(ctx context.Context) error {
	if err := d.store.LoadGraph(ctx, d.acct); err != nil {
		return fmt.Errorf("load graph: %w", err)
	}
	if err := d.store.ResetAllSelectedForProcessing(ctx, d.info.ID); err != nil {
		return fmt.Errorf("reset sync queue: %w", err)
	}
	return nil
}

// beginRefresh waits until no other refresh of this account is running.
// The returned func ends the refresh.
func (d *Delegate) beginRefresh(ctx context.Context) (func(), error) {
	select {
	case d.refreshing <- struct{}{}:
		return func() { <-d.refreshing }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RefreshAll pulls the subscription tree, pushes pending statuses, pulls
// remote statuses and downloads missing stories. Concurrent calls for the
// same account run one after another.
func (d *Delegate) RefreshAll(ctx context.Context) error {
	done, err := d.beginRefresh(ctx)
	if err != nil {
		return d.wrap(err)
	}
	defer done()

	d.progress.Reset()
	d.progress.AddTasks(4)

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"refresh feeds", d.RefreshFeeds},
		{"send statuses", d.SendArticleStatus},
		{"refresh statuses", d.RefreshArticleStatus},
		{"refresh missing stories", d.RefreshMissingStories},
	}

	var errs []error
	for _, step := range steps {
		err := step.run(ctx)
		d.progress.CompleteTask()
		if err == nil {
			continue
		}
		d.logger.Warn("refresh step failed", "step", step.name, "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
		if ctx.Err() != nil || errors.Is(err, ErrSuspended) || errors.Is(err, ErrUnauthorized) {
			break
		}
	}
	if len(errs) > 0 {
		d.progress.Reset()
		return d.wrap(errors.Join(errs...))
	}

	if d.retentionDays > 0 {
		n, err := d.store.PruneReadStoriesOlderThan(ctx, d.info.ID, d.retentionDays)
		if err != nil {
			d.logger.Warn("prune stories failed", "err", err)
		} else if n > 0 {
			d.logger.Info("pruned stories", "count", n)
		}
	}
	return nil
}

// RefreshFeeds converges the local folder and feed tree onto the remote one
// and persists it.
func (d *Delegate) RefreshFeeds(ctx context.Context) error {
	feeds, folders, err := d.client.RetrieveFeeds(ctx)
	if err != nil {
		return err
	}

	remote := make([]reconcile.RemoteFeed, 0, len(feeds))
	for _, f := range feeds {
		remote = append(remote, reconcile.RemoteFeed{
			FeedID:      f.FeedID(),
			Name:        f.Title,
			URL:         f.FeedAddress,
			HomePageURL: f.FeedLink,
			FaviconURL:  f.FaviconURL,
		})
	}
	names := make([]string, 0, len(folders))
	var pairs []reconcile.Relationship
	for _, folder := range folders {
		names = append(names, folder.Name)
		for _, id := range folder.FeedIDs {
			pairs = append(pairs, reconcile.Relationship{FolderName: folder.Name, FeedID: id})
		}
	}
	groups := reconcile.GroupRelationships(pairs)
	// Empty folders still have to survive the relationship pass.
	for _, name := range names {
		if _, ok := groups[name]; !ok {
			groups[name] = nil
		}
	}

	if err := d.acct.Update(func(w *account.Writer) error {
		reconcile.SyncFolders(w, names)
		return nil
	}); err != nil {
		return err
	}
	if err := d.acct.Update(func(w *account.Writer) error {
		reconcile.SyncFeeds(w, remote)
		return nil
	}); err != nil {
		return err
	}
	if err := d.acct.Update(func(w *account.Writer) error {
		reconcile.SyncFeedFolderRelationship(w, groups)
		return nil
	}); err != nil {
		return err
	}

	d.logger.Debug("feeds refreshed", "feeds", len(remote), "folders", len(names))
	return d.saveGraph(ctx)
}

// SyncArticleStatus pushes pending local statuses, then pulls remote ones.
func (d *Delegate) SyncArticleStatus(ctx context.Context) error {
	d.progress.AddTasks(2)
	pushErr := d.SendArticleStatus(ctx)
	d.progress.CompleteTask()
	pullErr := d.RefreshArticleStatus(ctx)
	d.progress.CompleteTask()
	if err := errors.Join(pushErr, pullErr); err != nil {
		return d.wrap(err)
	}
	return nil
}

// RefreshStories downloads every unread story in chunks and records the
// server time window of the download.
func (d *Delegate) RefreshStories(ctx context.Context) error {
	done, err := d.beginRefresh(ctx)
	if err != nil {
		return d.wrap(err)
	}
	defer done()

	hashes, err := d.client.RetrieveUnreadStoryHashes(ctx)
	if err != nil {
		return d.wrap(err)
	}
	ids := hashIDs(hashes)
	unread := toSet(ids)
	chunks := reconcile.Chunk(ids, MaxStoriesPerRequest)
	d.progress.AddTasks(len(chunks))

	var start, end *time.Time
	for i, chunk := range chunks {
		stories, date, err := d.client.RetrieveStories(ctx, chunk)
		if err != nil {
			d.progress.CompleteTasks(len(chunks) - i)
			return d.wrap(err)
		}
		if start == nil {
			start = date
		}
		if date != nil {
			end = date
		}
		if _, err := d.ProcessStories(ctx, stories, unread, nil); err != nil {
			d.progress.CompleteTasks(len(chunks) - i)
			return d.wrap(err)
		}
		d.progress.CompleteTask()
	}
	if start == nil {
		return nil
	}
	if err := d.store.UpdateArticleFetchWindow(ctx, d.info.ID, start, end); err != nil {
		return err
	}
	d.infoMu.Lock()
	d.info.LastArticleFetchStart, d.info.LastArticleFetchEnd = start, end
	d.infoMu.Unlock()
	return nil
}

// RefreshMissingStories downloads stories whose status arrived without the
// story body. A failing chunk is logged and skipped.
func (d *Delegate) RefreshMissingStories(ctx context.Context) error {
	since := d.now().Add(-missingStoriesWindow)
	ids, err := d.store.ArticleIDsWithoutStories(ctx, d.info.ID, since)
	if err != nil {
		return fmt.Errorf("select missing stories: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	chunks := reconcile.Chunk(ids, MaxStoriesPerRequest)
	d.progress.AddTasks(len(chunks))
	var errs []error
	for _, chunk := range chunks {
		stories, _, err := d.client.RetrieveStories(ctx, chunk)
		if err == nil {
			_, err = d.ProcessStories(ctx, stories, nil, nil)
		}
		d.progress.CompleteTask()
		if err != nil {
			d.logger.Warn("missing stories chunk failed", "size", len(chunk), "err", err)
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
		}
	}
	return errors.Join(errs...)
}

// ProcessStories stores stories, dropping those published before since when
// it is set. It reports whether any story was kept.
func (d *Delegate) ProcessStories(ctx context.Context, stories []Story, unread map[string]struct{}, since *time.Time) (bool, error) {
	byFeed := make(map[string][]Story)
	for _, s := range stories {
		if strings.TrimSpace(s.Hash) == "" {
			continue
		}
		if since != nil {
			if published := s.PublishedAt(); published != nil && published.Before(*since) {
				continue
			}
		}
		feedID := string(s.FeedID)
		byFeed[feedID] = append(byFeed[feedID], s)
	}
	if len(byFeed) == 0 {
		return false, nil
	}

	feedIDs := make([]string, 0, len(byFeed))
	for id := range byFeed {
		feedIDs = append(feedIDs, id)
	}
	sort.Strings(feedIDs)

	in := make([]model.UpsertStoryInput, 0, len(stories))
	for _, feedID := range feedIDs {
		for _, s := range byFeed[feedID] {
			rendered := d.renderer.Render(s.Content)
			in = append(in, model.UpsertStoryInput{
				ArticleID:   s.Hash,
				FeedID:      feedID,
				Title:       strings.TrimSpace(s.Title),
				URL:         strings.TrimSpace(s.Permalink),
				Author:      strings.TrimSpace(s.Authors),
				ImageURL:    s.ImageURL(),
				Tags:        s.Tags,
				Summary:     rendered.Summary,
				ContentHTML: rendered.HTML,
				ContentMD:   rendered.Markdown,
				PublishedAt: s.PublishedAt(),
			})
		}
	}

	inserted, err := d.store.UpsertStories(ctx, d.info.ID, in, unread)
	if err != nil {
		return true, fmt.Errorf("store stories: %w", err)
	}
	d.logger.Debug("stories processed", "received", len(in), "new", inserted)
	return true, nil
}

// DownloadFeed pages through one feed starting at page until a page is empty
// or holds nothing newer than three months.
func (d *Delegate) DownloadFeed(ctx context.Context, feedID string, page int) error {
	if page < 1 {
		page = 1
	}
	since := d.now().AddDate(0, -feedDownloadMonths, 0)
	for {
		d.progress.AddTasks(1)
		stories, _, err := d.client.RetrieveFeedStories(ctx, feedID, page)
		if err != nil {
			d.progress.CompleteTask()
			return fmt.Errorf("download feed %s page %d: %w", feedID, page, err)
		}
		if len(stories) == 0 {
			d.progress.CompleteTask()
			return nil
		}
		kept, err := d.ProcessStories(ctx, stories, nil, &since)
		d.progress.CompleteTask()
		if err != nil {
			return err
		}
		if !kept {
			return nil
		}
		page++
	}
}

func (d *Delegate) Login(ctx context.Context) error {
	if err := d.client.Login(ctx); err != nil {
		return d.wrap(err)
	}
	d.infoMu.Lock()
	d.info.SessionID = d.client.SessionID()
	d.infoMu.Unlock()
	return nil
}

func (d *Delegate) Logout(ctx context.Context) error {
	err := d.client.Logout(ctx)
	if serr := d.store.UpdateAccountSession(ctx, d.info.ID, ""); serr != nil {
		err = errors.Join(err, serr)
	}
	d.infoMu.Lock()
	d.info.SessionID = ""
	d.infoMu.Unlock()
	if err != nil {
		return d.wrap(err)
	}
	return nil
}

// Suspend cancels in-flight requests. Calls fail with ErrSuspended until
// Resume.
func (d *Delegate) Suspend() {
	d.client.Suspend()
}

func (d *Delegate) Resume() {
	d.client.Resume()
}

func (d *Delegate) saveGraph(ctx context.Context) error {
	if err := d.store.SaveGraph(ctx, d.acct.Snapshot()); err != nil {
		return fmt.Errorf("save graph: %w", err)
	}
	return nil
}

func hashIDs(hashes []StoryHash) []string {
	out := make([]string, 0, len(hashes))
	for _, h := range hashes {
		if h.Hash != "" {
			out = append(out, h.Hash)
		}
	}
	return out
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func (d *Delegate) wrap(err error) error {
	return wrapAccount(d.info.ID, d.info.Name, err)
}
