package newsblur

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tengjizhang/feedsync/internal/account"
	"github.com/tengjizhang/feedsync/internal/opml"
	"github.com/tengjizhang/feedsync/internal/store"
)

// Tree operations call NewsBlur first and change the local graph only after
// the remote call succeeded. A folder argument of "" means account level.

func (d *Delegate) CreateFolder(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return d.wrap(fmt.Errorf("%w: folder name is required", ErrInvalidParameter))
	}
	if d.acct.HasFolder(name) {
		return nil
	}
	if err := d.task(func() error { return d.client.AddFolder(ctx, name) }); err != nil {
		return d.wrap(err)
	}
	if err := d.acct.Update(func(w *account.Writer) error {
		_, err := w.EnsureFolder(name)
		return err
	}); err != nil {
		return d.wrap(err)
	}
	return d.saveGraph(ctx)
}

func (d *Delegate) RenameFolder(ctx context.Context, from, to string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return d.wrap(fmt.Errorf("%w: folder name is required", ErrInvalidParameter))
	}
	if !d.acct.HasFolder(from) {
		return d.wrap(fmt.Errorf("folder %q: %w", from, store.ErrNotFound))
	}
	if d.acct.HasFolder(to) {
		return d.wrap(fmt.Errorf("%w: folder %q already exists", store.ErrConflict, to))
	}
	if err := d.task(func() error { return d.client.RenameFolder(ctx, from, to) }); err != nil {
		return d.wrap(err)
	}
	if err := d.acct.Update(func(w *account.Writer) error {
		folder, ok := w.Folder(from)
		if !ok {
			return nil
		}
		return w.RenameFolder(folder, to)
	}); err != nil {
		return d.wrap(err)
	}
	return d.saveGraph(ctx)
}

// RemoveFolder deletes a folder. Feeds that only live in it are unsubscribed
// with it; feeds that also live elsewhere only lose the relationship.
func (d *Delegate) RemoveFolder(ctx context.Context, name string) error {
	snap := d.acct.Snapshot()
	var folder *account.FolderSnapshot
	for i := range snap.Folders {
		if snap.Folders[i].Name == name {
			folder = &snap.Folders[i]
			break
		}
	}
	if folder == nil {
		return d.wrap(fmt.Errorf("folder %q: %w", name, store.ErrNotFound))
	}

	topLevel := make(map[string]struct{}, len(snap.Feeds))
	for _, f := range snap.Feeds {
		topLevel[f.FeedID] = struct{}{}
	}
	placements := snap.FolderNames()

	var exclusive, shared []string
	for _, f := range folder.Feeds {
		count := len(placements[f.FeedID])
		if _, ok := topLevel[f.FeedID]; ok {
			count++
		}
		if count > 1 || len(f.FolderRelationship) > 1 {
			shared = append(shared, f.FeedID)
			continue
		}
		exclusive = append(exclusive, f.ExternalID)
	}

	if err := d.task(func() error { return d.client.DeleteFolder(ctx, name, exclusive) }); err != nil {
		return d.wrap(err)
	}
	if err := d.acct.Update(func(w *account.Writer) error {
		for _, id := range shared {
			if feed := w.ExistingFeed(id); feed != nil {
				w.ClearFolderRelationship(feed, name)
			}
		}
		if f, ok := w.Folder(name); ok {
			w.RemoveFolder(f)
		}
		return nil
	}); err != nil {
		return d.wrap(err)
	}
	return d.saveGraph(ctx)
}

type CreateFeedOptions struct {
	Name   string
	Folder string
	// Validate resolves site URLs to a feed URL before subscribing.
	Validate bool
	// SkipDownload leaves the initial story download to the next refresh.
	SkipDownload bool
}

// CreateFeed subscribes to rawURL and downloads its recent stories.
func (d *Delegate) CreateFeed(ctx context.Context, rawURL string, opts CreateFeedOptions) (account.Feed, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return account.Feed{}, d.wrap(fmt.Errorf("%w: feed url is required", ErrInvalidParameter))
	}
	if opts.Folder != "" && !d.acct.HasFolder(opts.Folder) {
		if err := d.CreateFolder(ctx, opts.Folder); err != nil {
			return account.Feed{}, err
		}
	}
	if opts.Validate && d.discoverer != nil {
		res, err := d.discoverer.Discover(ctx, rawURL)
		if err != nil {
			return account.Feed{}, d.wrap(fmt.Errorf("%w: %v", ErrInvalidParameter, err))
		}
		rawURL = res.FeedURL
	}

	var remote *Feed
	if err := d.task(func() error {
		var err error
		remote, err = d.client.AddURL(ctx, rawURL, opts.Folder)
		return err
	}); err != nil {
		return account.Feed{}, d.wrap(err)
	}
	if remote == nil || remote.FeedID() == "" {
		return account.Feed{}, d.wrap(fmt.Errorf("%w: no feed created for %s", ErrInvalidParameter, rawURL))
	}

	feedID := remote.FeedID()
	url := remote.FeedAddress
	if url == "" {
		url = rawURL
	}
	if err := d.acct.Update(func(w *account.Writer) error {
		feed := w.ExistingFeed(feedID)
		if feed == nil {
			feed = w.NewFeed(feedID, url, remote.Title, remote.FeedLink)
			feed.FaviconURL = remote.FaviconURL
		}
		return attach(w, feed, opts.Folder)
	}); err != nil {
		return account.Feed{}, d.wrap(err)
	}

	if name := strings.TrimSpace(opts.Name); name != "" && name != remote.Title {
		if err := d.RenameFeed(ctx, feedID, name); err != nil {
			return account.Feed{}, err
		}
	} else if err := d.saveGraph(ctx); err != nil {
		return account.Feed{}, d.wrap(err)
	}

	if !opts.SkipDownload {
		if err := d.initialDownload(ctx, feedID); err != nil {
			return account.Feed{}, d.wrap(err)
		}
	}
	feed, _ := d.acct.FindFeed(feedID)
	return feed, nil
}

func (d *Delegate) initialDownload(ctx context.Context, feedID string) error {
	if err := d.DownloadFeed(ctx, feedID, 1); err != nil {
		return err
	}
	return errors.Join(d.RefreshArticleStatus(ctx), d.RefreshMissingStories(ctx))
}

func (d *Delegate) RenameFeed(ctx context.Context, feedID, name string) error {
	feed, ok := d.acct.FindFeed(feedID)
	if !ok {
		return d.wrap(fmt.Errorf("feed %s: %w", feedID, store.ErrNotFound))
	}
	if err := d.task(func() error { return d.client.RenameFeed(ctx, feed.ExternalID, name) }); err != nil {
		return d.wrap(err)
	}
	if err := d.acct.Update(func(w *account.Writer) error {
		if f := w.ExistingFeed(feedID); f != nil {
			w.SetEditedName(f, strings.TrimSpace(name))
		}
		return nil
	}); err != nil {
		return d.wrap(err)
	}
	return d.saveGraph(ctx)
}

// RemoveFeed unsubscribes the feed from folder.
func (d *Delegate) RemoveFeed(ctx context.Context, feedID, folder string) error {
	feed, ok := d.acct.FindFeed(feedID)
	if !ok {
		return d.wrap(fmt.Errorf("feed %s: %w", feedID, store.ErrNotFound))
	}
	if folder != "" && !d.acct.HasFolder(folder) {
		return d.wrap(fmt.Errorf("folder %q: %w", folder, store.ErrNotFound))
	}
	if err := d.task(func() error { return d.client.DeleteFeed(ctx, feed.ExternalID, folder) }); err != nil {
		return d.wrap(err)
	}
	if err := d.acct.Update(func(w *account.Writer) error {
		f := w.ExistingFeed(feedID)
		if f == nil {
			return nil
		}
		detach(w, f, folder)
		return nil
	}); err != nil {
		return d.wrap(err)
	}
	return d.saveGraph(ctx)
}

// MoveFeed moves the feed from one container to another.
func (d *Delegate) MoveFeed(ctx context.Context, feedID, from, to string) error {
	feed, ok := d.acct.FindFeed(feedID)
	if !ok {
		return d.wrap(fmt.Errorf("feed %s: %w", feedID, store.ErrNotFound))
	}
	if from == to {
		return nil
	}
	for _, name := range []string{from, to} {
		if name != "" && !d.acct.HasFolder(name) {
			return d.wrap(fmt.Errorf("folder %q: %w", name, store.ErrNotFound))
		}
	}
	if err := d.task(func() error { return d.client.MoveFeed(ctx, feed.ExternalID, from, to) }); err != nil {
		return d.wrap(err)
	}
	if err := d.acct.Update(func(w *account.Writer) error {
		f := w.ExistingFeed(feedID)
		if f == nil {
			return nil
		}
		detach(w, f, from)
		return attach(w, f, to)
	}); err != nil {
		return d.wrap(err)
	}
	return d.saveGraph(ctx)
}

// AddFeed places an existing subscription in another container as well.
// NewsBlur files it there through add_url.
func (d *Delegate) AddFeed(ctx context.Context, feedID, folder string) error {
	feed, ok := d.acct.FindFeed(feedID)
	if !ok {
		return d.wrap(fmt.Errorf("feed %s: %w", feedID, store.ErrNotFound))
	}
	if inContainer(d.acct.Snapshot(), feedID, folder) {
		return nil
	}
	if folder != "" && !d.acct.HasFolder(folder) {
		if err := d.CreateFolder(ctx, folder); err != nil {
			return err
		}
	}
	if err := d.task(func() error {
		_, err := d.client.AddURL(ctx, feed.URL, folder)
		return err
	}); err != nil {
		return d.wrap(err)
	}
	if err := d.acct.Update(func(w *account.Writer) error {
		f := w.ExistingFeed(feedID)
		if f == nil {
			return nil
		}
		return attach(w, f, folder)
	}); err != nil {
		return d.wrap(err)
	}
	return d.saveGraph(ctx)
}

// RestoreFeed re-attaches a removed feed. A feed still known by URL is
// reused, anything else is subscribed again.
func (d *Delegate) RestoreFeed(ctx context.Context, feed account.Feed, folder string) (account.Feed, error) {
	for _, existing := range d.acct.Snapshot().FlattenedFeeds() {
		if existing.URL == feed.URL {
			if err := d.AddFeed(ctx, existing.FeedID, folder); err != nil {
				return account.Feed{}, err
			}
			f, _ := d.acct.FindFeed(existing.FeedID)
			return f, nil
		}
	}
	return d.CreateFeed(ctx, feed.URL, CreateFeedOptions{Name: feed.EditedName, Folder: folder})
}

// RestoreFolder re-creates a removed folder and restores its feeds into it.
// Feeds that fail are logged and reported together.
func (d *Delegate) RestoreFolder(ctx context.Context, folder account.FolderSnapshot) error {
	if err := d.CreateFolder(ctx, folder.Name); err != nil {
		return err
	}
	var errs []error
	for _, f := range folder.Feeds {
		if _, err := d.RestoreFeed(ctx, f, folder.Name); err != nil {
			d.logger.Warn("restore feed failed", "folder", folder.Name, "url", f.URL, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type ImportResult struct {
	Added    int `json:"added" yaml:"added"`
	Existing int `json:"existing" yaml:"existing"`
	Failed   int `json:"failed" yaml:"failed"`
}

// ImportOPML subscribes to every outline of an OPML document. Nested outlines
// become folders. Stories are fetched once after all subscriptions exist.
func (d *Delegate) ImportOPML(ctx context.Context, r io.Reader, validate bool) (ImportResult, error) {
	subs, err := opml.Read(r)
	if err != nil {
		return ImportResult{}, d.wrap(fmt.Errorf("%w: %v", ErrInvalidParameter, err))
	}

	known := make(map[string]account.Feed)
	for _, f := range d.acct.Snapshot().FlattenedFeeds() {
		known[f.URL] = f
	}

	var res ImportResult
	var errs []error
	for _, sub := range subs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if existing, ok := known[sub.URL]; ok {
			if err := d.AddFeed(ctx, existing.FeedID, sub.Folder); err != nil {
				res.Failed++
				errs = append(errs, err)
				continue
			}
			res.Existing++
			continue
		}
		if validate && d.discoverer != nil {
			if _, err := d.discoverer.Probe(ctx, sub.URL); err != nil {
				d.logger.Warn("skipping unreadable feed", "url", sub.URL, "err", err)
				res.Failed++
				errs = append(errs, fmt.Errorf("%s: %w", sub.URL, err))
				continue
			}
		}
		feed, err := d.CreateFeed(ctx, sub.URL, CreateFeedOptions{Folder: sub.Folder, SkipDownload: true})
		if err != nil {
			d.logger.Warn("import feed failed", "url", sub.URL, "err", err)
			res.Failed++
			errs = append(errs, err)
			continue
		}
		known[sub.URL] = feed
		res.Added++
	}

	if res.Added > 0 {
		if err := errors.Join(d.RefreshArticleStatus(ctx), d.RefreshMissingStories(ctx)); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return res, d.wrap(errors.Join(errs...))
	}
	return res, nil
}

func (d *Delegate) task(fn func() error) error {
	d.progress.AddTasks(1)
	defer d.progress.CompleteTask()
	return fn()
}

func attach(w *account.Writer, feed *account.Feed, folder string) error {
	if folder == "" {
		w.AddFeed(feed)
		return nil
	}
	f, err := w.EnsureFolder(folder)
	if err != nil {
		return err
	}
	w.SetFolderRelationship(feed, folder, folder)
	w.AddFeedToFolder(f, feed)
	return nil
}

func inContainer(snap account.Snapshot, feedID, folder string) bool {
	if folder == "" {
		for _, f := range snap.Feeds {
			if f.FeedID == feedID {
				return true
			}
		}
		return false
	}
	for _, name := range snap.FolderNames()[feedID] {
		if name == folder {
			return true
		}
	}
	return false
}

func detach(w *account.Writer, feed *account.Feed, folder string) {
	if folder == "" {
		w.RemoveFeed(feed)
		return
	}
	if f, ok := w.Folder(folder); ok {
		w.RemoveFeedFromFolder(f, feed)
	}
	w.ClearFolderRelationship(feed, folder)
}
