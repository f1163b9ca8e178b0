package newsblur

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tengjizhang/feedsync/internal/model"
	"github.com/tengjizhang/feedsync/internal/reconcile"
	"github.com/tengjizhang/feedsync/internal/store"
)

// SendArticleStatus pushes the pending status queue to NewsBlur.
func (d *Delegate) SendArticleStatus(ctx context.Context) error {
	return reconcile.PushStatuses(ctx, d.store, d.client, d.info.ID, d.logger)
}

// RefreshArticleStatus pulls the remote unread and starred sets and applies
// them locally, leaving articles with a pending local change alone.
func (d *Delegate) RefreshArticleStatus(ctx context.Context) error {
	var errs []error

	unread, err := d.client.RetrieveUnreadStoryHashes(ctx)
	if err != nil {
		d.logger.Warn("retrieve unread hashes failed", "err", err)
		errs = append(errs, err)
	} else if err := d.syncStoryReadState(ctx, hashIDs(unread)); err != nil {
		errs = append(errs, err)
	}

	starred, err := d.client.RetrieveStarredStoryHashes(ctx)
	if err != nil {
		d.logger.Warn("retrieve starred hashes failed", "err", err)
		errs = append(errs, err)
	} else if err := d.syncStoryStarredState(ctx, hashIDs(starred)); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (d *Delegate) syncStoryReadState(ctx context.Context, remoteUnread []string) error {
	pending, err := d.store.SelectPendingReadStatusArticleIDs(ctx, d.info.ID)
	if err != nil {
		return fmt.Errorf("pending read statuses: %w", err)
	}
	local, err := d.store.UnreadArticleIDs(ctx, d.info.ID)
	if err != nil {
		return fmt.Errorf("local unread: %w", err)
	}

	diff := reconcile.Diff(toSet(remoteUnread), pending, local)
	if err := d.applyStatus(ctx, diff.Add, model.StatusRead, false); err != nil {
		return err
	}
	return d.applyStatus(ctx, diff.Remove, model.StatusRead, true)
}

func (d *Delegate) syncStoryStarredState(ctx context.Context, remoteStarred []string) error {
	pending, err := d.store.SelectPendingStarredStatusArticleIDs(ctx, d.info.ID)
	if err != nil {
		return fmt.Errorf("pending starred statuses: %w", err)
	}
	local, err := d.store.StarredArticleIDs(ctx, d.info.ID)
	if err != nil {
		return fmt.Errorf("local starred: %w", err)
	}

	diff := reconcile.Diff(toSet(remoteStarred), pending, local)
	if err := d.applyStatus(ctx, diff.Add, model.StatusStarred, true); err != nil {
		return err
	}
	return d.applyStatus(ctx, diff.Remove, model.StatusStarred, false)
}

func (d *Delegate) applyStatus(ctx context.Context, ids []string, key model.StatusKey, flag bool) error {
	if len(ids) == 0 {
		return nil
	}
	changed, err := d.store.MarkArticles(ctx, d.info.ID, ids, key, flag)
	if err != nil {
		return fmt.Errorf("mark %s=%t: %w", key, flag, err)
	}
	d.acct.PublishStatuses(key, flag, changed)
	return nil
}

// MarkArticles records a user status change and queues the articles whose
// flag actually changed for the next push. Every id must belong to a known
// story or status. A large queue is pushed right away.
func (d *Delegate) MarkArticles(ctx context.Context, articleIDs []string, key model.StatusKey, flag bool) ([]string, error) {
	unknown, err := d.store.UnknownArticleIDs(ctx, d.info.ID, articleIDs)
	if err != nil {
		return nil, err
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("story %s: %w", strings.Join(unknown, ", "), store.ErrNotFound)
	}

	changed, err := d.store.MarkArticles(ctx, d.info.ID, articleIDs, key, flag)
	if err != nil {
		return nil, err
	}
	if len(changed) == 0 {
		return changed, nil
	}
	d.acct.PublishStatuses(key, flag, changed)

	statuses := make([]model.SyncStatus, 0, len(changed))
	for _, id := range changed {
		statuses = append(statuses, model.SyncStatus{ArticleID: id, Key: key, Flag: flag})
	}
	if err := d.store.InsertStatuses(ctx, d.info.ID, statuses); err != nil {
		return changed, fmt.Errorf("queue statuses: %w", err)
	}

	pending, err := d.store.SelectPendingCount(ctx, d.info.ID)
	if err != nil {
		return changed, err
	}
	if pending > d.autoPushThreshold {
		if err := d.SendArticleStatus(ctx); err != nil {
			d.logger.Warn("automatic status push failed", "pending", pending, "err", err)
		}
	}
	return changed, nil
}
