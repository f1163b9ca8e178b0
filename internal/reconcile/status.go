package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/tengjizhang/feedsync/internal/model"
)

const (
	// ThrottledChunkSize applies to calls that accept a single story hash.
	ThrottledChunkSize = 1
	// BatchChunkSize applies to calls that accept several story hashes.
	BatchChunkSize = 5
)

// Queue is the pending-status store the pusher drains.
type Queue interface {
	SelectForProcessing(ctx context.Context, accountID string) ([]model.SyncStatus, error)
	DeleteSelectedForProcessing(ctx context.Context, accountID string, key model.StatusKey, articleIDs []string) error
	ResetSelectedForProcessing(ctx context.Context, accountID string, key model.StatusKey, articleIDs []string) error
}

// StatusRemote performs the four remote status mutations.
type StatusRemote interface {
	MarkAsUnread(ctx context.Context, hashes []string) error
	MarkAsRead(ctx context.Context, hashes []string) error
	MarkAsStarred(ctx context.Context, hashes []string) error
	MarkAsUnstarred(ctx context.Context, hashes []string) error
}

type statusGroup struct {
	name  string
	key   model.StatusKey
	flag  bool
	chunk int
	send  func(context.Context, []string) error
}

// PushStatuses sends every pending status of the account. Successful chunks
// leave the queue, failed chunks return to pending, and all failures come
// back as one joined error.
func PushStatuses(ctx context.Context, q Queue, remote StatusRemote, accountID string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	statuses, err := q.SelectForProcessing(ctx, accountID)
	if err != nil {
		return fmt.Errorf("select pending statuses: %w", err)
	}
	if len(statuses) == 0 {
		return nil
	}

	groups := []statusGroup{
		{name: "create unread", key: model.StatusRead, flag: false, chunk: ThrottledChunkSize, send: remote.MarkAsUnread},
		{name: "delete unread", key: model.StatusRead, flag: true, chunk: BatchChunkSize, send: remote.MarkAsRead},
		{name: "create starred", key: model.StatusStarred, flag: true, chunk: ThrottledChunkSize, send: remote.MarkAsStarred},
		{name: "delete starred", key: model.StatusStarred, flag: false, chunk: BatchChunkSize, send: remote.MarkAsUnstarred},
	}

	var errs []error
	for _, g := range groups {
		ids := selectIDs(statuses, g.key, g.flag)
		if len(ids) == 0 {
			continue
		}
		if err := sendChunked(ctx, q, accountID, g, ids, logger); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func sendChunked(ctx context.Context, q Queue, accountID string, g statusGroup, ids []string, logger *slog.Logger) error {
	var errs []error
	for _, chunk := range Chunk(ids, g.chunk) {
		if err := g.send(ctx, chunk); err != nil {
			logger.Warn("status push failed", "account", accountID, "group", g.name, "count", len(chunk), "err", err)
			if resetErr := q.ResetSelectedForProcessing(ctx, accountID, g.key, chunk); resetErr != nil {
				errs = append(errs, fmt.Errorf("reset %s statuses: %w", g.name, resetErr))
			}
			errs = append(errs, fmt.Errorf("%s: %w", g.name, err))
			continue
		}
		if err := q.DeleteSelectedForProcessing(ctx, accountID, g.key, chunk); err != nil {
			errs = append(errs, fmt.Errorf("delete %s statuses: %w", g.name, err))
		}
	}
	return errors.Join(errs...)
}

func selectIDs(statuses []model.SyncStatus, key model.StatusKey, flag bool) []string {
	var out []string
	for _, st := range statuses {
		if st.Key == key && st.Flag == flag {
			out = append(out, st.ArticleID)
		}
	}
	return out
}

// Chunk splits ids into consecutive slices of at most size elements.
func Chunk(ids []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}

// StatusDiff is the local change that makes a tracked set (unread or starred)
// agree with the remote one.
type StatusDiff struct {
	Add    []string
	Remove []string
}

// Diff computes the change for local given the remote set and the IDs with a
// pending local change. Pending IDs are never touched, so applying the diff
// leaves local equal to (remote - pending) ∪ (local ∩ pending).
func Diff(remote, pending, local map[string]struct{}) StatusDiff {
	updatable := make(map[string]struct{}, len(remote))
	for id := range remote {
		if _, ok := pending[id]; !ok {
			updatable[id] = struct{}{}
		}
	}

	var d StatusDiff
	for id := range updatable {
		if _, ok := local[id]; !ok {
			d.Add = append(d.Add, id)
		}
	}
	for id := range local {
		if _, ok := updatable[id]; ok {
			continue
		}
		if _, ok := pending[id]; ok {
			continue
		}
		d.Remove = append(d.Remove, id)
	}
	sort.Strings(d.Add)
	sort.Strings(d.Remove)
	return d
}
