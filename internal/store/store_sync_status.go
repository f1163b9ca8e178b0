package store

import (
	"context"
	"fmt"

	"github.com/tengjizhang/feedsync/internal/model"
)

// The sync_status table is the queue of local status changes that still have
// to reach the remote service. Rows are selected before a push and either
// deleted (pushed) or reset (retry next cycle).

func (s *Store) InsertStatuses(ctx context.Context, accountID string, statuses []SyncStatus) (err error) {
	if len(statuses) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sync_status (account_id, article_id, key, flag, selected)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(account_id, article_id, key) DO UPDATE SET
			flag = excluded.flag,
			selected = 0
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, st := range statuses {
		if st.Key != model.StatusRead && st.Key != model.StatusStarred {
			err = fmt.Errorf("%w: unknown status key %q", ErrInvalidInput, st.Key)
			return err
		}
		if _, err = stmt.ExecContext(ctx, accountID, st.ArticleID, string(st.Key), st.Flag); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SelectForProcessing marks every unselected row as selected and returns them.
func (s *Store) SelectForProcessing(ctx context.Context, accountID string) (out []SyncStatus, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, `
		SELECT article_id, key, flag FROM sync_status
		WHERE account_id = ? AND selected = 0
		ORDER BY key, article_id
	`, accountID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var st SyncStatus
		var key string
		if err = rows.Scan(&st.ArticleID, &key, &st.Flag); err != nil {
			rows.Close()
			return nil, err
		}
		st.Key = StatusKey(key)
		st.Selected = true
		out = append(out, st)
	}
	if err = rows.Close(); err != nil {
		return nil, err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE sync_status SET selected = 1 WHERE account_id = ? AND selected = 0`, accountID); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteSelectedForProcessing drops pushed rows. Rows re-queued since the
// selection are unselected again and survive.
func (s *Store) DeleteSelectedForProcessing(ctx context.Context, accountID string, key StatusKey, articleIDs []string) error {
	return s.execByArticleIDs(ctx, `DELETE FROM sync_status WHERE account_id = ? AND key = ? AND selected = 1 AND article_id IN (%s)`, accountID, key, articleIDs)
}

func (s *Store) ResetSelectedForProcessing(ctx context.Context, accountID string, key StatusKey, articleIDs []string) error {
	return s.execByArticleIDs(ctx, `UPDATE sync_status SET selected = 0 WHERE account_id = ? AND key = ? AND article_id IN (%s)`, accountID, key, articleIDs)
}

// ResetAllSelectedForProcessing returns rows orphaned by an interrupted push
// to the pending state.
func (s *Store) ResetAllSelectedForProcessing(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sync_status SET selected = 0 WHERE account_id = ?`, accountID)
	return err
}

func (s *Store) SelectPendingCount(ctx context.Context, accountID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_status WHERE account_id = ? AND selected = 0`, accountID).Scan(&n)
	return n, err
}

func (s *Store) SelectPendingReadStatusArticleIDs(ctx context.Context, accountID string) (map[string]struct{}, error) {
	return s.idSet(ctx, `SELECT article_id FROM sync_status WHERE account_id = ? AND key = 'read'`, accountID)
}

func (s *Store) SelectPendingStarredStatusArticleIDs(ctx context.Context, accountID string) (map[string]struct{}, error) {
	return s.idSet(ctx, `SELECT article_id FROM sync_status WHERE account_id = ? AND key = 'starred'`, accountID)
}

func (s *Store) ListSyncStatuses(ctx context.Context, accountID string) ([]SyncStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT article_id, key, flag, selected FROM sync_status
		WHERE account_id = ? ORDER BY key, article_id
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]SyncStatus, 0)
	for rows.Next() {
		var st SyncStatus
		var key string
		if err := rows.Scan(&st.ArticleID, &key, &st.Flag, &st.Selected); err != nil {
			return nil, err
		}
		st.Key = StatusKey(key)
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) execByArticleIDs(ctx context.Context, queryFmt, accountID string, key StatusKey, articleIDs []string) (err error) {
	articleIDs = uniqueSorted(articleIDs)
	if len(articleIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, chunk := range chunkStrings(articleIDs, maxInArgs) {
		placeholders, args := inClause(chunk)
		if _, err = tx.ExecContext(ctx, fmt.Sprintf(queryFmt, placeholders), append([]any{accountID, string(key)}, args...)...); err != nil {
			return err
		}
	}
	return tx.Commit()
}
