package store

import (
	"context"
	"fmt"

	"github.com/tengjizhang/feedsync/internal/model"
)

// UnreadArticleIDs returns every article the account currently has unread.
func (s *Store) UnreadArticleIDs(ctx context.Context, accountID string) (map[string]struct{}, error) {
	return s.idSet(ctx, `SELECT article_id FROM story_status WHERE account_id = ? AND read = 0`, accountID)
}

func (s *Store) StarredArticleIDs(ctx context.Context, accountID string) (map[string]struct{}, error) {
	return s.idSet(ctx, `SELECT article_id FROM story_status WHERE account_id = ? AND starred = 1`, accountID)
}

// MarkArticles sets key to flag on the given articles, creating status rows
// as needed. It returns the article IDs whose flag actually changed.
func (s *Store) MarkArticles(ctx context.Context, accountID string, articleIDs []string, key StatusKey, flag bool) (changed []string, err error) {
	var column, stamp string
	switch key {
	case model.StatusRead:
		column, stamp = "read", "read_at"
	case model.StatusStarred:
		column, stamp = "starred", "starred_at"
	default:
		return nil, fmt.Errorf("%w: unknown status key %q", ErrInvalidInput, key)
	}
	articleIDs = uniqueSorted(articleIDs)
	if len(articleIDs) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// New rows default to read/unstarred, matching an article nobody touched.
	insStmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO story_status (account_id, article_id, read, starred) VALUES (?, ?, 1, 0)`)
	if err != nil {
		return nil, err
	}
	defer insStmt.Close()

	query := `UPDATE story_status SET ` + column + ` = 0, ` + stamp + ` = NULL WHERE account_id = ? AND article_id = ? AND ` + column + ` != 0`
	if flag {
		query = `UPDATE story_status SET ` + column + ` = 1, ` + stamp + ` = CURRENT_TIMESTAMP WHERE account_id = ? AND article_id = ? AND ` + column + ` != 1`
	}
	updStmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer updStmt.Close()

	for _, id := range articleIDs {
		if _, err = insStmt.ExecContext(ctx, accountID, id); err != nil {
			return nil, err
		}
		res, execErr := updStmt.ExecContext(ctx, accountID, id)
		if execErr != nil {
			err = execErr
			return nil, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			changed = append(changed, id)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return changed, nil
}

// UnknownArticleIDs returns the ids that have neither a story nor a status
// row for the account, sorted.
func (s *Store) UnknownArticleIDs(ctx context.Context, accountID string, articleIDs []string) ([]string, error) {
	articleIDs = uniqueSorted(articleIDs)
	known := make(map[string]struct{}, len(articleIDs))
	for _, chunk := range chunkStrings(articleIDs, maxInArgs/2) {
		placeholders, args := inClause(chunk)
		ids, err := s.queryStrings(ctx, `
			SELECT article_id FROM stories WHERE account_id = ? AND article_id IN (`+placeholders+`)
			UNION
			SELECT article_id FROM story_status WHERE account_id = ? AND article_id IN (`+placeholders+`)
		`, append(append(append([]any{accountID}, args...), accountID), args...)...)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			known[id] = struct{}{}
		}
	}

	var unknown []string
	for _, id := range articleIDs {
		if _, ok := known[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	return unknown, nil
}

func (s *Store) idSet(ctx context.Context, query string, args ...any) (map[string]struct{}, error) {
	ids, err := s.queryStrings(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}
