package store

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/tengjizhang/feedsync/internal/account"
)

// SaveGraph replaces the persisted folder/feed tree of one account with snap.
func (s *Store) SaveGraph(ctx context.Context, snap account.Snapshot) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"feed_folder_relationships", "folder_feeds", "account_feeds", "folders", "feeds"} {
		if _, err = tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE account_id = ?`, snap.ID); err != nil {
			return err
		}
	}

	feedStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO feeds (account_id, feed_id, external_id, url, name, edited_name, home_page_url, favicon_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer feedStmt.Close()

	relStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO feed_folder_relationships (account_id, feed_id, folder_name, relationship_id)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer relStmt.Close()

	for _, f := range snap.FlattenedFeeds() {
		if _, err = feedStmt.ExecContext(ctx,
			snap.ID, f.FeedID, f.ExternalID, f.URL, f.Name, f.EditedName, f.HomePageURL, f.FaviconURL,
		); err != nil {
			return err
		}
		for folderName, relID := range f.FolderRelationship {
			if _, err = relStmt.ExecContext(ctx, snap.ID, f.FeedID, folderName, relID); err != nil {
				return err
			}
		}
	}

	for _, f := range snap.Feeds {
		if _, err = tx.ExecContext(ctx, `INSERT INTO account_feeds (account_id, feed_id) VALUES (?, ?)`, snap.ID, f.FeedID); err != nil {
			return err
		}
	}

	for _, folder := range snap.Folders {
		if _, err = tx.ExecContext(ctx, `INSERT INTO folders (account_id, name) VALUES (?, ?)`, snap.ID, folder.Name); err != nil {
			return err
		}
		for _, f := range folder.Feeds {
			if _, err = tx.ExecContext(ctx,
				`INSERT INTO folder_feeds (account_id, folder_name, feed_id) VALUES (?, ?, ?)`,
				snap.ID, folder.Name, f.FeedID,
			); err != nil {
				return err
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return err
	}
	return nil
}

// LoadGraph rebuilds acct's tree from the persisted rows.
func (s *Store) LoadGraph(ctx context.Context, acct *account.Account) error {
	feeds, err := s.loadFeeds(ctx, acct.ID)
	if err != nil {
		return err
	}

	topLevel, err := s.queryStrings(ctx, `SELECT feed_id FROM account_feeds WHERE account_id = ? ORDER BY feed_id`, acct.ID)
	if err != nil {
		return err
	}
	folderNames, err := s.queryStrings(ctx, `SELECT name FROM folders WHERE account_id = ? ORDER BY name`, acct.ID)
	if err != nil {
		return err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT folder_name, feed_id FROM folder_feeds WHERE account_id = ? ORDER BY folder_name, feed_id`, acct.ID)
	if err != nil {
		return err
	}
	members := make(map[string][]string)
	for rows.Next() {
		var folderName, feedID string
		if err := rows.Scan(&folderName, &feedID); err != nil {
			rows.Close()
			return err
		}
		members[folderName] = append(members[folderName], feedID)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	return acct.Update(func(w *account.Writer) error {
		for _, id := range topLevel {
			if f, ok := feeds[id]; ok {
				w.AddFeed(f)
			}
		}
		for _, name := range folderNames {
			folder, err := w.EnsureFolder(name)
			if err != nil {
				continue
			}
			for _, id := range members[name] {
				if f, ok := feeds[id]; ok {
					w.AddFeedToFolder(folder, f)
				}
			}
		}
		return nil
	})
}

func (s *Store) loadFeeds(ctx context.Context, accountID string) (map[string]*account.Feed, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT feed_id, external_id, url, name, edited_name, home_page_url, favicon_url
		FROM feeds WHERE account_id = ?
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*account.Feed)
	for rows.Next() {
		var f account.Feed
		var externalID, name, editedName, homePage, favicon sql.NullString
		if err := rows.Scan(&f.FeedID, &externalID, &f.URL, &name, &editedName, &homePage, &favicon); err != nil {
			return nil, err
		}
		f.ExternalID = externalID.String
		f.Name = name.String
		f.EditedName = editedName.String
		f.HomePageURL = homePage.String
		f.FaviconURL = favicon.String
		f.FolderRelationship = make(map[string]string)
		out[f.FeedID] = &f
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	relRows, err := s.db.QueryContext(ctx, `
		SELECT feed_id, folder_name, relationship_id FROM feed_folder_relationships WHERE account_id = ?
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer relRows.Close()
	for relRows.Next() {
		var feedID, folderName, relID string
		if err := relRows.Scan(&feedID, &folderName, &relID); err != nil {
			return nil, err
		}
		if f, ok := out[feedID]; ok {
			f.FolderRelationship[folderName] = relID
		}
	}
	return out, relRows.Err()
}

func (s *Store) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListFeeds returns the persisted feeds of an account with story counts.
func (s *Store) ListFeeds(ctx context.Context, accountID string) ([]FeedRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			f.account_id, f.feed_id, COALESCE(f.name, ''), COALESCE(f.edited_name, ''), f.url, COALESCE(f.home_page_url, ''),
			COALESCE((SELECT GROUP_CONCAT(ff.folder_name, char(31)) FROM folder_feeds ff
				WHERE ff.account_id = f.account_id AND ff.feed_id = f.feed_id), ''),
			COALESCE(SUM(CASE WHEN st.article_id IS NOT NULL AND COALESCE(ss.read, 0) = 0 THEN 1 ELSE 0 END), 0),
			COUNT(st.article_id)
		FROM feeds f
		LEFT JOIN stories st ON st.account_id = f.account_id AND st.feed_id = f.feed_id
		LEFT JOIN story_status ss ON ss.account_id = st.account_id AND ss.article_id = st.article_id
		WHERE f.account_id = ?
		GROUP BY f.account_id, f.feed_id
		ORDER BY COALESCE(NULLIF(f.edited_name, ''), NULLIF(f.name, ''), f.url) COLLATE NOCASE
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]FeedRow, 0)
	for rows.Next() {
		var r FeedRow
		var folders string
		if err := rows.Scan(&r.AccountID, &r.FeedID, &r.Name, &r.EditedName, &r.URL, &r.HomePageURL, &folders, &r.UnreadCount, &r.TotalCount); err != nil {
			return nil, err
		}
		if folders != "" {
			r.Folders = strings.Split(folders, "\x1f")
			sort.Strings(r.Folders)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
