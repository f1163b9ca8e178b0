package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const storySelectColumns = `
	st.account_id, st.article_id, st.feed_id,
	COALESCE(NULLIF(f.edited_name, ''), NULLIF(f.name, ''), f.url, ''),
	st.title, st.url, st.author, st.image_url, st.tags, st.summary,
	st.content_html, st.content_md, st.published_at, st.fetched_at,
	COALESCE(ss.read, 0), COALESCE(ss.starred, 0)
`

const storyJoins = `
	FROM stories st
	LEFT JOIN feeds f ON f.account_id = st.account_id AND f.feed_id = st.feed_id
	LEFT JOIN story_status ss ON ss.account_id = st.account_id AND ss.article_id = st.article_id
`

// UpsertStories inserts or refreshes stories. A status row is created for
// stories that have none, read unless the article is in unread.
func (s *Store) UpsertStories(ctx context.Context, accountID string, in []UpsertStoryInput, unread map[string]struct{}) (inserted int, err error) {
	if len(in) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	existsStmt, err := tx.PrepareContext(ctx, `SELECT COUNT(*) FROM stories WHERE account_id = ? AND article_id = ?`)
	if err != nil {
		return 0, err
	}
	defer existsStmt.Close()

	upsertStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stories (
			account_id, article_id, feed_id, title, url, author, image_url, tags,
			summary, content_html, content_md, published_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, article_id) DO UPDATE SET
			feed_id = excluded.feed_id,
			title = excluded.title,
			url = excluded.url,
			author = excluded.author,
			image_url = excluded.image_url,
			tags = excluded.tags,
			summary = excluded.summary,
			content_html = excluded.content_html,
			content_md = excluded.content_md,
			published_at = excluded.published_at,
			fetched_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return 0, err
	}
	defer upsertStmt.Close()

	statusStmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO story_status (account_id, article_id, read) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer statusStmt.Close()

	for _, story := range in {
		if strings.TrimSpace(story.ArticleID) == "" {
			err = fmt.Errorf("%w: story without article id", ErrInvalidInput)
			return 0, err
		}
		var n int
		if err = existsStmt.QueryRowContext(ctx, accountID, story.ArticleID).Scan(&n); err != nil {
			return 0, err
		}
		if n == 0 {
			inserted++
		}
		if _, err = upsertStmt.ExecContext(ctx,
			accountID,
			story.ArticleID,
			story.FeedID,
			story.Title,
			story.URL,
			story.Author,
			story.ImageURL,
			encodeTags(story.Tags),
			story.Summary,
			story.ContentHTML,
			story.ContentMD,
			timeToDBString(story.PublishedAt),
		); err != nil {
			return 0, err
		}
		_, isUnread := unread[story.ArticleID]
		if _, err = statusStmt.ExecContext(ctx, accountID, story.ArticleID, !isUnread); err != nil {
			return 0, err
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *Store) ListStories(ctx context.Context, accountID string, opts StoryListOptions) ([]Story, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	status := strings.ToLower(strings.TrimSpace(opts.Status))
	if status == "" {
		status = "unread"
	}

	where := []string{"st.account_id = ?"}
	args := []any{accountID}
	if opts.FeedID != "" {
		where = append(where, "st.feed_id = ?")
		args = append(args, opts.FeedID)
	}
	switch status {
	case "unread":
		where = append(where, "COALESCE(ss.read, 0) = 0")
	case "read":
		where = append(where, "COALESCE(ss.read, 0) = 1")
	case "starred":
		where = append(where, "COALESCE(ss.starred, 0) = 1")
	case "all":
	default:
		return nil, fmt.Errorf("%w: invalid status %q (expected unread|read|starred|all)", ErrInvalidInput, opts.Status)
	}

	query := `SELECT ` + storySelectColumns + storyJoins +
		` WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY CASE WHEN st.published_at IS NULL OR st.published_at = '' THEN 1 ELSE 0 END, COALESCE(st.published_at, st.fetched_at) DESC LIMIT ?`
	args = append(args, opts.Limit)

	return s.queryStories(ctx, query, args...)
}

func (s *Store) GetStory(ctx context.Context, accountID, articleID string) (Story, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+storySelectColumns+storyJoins+` WHERE st.account_id = ? AND st.article_id = ?`, accountID, articleID)
	story, err := scanStory(row)
	if err != nil {
		return Story{}, notFound(err, "story", articleID)
	}
	return story, nil
}

func (s *Store) SearchStories(ctx context.Context, accountID string, opts SearchOptions) ([]Story, error) {
	if strings.TrimSpace(opts.Query) == "" {
		return nil, fmt.Errorf("%w: query must not be empty", ErrInvalidInput)
	}
	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	where := []string{"stories_fts MATCH ?", "st.account_id = ?"}
	args := []any{opts.Query, accountID}
	if opts.FeedID != "" {
		where = append(where, "st.feed_id = ?")
		args = append(args, opts.FeedID)
	}

	query := `
		SELECT ` + storySelectColumns + `
		FROM stories_fts
		JOIN stories st ON st.rowid = stories_fts.rowid
		LEFT JOIN feeds f ON f.account_id = st.account_id AND f.feed_id = st.feed_id
		LEFT JOIN story_status ss ON ss.account_id = st.account_id AND ss.article_id = st.article_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY bm25(stories_fts), COALESCE(st.published_at, st.fetched_at) DESC
		LIMIT ?
	`
	args = append(args, opts.Limit)
	return s.queryStories(ctx, query, args...)
}

func (s *Store) queryStories(ctx context.Context, query string, args ...any) ([]Story, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stories := make([]Story, 0)
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		stories = append(stories, story)
	}
	return stories, rows.Err()
}

func (s *Store) GetStats(ctx context.Context, accountID string) (Stats, error) {
	var stats Stats
	queries := []struct {
		dst   *int
		query string
	}{
		{&stats.Feeds, `SELECT COUNT(*) FROM feeds WHERE account_id = ?`},
		{&stats.Folders, `SELECT COUNT(*) FROM folders WHERE account_id = ?`},
		{&stats.Total, `SELECT COUNT(*) FROM stories WHERE account_id = ?`},
		{&stats.Unread, `SELECT COUNT(*) FROM story_status WHERE account_id = ? AND read = 0`},
		{&stats.Starred, `SELECT COUNT(*) FROM story_status WHERE account_id = ? AND starred = 1`},
		{&stats.Pending, `SELECT COUNT(*) FROM sync_status WHERE account_id = ?`},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query, accountID).Scan(q.dst); err != nil {
			return Stats{}, err
		}
	}
	return stats, nil
}

// ArticleIDsWithoutStories lists statuses created after since whose story has
// not been downloaded yet.
func (s *Store) ArticleIDsWithoutStories(ctx context.Context, accountID string, since time.Time) ([]string, error) {
	return s.queryStrings(ctx, `
		SELECT ss.article_id
		FROM story_status ss
		LEFT JOIN stories st ON st.account_id = ss.account_id AND st.article_id = ss.article_id
		WHERE ss.account_id = ?
		  AND st.article_id IS NULL
		  AND ss.created_at >= ?
		ORDER BY ss.article_id
	`, accountID, since.UTC().Format("2006-01-02 15:04:05"))
}

// PruneReadStoriesOlderThan deletes read, unstarred stories older than days.
// Statuses stay so the next pull does not resurrect them.
func (s *Store) PruneReadStoriesOlderThan(ctx context.Context, accountID string, days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}

	cutoff := timestampBeforeDays(days)
	rows, err := s.db.QueryContext(ctx, `
		SELECT st.article_id, COALESCE(st.published_at, st.fetched_at)
		FROM stories st
		JOIN story_status ss ON ss.account_id = st.account_id AND ss.article_id = st.article_id
		WHERE st.account_id = ?
		  AND ss.read = 1
		  AND COALESCE(ss.starred, 0) = 0
	`, accountID)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id, ts string
		if err := rows.Scan(&id, &ts); err != nil {
			return 0, err
		}
		t, err := parseDBTime(ts)
		if err != nil {
			continue
		}
		if t.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var total int64
	for _, chunk := range chunkStrings(ids, maxInArgs) {
		placeholders, args := inClause(chunk)
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM stories WHERE account_id = ? AND article_id IN (`+placeholders+`)`,
			append([]any{accountID}, args...)...,
		)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
