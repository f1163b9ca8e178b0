package store

import (
	"database/sql"
	"time"

	"github.com/tengjizhang/feedsync/internal/model"
)

type AccountInfo = model.AccountInfo
type Story = model.Story
type FeedRow = model.FeedRow
type Stats = model.Stats
type StoryListOptions = model.StoryListOptions
type SearchOptions = model.SearchOptions
type UpsertStoryInput = model.UpsertStoryInput
type SyncStatus = model.SyncStatus
type StatusKey = model.StatusKey

// maxInArgs keeps IN (...) lists well under SQLite's variable limit.
const maxInArgs = 500

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(scanner rowScanner) (AccountInfo, error) {
	var a AccountInfo
	var username, sessionID, fetchStart, fetchEnd sql.NullString
	var createdAt string
	if err := scanner.Scan(
		&a.ID,
		&a.Name,
		&a.Type,
		&username,
		&sessionID,
		&fetchStart,
		&fetchEnd,
		&createdAt,
	); err != nil {
		return AccountInfo{}, err
	}
	a.Username = username.String
	a.SessionID = sessionID.String
	if fetchStart.Valid {
		a.LastArticleFetchStart = parseNullableTime(&fetchStart.String)
	}
	if fetchEnd.Valid {
		a.LastArticleFetchEnd = parseNullableTime(&fetchEnd.String)
	}
	if t, err := parseDBTime(createdAt); err == nil {
		a.CreatedAt = t
	}
	return a, nil
}

func scanStory(scanner rowScanner) (Story, error) {
	var s Story
	var feedName, title, url, author, imageURL, tags, summary, contentHTML, contentMD sql.NullString
	var publishedAt sql.NullString
	var fetchedAt string
	if err := scanner.Scan(
		&s.AccountID,
		&s.ArticleID,
		&s.FeedID,
		&feedName,
		&title,
		&url,
		&author,
		&imageURL,
		&tags,
		&summary,
		&contentHTML,
		&contentMD,
		&publishedAt,
		&fetchedAt,
		&s.Read,
		&s.Starred,
	); err != nil {
		return Story{}, err
	}
	s.FeedName = feedName.String
	s.Title = title.String
	s.URL = url.String
	s.Author = author.String
	s.ImageURL = imageURL.String
	s.Tags = decodeTags(tags.String)
	s.Summary = summary.String
	s.ContentHTML = contentHTML.String
	s.ContentMD = contentMD.String
	if publishedAt.Valid {
		s.PublishedAt = parseNullableTime(&publishedAt.String)
	}
	if t, err := parseDBTime(fetchedAt); err == nil {
		s.FetchedAt = t
	}
	return s, nil
}

func timestampBeforeDays(days int) time.Time {
	return time.Now().UTC().AddDate(0, 0, -days)
}
