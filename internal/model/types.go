package model

import "time"

type OutputFormat string

const (
	OutputTable OutputFormat = "table"
	OutputJSON  OutputFormat = "json"
	OutputWide  OutputFormat = "wide"
	OutputYAML  OutputFormat = "yaml"
)

type StatusKey string

const (
	StatusRead    StatusKey = "read"
	StatusStarred StatusKey = "starred"
)

// SyncStatus is a local read/starred change waiting to be pushed.
type SyncStatus struct {
	ArticleID string    `json:"article_id" yaml:"article_id"`
	Key       StatusKey `json:"key" yaml:"key"`
	Flag      bool      `json:"flag" yaml:"flag"`
	Selected  bool      `json:"selected" yaml:"selected"`
}

type AccountInfo struct {
	ID                    string     `json:"id" yaml:"id"`
	Name                  string     `json:"name" yaml:"name"`
	Type                  string     `json:"type" yaml:"type"`
	Username              string     `json:"username,omitempty" yaml:"username,omitempty"`
	SessionID             string     `json:"-" yaml:"-"`
	LastArticleFetchStart *time.Time `json:"last_article_fetch_start,omitempty" yaml:"last_article_fetch_start,omitempty"`
	LastArticleFetchEnd   *time.Time `json:"last_article_fetch_end,omitempty" yaml:"last_article_fetch_end,omitempty"`
	CreatedAt             time.Time  `json:"created_at" yaml:"created_at"`
}

type Story struct {
	ArticleID   string     `json:"article_id" yaml:"article_id"`
	AccountID   string     `json:"account_id" yaml:"account_id"`
	FeedID      string     `json:"feed_id" yaml:"feed_id"`
	FeedName    string     `json:"feed_name,omitempty" yaml:"feed_name,omitempty"`
	Title       string     `json:"title,omitempty" yaml:"title,omitempty"`
	URL         string     `json:"url,omitempty" yaml:"url,omitempty"`
	Author      string     `json:"author,omitempty" yaml:"author,omitempty"`
	ImageURL    string     `json:"image_url,omitempty" yaml:"image_url,omitempty"`
	Tags        []string   `json:"tags,omitempty" yaml:"tags,omitempty"`
	Summary     string     `json:"summary,omitempty" yaml:"summary,omitempty"`
	ContentHTML string     `json:"content_html,omitempty" yaml:"content_html,omitempty"`
	ContentMD   string     `json:"content_md,omitempty" yaml:"content_md,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty" yaml:"published_at,omitempty"`
	FetchedAt   time.Time  `json:"fetched_at" yaml:"fetched_at"`
	Read        bool       `json:"read" yaml:"read"`
	Starred     bool       `json:"starred" yaml:"starred"`
}

type FeedRow struct {
	AccountID   string   `json:"account_id" yaml:"account_id"`
	FeedID      string   `json:"feed_id" yaml:"feed_id"`
	Name        string   `json:"name" yaml:"name"`
	EditedName  string   `json:"edited_name,omitempty" yaml:"edited_name,omitempty"`
	URL         string   `json:"url" yaml:"url"`
	HomePageURL string   `json:"home_page_url,omitempty" yaml:"home_page_url,omitempty"`
	Folders     []string `json:"folders,omitempty" yaml:"folders,omitempty"`
	UnreadCount int      `json:"unread_count" yaml:"unread_count"`
	TotalCount  int      `json:"total_count" yaml:"total_count"`
}

type Stats struct {
	Feeds   int `json:"feeds" yaml:"feeds"`
	Folders int `json:"folders" yaml:"folders"`
	Unread  int `json:"unread" yaml:"unread"`
	Starred int `json:"starred" yaml:"starred"`
	Total   int `json:"total" yaml:"total"`
	Pending int `json:"pending" yaml:"pending"`
}

type StoryListOptions struct {
	Status string
	FeedID string
	Limit  int
}

type SearchOptions struct {
	Query  string
	FeedID string
	Limit  int
}

type UpsertStoryInput struct {
	ArticleID   string
	FeedID      string
	Title       string
	URL         string
	Author      string
	ImageURL    string
	Tags        []string
	Summary     string
	ContentHTML string
	ContentMD   string
	PublishedAt *time.Time
}

type RefreshResult struct {
	AccountID   string    `json:"account_id" yaml:"account_id"`
	AccountName string    `json:"account_name" yaml:"account_name"`
	StartedAt   time.Time `json:"started_at" yaml:"started_at"`
	EndedAt     time.Time `json:"ended_at" yaml:"ended_at"`
	Feeds       int       `json:"feeds" yaml:"feeds"`
	Folders     int       `json:"folders" yaml:"folders"`
	Pending     int       `json:"pending" yaml:"pending"`
	Error       string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// SyncResult is the outcome of one account's status push and pull.
type SyncResult struct {
	AccountID   string `json:"account_id" yaml:"account_id"`
	AccountName string `json:"account_name" yaml:"account_name"`
	Unread      int    `json:"unread" yaml:"unread"`
	Starred     int    `json:"starred" yaml:"starred"`
	Pending     int    `json:"pending" yaml:"pending"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
}
