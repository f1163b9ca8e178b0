package cli

import (
	"github.com/tengjizhang/feedsync/internal/account"
	"github.com/tengjizhang/feedsync/internal/model"
)

type AddFeedResponse struct {
	Feed   account.Feed `json:"feed" yaml:"feed"`
	Folder string       `json:"folder,omitempty" yaml:"folder,omitempty"`
}

type FolderResponse struct {
	Folder string `json:"folder" yaml:"folder"`
}

type RemoveFeedResponse struct {
	FeedID string `json:"feed_id" yaml:"feed_id"`
	Folder string `json:"folder,omitempty" yaml:"folder,omitempty"`
}

type RenameResponse struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

type MoveFeedResponse struct {
	FeedID string `json:"feed_id" yaml:"feed_id"`
	From   string `json:"from" yaml:"from"`
	To     string `json:"to" yaml:"to"`
	Kept   bool   `json:"kept" yaml:"kept"`
}

type UpdateStoriesResponse struct {
	Key     model.StatusKey `json:"key" yaml:"key"`
	Flag    bool            `json:"flag" yaml:"flag"`
	IDs     []string        `json:"ids" yaml:"ids"`
	Changed []string        `json:"changed" yaml:"changed"`
}

type SessionResponse struct {
	Account  string `json:"account" yaml:"account"`
	LoggedIn bool   `json:"logged_in" yaml:"logged_in"`
}

type ImportResponse struct {
	Source   string `json:"source" yaml:"source"`
	Added    int    `json:"added" yaml:"added"`
	Existing int    `json:"existing" yaml:"existing"`
	Failed   int    `json:"failed" yaml:"failed"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}
