package newsblur

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// flexString decodes JSON strings and numbers alike. NewsBlur sends feed IDs
// and timestamps as either.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("newsblur: expected string or number, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}

// Feed is one subscription from reader/feeds or reader/add_url.
type Feed struct {
	ID          flexString `json:"id"`
	Title       string     `json:"feed_title"`
	FeedAddress string     `json:"feed_address"`
	FeedLink    string     `json:"feed_link"`
	FaviconURL  string     `json:"favicon_url"`
}

func (f Feed) FeedID() string {
	return string(f.ID)
}

// Folder is one entry of flat_folders. The folder named " " holds the
// account-level feeds.
type Folder struct {
	Name    string
	FeedIDs []string
}

type feedsResponse struct {
	Feeds       map[string]Feed         `json:"feeds"`
	FlatFolders map[string][]flexString `json:"flat_folders"`
}

func (r feedsResponse) sortedFeeds() []Feed {
	out := make([]Feed, 0, len(r.Feeds))
	for key, f := range r.Feeds {
		if f.ID == "" {
			f.ID = flexString(key)
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FeedID() < out[j].FeedID() })
	return out
}

func (r feedsResponse) sortedFolders() []Folder {
	out := make([]Folder, 0, len(r.FlatFolders))
	for name, ids := range r.FlatFolders {
		folder := Folder{Name: name, FeedIDs: make([]string, 0, len(ids))}
		for _, id := range ids {
			folder.FeedIDs = append(folder.FeedIDs, string(id))
		}
		out = append(out, folder)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// StoryHash identifies a story as "feedID:hash". On the wire it is a
// [hash, timestamp] pair.
type StoryHash struct {
	Hash      string
	Timestamp time.Time
}

func (h *StoryHash) UnmarshalJSON(b []byte) error {
	var pair []flexString
	if err := json.Unmarshal(b, &pair); err != nil {
		var plain string
		if err2 := json.Unmarshal(b, &plain); err2 != nil {
			return fmt.Errorf("newsblur: decode story hash: %w", err)
		}
		h.Hash = plain
		return nil
	}
	if len(pair) == 0 {
		return fmt.Errorf("newsblur: empty story hash")
	}
	h.Hash = string(pair[0])
	if len(pair) > 1 {
		if sec, err := strconv.ParseFloat(string(pair[1]), 64); err == nil {
			h.Timestamp = time.Unix(int64(sec), 0).UTC()
		}
	}
	return nil
}

type unreadHashesResponse struct {
	Unread map[string][]StoryHash `json:"unread_feed_story_hashes"`
}

type starredHashesResponse struct {
	Starred []StoryHash `json:"starred_story_hashes"`
}

// Story is a story as returned by reader/feed and reader/river_stories.
type Story struct {
	Hash       string     `json:"story_hash"`
	FeedID     flexString `json:"story_feed_id"`
	Title      string     `json:"story_title"`
	Content    string     `json:"story_content"`
	Permalink  string     `json:"story_permalink"`
	Authors    string     `json:"story_authors"`
	Date       string     `json:"story_date"`
	Timestamp  flexString `json:"story_timestamp"`
	Tags       []string   `json:"story_tags"`
	ImageURLs  []string   `json:"image_urls"`
	ReadStatus int        `json:"read_status"`
	Starred    bool       `json:"starred"`
}

// PublishedAt prefers story_timestamp and falls back to story_date (UTC).
func (s Story) PublishedAt() *time.Time {
	if ts := strings.TrimSpace(string(s.Timestamp)); ts != "" {
		if sec, err := strconv.ParseInt(ts, 10, 64); err == nil && sec > 0 {
			t := time.Unix(sec, 0).UTC()
			return &t
		}
	}
	if d := strings.TrimSpace(s.Date); d != "" {
		for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04:05.999999", time.RFC3339} {
			if t, err := time.ParseInLocation(layout, d, time.UTC); err == nil {
				return &t
			}
		}
	}
	return nil
}

func (s Story) ImageURL() string {
	for _, u := range s.ImageURLs {
		if strings.TrimSpace(u) != "" {
			return u
		}
	}
	return ""
}

type storiesResponse struct {
	Stories []Story `json:"stories"`
}

type addURLResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Feed    *Feed  `json:"feed"`
}

type loginResponse struct {
	Code          int  `json:"code"`
	Authenticated bool `json:"authenticated"`
	Errors        struct {
		Username []string `json:"username"`
		Others   []string `json:"__all__"`
	} `json:"errors"`
}

type resultResponse struct {
	Code    int    `json:"code"`
	Result  string `json:"result"`
	Message string `json:"message"`
}
