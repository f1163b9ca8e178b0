package newsblur

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"
)

// MaxStoriesPerRequest is the river_stories hash limit.
const MaxStoriesPerRequest = 100

// RetrieveFeeds returns every subscription and the flat folder layout.
func (c *Client) RetrieveFeeds(ctx context.Context) ([]Feed, []Folder, error) {
	q := url.Values{}
	q.Set("flat", "true")
	q.Set("update_counts", "true")

	var payload feedsResponse
	if _, err := c.call(ctx, http.MethodGet, "reader/feeds", q, nil, &payload); err != nil {
		return nil, nil, err
	}
	return payload.sortedFeeds(), payload.sortedFolders(), nil
}

// RetrieveUnreadStoryHashes returns the hashes of every unread story.
func (c *Client) RetrieveUnreadStoryHashes(ctx context.Context) ([]StoryHash, error) {
	var payload unreadHashesResponse
	if err := c.retrieveStoryHashes(ctx, "reader/unread_story_hashes", &payload); err != nil {
		return nil, err
	}
	feedIDs := make([]string, 0, len(payload.Unread))
	for id := range payload.Unread {
		feedIDs = append(feedIDs, id)
	}
	sort.Strings(feedIDs)

	out := make([]StoryHash, 0)
	for _, id := range feedIDs {
		out = append(out, payload.Unread[id]...)
	}
	return out, nil
}

func (c *Client) RetrieveStarredStoryHashes(ctx context.Context) ([]StoryHash, error) {
	var payload starredHashesResponse
	if err := c.retrieveStoryHashes(ctx, "reader/starred_story_hashes", &payload); err != nil {
		return nil, err
	}
	if payload.Starred == nil {
		return []StoryHash{}, nil
	}
	return payload.Starred, nil
}

func (c *Client) retrieveStoryHashes(ctx context.Context, path string, out any) error {
	q := url.Values{}
	q.Set("include_timestamps", "true")
	_, err := c.call(ctx, http.MethodGet, path, q, nil, out)
	return err
}

// RetrieveFeedStories returns one page (1-based) of a feed's stories, newest
// first, and the server time of the response.
func (c *Client) RetrieveFeedStories(ctx context.Context, feedID string, page int) ([]Story, *time.Time, error) {
	if feedID == "" {
		return nil, nil, ErrInvalidParameter
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("order", "newest")
	q.Set("read_filter", "all")
	q.Set("include_hidden", "false")
	q.Set("include_story_content", "true")

	var payload storiesResponse
	resp, err := c.call(ctx, http.MethodGet, "reader/feed/"+url.PathEscape(feedID), q, nil, &payload)
	if err != nil {
		return nil, nil, err
	}
	return payload.Stories, responseDate(resp), nil
}

// RetrieveStories fetches stories by hash. Callers keep len(hashes) at or
// below MaxStoriesPerRequest.
func (c *Client) RetrieveStories(ctx context.Context, hashes []string) ([]Story, *time.Time, error) {
	if len(hashes) == 0 {
		return nil, nil, nil
	}
	q := url.Values{}
	q.Set("include_hidden", "false")
	for _, h := range hashes {
		q.Add("h", h)
	}

	var payload storiesResponse
	resp, err := c.call(ctx, http.MethodGet, "reader/river_stories", q, nil, &payload)
	if err != nil {
		return nil, nil, err
	}
	return payload.Stories, responseDate(resp), nil
}
