package newsblur

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

func (c *Client) MarkAsUnread(ctx context.Context, hashes []string) error {
	return c.sendStoryHashes(ctx, "reader/mark_story_hash_as_unread", hashes)
}

func (c *Client) MarkAsRead(ctx context.Context, hashes []string) error {
	return c.sendStoryHashes(ctx, "reader/mark_story_hashes_as_read", hashes)
}

func (c *Client) MarkAsStarred(ctx context.Context, hashes []string) error {
	return c.sendStoryHashes(ctx, "reader/mark_story_hash_as_starred", hashes)
}

func (c *Client) MarkAsUnstarred(ctx context.Context, hashes []string) error {
	return c.sendStoryHashes(ctx, "reader/mark_story_hash_as_unstarred", hashes)
}

func (c *Client) sendStoryHashes(ctx context.Context, path string, hashes []string) error {
	if len(hashes) == 0 {
		return nil
	}
	form := url.Values{}
	for _, h := range hashes {
		form.Add("story_hash", h)
	}
	return c.post(ctx, path, form)
}

func (c *Client) AddFolder(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidParameter
	}
	form := url.Values{}
	form.Set("folder", name)
	return c.post(ctx, "reader/add_folder", form)
}

func (c *Client) RenameFolder(ctx context.Context, from, to string) error {
	if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return ErrInvalidParameter
	}
	form := url.Values{}
	form.Set("folder_to_rename", from)
	form.Set("new_folder_name", to)
	form.Set("in_folder", "")
	return c.post(ctx, "reader/rename_folder", form)
}

// DeleteFolder removes the folder and unsubscribes feedIDs along with it.
func (c *Client) DeleteFolder(ctx context.Context, name string, feedIDs []string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidParameter
	}
	form := url.Values{}
	form.Set("folder_to_delete", name)
	form.Set("in_folder", "")
	for _, id := range feedIDs {
		form.Add("feed_id", id)
	}
	return c.post(ctx, "reader/delete_folder", form)
}

// AddURL subscribes to rawURL, inside folder when it is not empty. A nil feed
// means the service accepted the call but created nothing.
func (c *Client) AddURL(ctx context.Context, rawURL, folder string) (*Feed, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, ErrInvalidParameter
	}
	form := url.Values{}
	form.Set("url", rawURL)
	if folder != "" {
		form.Set("folder", folder)
	}

	var payload addURLResponse
	if _, err := c.call(ctx, http.MethodPost, "reader/add_url", nil, form, &payload); err != nil {
		return nil, err
	}
	if payload.Code == -1 {
		msg := payload.Message
		if msg == "" {
			msg = fmt.Sprintf("could not subscribe to %s", rawURL)
		}
		return nil, &GeneralError{Message: msg}
	}
	return payload.Feed, nil
}

func (c *Client) RenameFeed(ctx context.Context, feedID, name string) error {
	if feedID == "" {
		return ErrInvalidParameter
	}
	form := url.Values{}
	form.Set("feed_id", feedID)
	form.Set("feed_title", name)
	return c.post(ctx, "reader/rename_feed", form)
}

// DeleteFeed unsubscribes the feed from folder, or from the account level
// when folder is empty.
func (c *Client) DeleteFeed(ctx context.Context, feedID, folder string) error {
	if feedID == "" {
		return ErrInvalidParameter
	}
	form := url.Values{}
	form.Set("feed_id", feedID)
	if folder != "" {
		form.Set("in_folder", folder)
	}
	return c.post(ctx, "reader/delete_feed", form)
}

// MoveFeed moves a feed between folders. An empty name means account level.
func (c *Client) MoveFeed(ctx context.Context, feedID, from, to string) error {
	if feedID == "" {
		return ErrInvalidParameter
	}
	form := url.Values{}
	form.Set("feed_id", feedID)
	form.Set("in_folders", from)
	form.Set("to_folders", to)
	return c.post(ctx, "reader/move_feed_to_folder", form)
}

func (c *Client) post(ctx context.Context, path string, form url.Values) error {
	var payload resultResponse
	if _, err := c.call(ctx, http.MethodPost, path, nil, form, &payload); err != nil {
		return err
	}
	if payload.Code == -1 {
		msg := payload.Message
		if msg == "" {
			msg = path + " failed"
		}
		return &GeneralError{Message: msg}
	}
	return nil
}
