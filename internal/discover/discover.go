// Package discover resolves what a user typed into a subscribable feed URL.
package discover

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const maxBodyBytes = 8 << 20

// ErrNoFeed means the page was fetched but advertises no feed.
var ErrNoFeed = errors.New("no feed discovered")

// NormalizeURL trims rawURL and defaults the scheme to https. Host-less input
// is rejected.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid url %q", raw)
	}
	return u.String(), nil
}

// Result is a resolved subscription target.
type Result struct {
	FeedURL string
	Title   string
}

// Discoverer turns a site or feed URL into a feed URL before subscribing.
type Discoverer struct {
	client    *http.Client
	parser    *gofeed.Parser
	userAgent string
}

func New(client *http.Client, userAgent string) *Discoverer {
	if client == nil {
		client = http.DefaultClient
	}
	if strings.TrimSpace(userAgent) == "" {
		userAgent = "feedsync/0.1"
	}
	return &Discoverer{client: client, parser: gofeed.NewParser(), userAgent: userAgent}
}

// page is one fetched document.
type page struct {
	url    string
	status int
	body   []byte
}

func (p page) ok() bool { return p.status >= 200 && p.status < 300 }

// Discover fetches rawURL. A feed document resolves to itself. An HTML page
// resolves to its first alternate feed link.
func (d *Discoverer) Discover(ctx context.Context, rawURL string) (Result, error) {
	p, err := d.fetch(ctx, rawURL)
	if err != nil {
		return Result{}, err
	}
	if feed, err := d.parser.Parse(bytes.NewReader(p.body)); err == nil {
		return Result{FeedURL: p.url, Title: strings.TrimSpace(feed.Title)}, nil
	}

	base, err := url.Parse(p.url)
	if err != nil {
		return Result{}, err
	}
	if links := feedLinks(p.body, base); len(links) > 0 {
		return Result{FeedURL: links[0]}, nil
	}
	if !p.ok() {
		return Result{}, fmt.Errorf("request failed: %d %s", p.status, http.StatusText(p.status))
	}
	return Result{}, fmt.Errorf("%w at %s", ErrNoFeed, p.url)
}

// Probe reports whether rawURL serves a parseable feed and returns its title.
func (d *Discoverer) Probe(ctx context.Context, rawURL string) (string, error) {
	p, err := d.fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}
	if !p.ok() {
		return "", fmt.Errorf("request failed: %d %s", p.status, http.StatusText(p.status))
	}
	feed, err := d.parser.Parse(bytes.NewReader(p.body))
	if err != nil {
		return "", fmt.Errorf("parse feed %s: %w", p.url, err)
	}
	return strings.TrimSpace(feed.Title), nil
}

func (d *Discoverer) fetch(ctx context.Context, rawURL string) (page, error) {
	target, err := NormalizeURL(rawURL)
	if err != nil {
		return page{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return page{}, err
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, text/html;q=0.8, */*;q=0.5")

	resp, err := d.client.Do(req)
	if err != nil {
		return page{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return page{}, err
	}
	if len(body) == 0 {
		return page{}, fmt.Errorf("empty response body from %s", target)
	}
	p := page{url: target, status: resp.StatusCode, body: body}
	if resp.Request != nil && resp.Request.URL != nil {
		p.url = resp.Request.URL.String()
	}
	return p, nil
}

// feedLinks scans the document head for <link rel="alternate"> feed
// references and resolves them against <base href> or the page URL.
func feedLinks(body []byte, pageURL *url.URL) []string {
	var hrefs []string
	var baseHref string

	z := html.NewTokenizer(bytes.NewReader(body))
scan:
	for {
		switch z.Next() {
		case html.ErrorToken:
			break scan
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Body:
				break scan
			case atom.Base:
				if baseHref == "" {
					baseHref = strings.TrimSpace(attr(tok, "href"))
				}
			case atom.Link:
				if href, ok := alternateFeed(tok); ok {
					hrefs = append(hrefs, href)
				}
			}
		}
	}

	base := pageURL
	if baseHref != "" {
		if u, err := url.Parse(baseHref); err == nil {
			base = pageURL.ResolveReference(u)
		}
	}

	out := make([]string, 0, len(hrefs))
	seen := make(map[string]bool, len(hrefs))
	for _, href := range hrefs {
		u, err := url.Parse(href)
		if err != nil {
			continue
		}
		abs := base.ResolveReference(u).String()
		if !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
	}
	return out
}

func alternateFeed(tok html.Token) (string, bool) {
	if !hasToken(attr(tok, "rel"), "alternate") {
		return "", false
	}
	href := strings.TrimSpace(attr(tok, "href"))
	if href == "" {
		return "", false
	}
	typ := strings.ToLower(strings.TrimSpace(attr(tok, "type")))
	// WordPress advertises its REST API as an application/json alternate.
	if typ == "application/json" && strings.Contains(strings.ToLower(href), "/wp-json/") {
		return "", false
	}
	return href, isFeedType(typ, href)
}

func isFeedType(typ, href string) bool {
	switch typ {
	case "application/rss+xml", "application/atom+xml", "application/feed+json", "application/json", "application/xml", "text/xml":
		return true
	case "":
	default:
		return strings.Contains(typ, "rss") || strings.Contains(typ, "atom") || strings.Contains(typ, "feed")
	}

	lower := strings.ToLower(href)
	p := lower
	if u, err := url.Parse(href); err == nil && u.Path != "" {
		p = strings.ToLower(u.Path)
	}
	switch path.Ext(p) {
	case ".rss", ".atom", ".xml", ".json":
		return true
	}
	return strings.Contains(lower, "/feed") || strings.Contains(lower, "rss") || strings.Contains(lower, "atom")
}

func attr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func hasToken(list, want string) bool {
	for _, f := range strings.Fields(strings.ToLower(list)) {
		if f == want {
			return true
		}
	}
	return false
}
