package opml

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/tengjizhang/feedsync/internal/account"
)

// Subscription is one feed outline. Folder is the name of the nearest
// enclosing outline without a feed URL, or empty for top-level feeds.
type Subscription struct {
	URL         string
	Title       string
	HomePageURL string
	Folder      string
}

// node is an outline as read. Exporters disagree on attribute casing
// (xmlUrl, xmlurl, XMLURL), so attributes are kept raw and looked up
// case-insensitively.
type node struct {
	Attrs    []xml.Attr `xml:",any,attr"`
	Children []node     `xml:"outline"`
}

func (n node) attr(name string) string {
	for _, a := range n.Attrs {
		if strings.EqualFold(a.Name.Local, name) {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}

func (n node) label() string {
	if t := n.attr("title"); t != "" {
		return t
	}
	return n.attr("text")
}

// Read parses an OPML document. Repeated (folder, url) pairs are dropped.
func Read(r io.Reader) ([]Subscription, error) {
	var doc struct {
		Body struct {
			Outlines []node `xml:"outline"`
		} `xml:"body"`
	}
	dec := xml.NewDecoder(r)
	dec.Strict = false
	dec.Entity = xml.HTMLEntity
	dec.CharsetReader = charset.NewReaderLabel
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse opml: %w", err)
	}

	c := collector{seen: make(map[[2]string]bool)}
	c.visit(doc.Body.Outlines, "")
	return c.subs, nil
}

type collector struct {
	subs []Subscription
	seen map[[2]string]bool
}

func (c *collector) visit(nodes []node, folder string) {
	for _, n := range nodes {
		feedURL := n.attr("xmlUrl")
		if feedURL == "" {
			if len(n.Children) > 0 {
				c.visit(n.Children, n.label())
			}
			continue
		}
		if key := [2]string{folder, feedURL}; !c.seen[key] {
			c.seen[key] = true
			c.subs = append(c.subs, Subscription{
				URL:         feedURL,
				Title:       n.label(),
				HomePageURL: n.attr("htmlUrl"),
				Folder:      folder,
			})
		}
		// A feed outline with children still nests under the same folder.
		c.visit(n.Children, folder)
	}
}

// Open returns a reader for a local path or an http(s) URL.
func Open(ctx context.Context, client *http.Client, path string) (io.ReadCloser, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		if client == nil {
			client = http.DefaultClient
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("fetch %s: %s", path, resp.Status)
		}
		return resp.Body, nil
	}
	return os.Open(path)
}

type exportDoc struct {
	XMLName xml.Name        `xml:"opml"`
	Version string          `xml:"version,attr"`
	Title   string          `xml:"head>title"`
	Items   []exportOutline `xml:"body>outline"`
}

type exportOutline struct {
	Text     string          `xml:"text,attr"`
	Title    string          `xml:"title,attr,omitempty"`
	Type     string          `xml:"type,attr,omitempty"`
	XMLURL   string          `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string          `xml:"htmlUrl,attr,omitempty"`
	Children []exportOutline `xml:"outline,omitempty"`
}

// Write exports the account tree: top-level feeds first, then one outline per
// folder.
func Write(w io.Writer, snap account.Snapshot) error {
	doc := exportDoc{Version: "2.0", Title: "feedsync export"}
	if snap.Name != "" {
		doc.Title = snap.Name + " subscriptions"
	}
	for _, f := range snap.Feeds {
		doc.Items = append(doc.Items, feedOutline(f))
	}
	for _, folder := range snap.Folders {
		group := exportOutline{Text: folder.Name, Title: folder.Name}
		for _, f := range folder.Feeds {
			group.Children = append(group.Children, feedOutline(f))
		}
		doc.Items = append(doc.Items, group)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Flush()
}

func feedOutline(f account.Feed) exportOutline {
	name := f.DisplayName()
	return exportOutline{Text: name, Title: name, Type: "rss", XMLURL: f.URL, HTMLURL: f.HomePageURL}
}
