package content

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// droppedElements are removed together with everything inside them.
var droppedElements = map[atom.Atom]bool{
	atom.Base:     true,
	atom.Embed:    true,
	atom.Form:     true,
	atom.Frame:    true,
	atom.Frameset: true,
	atom.Iframe:   true,
	atom.Input:    true,
	atom.Link:     true,
	atom.Math:     true,
	atom.Meta:     true,
	atom.Noscript: true,
	atom.Object:   true,
	atom.Script:   true,
	atom.Style:    true,
	atom.Svg:      true,
	atom.Textarea: true,
}

var urlAttrs = map[string]bool{
	"action":     true,
	"cite":       true,
	"data":       true,
	"formaction": true,
	"href":       true,
	"poster":     true,
	"src":        true,
}

// SanitizeHTML strips active content from a story body: script-like
// elements, event handlers, inline styles, tracking pixels and URLs with a
// scheme other than http, https or mailto.
func SanitizeHTML(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(raw), body)
	if err != nil {
		return html.EscapeString(raw)
	}

	var b strings.Builder
	for _, n := range nodes {
		if !keepNode(n) {
			continue
		}
		scrub(n)
		_ = html.Render(&b, n)
	}
	return strings.TrimSpace(b.String())
}

func keepNode(n *html.Node) bool {
	switch n.Type {
	case html.CommentNode, html.DoctypeNode:
		return false
	case html.ElementNode:
		if droppedElements[n.DataAtom] {
			return false
		}
		if n.DataAtom == atom.Img && isTrackingPixel(n) {
			return false
		}
	}
	return true
}

// scrub prunes the subtree under n in place.
func scrub(n *html.Node) {
	if n.Type == html.ElementNode {
		n.Attr = safeAttrs(n.DataAtom, n.Attr)
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if keepNode(c) {
			scrub(c)
		} else {
			n.RemoveChild(c)
		}
		c = next
	}
}

func safeAttrs(tag atom.Atom, attrs []html.Attribute) []html.Attribute {
	out := attrs[:0]
	for _, a := range attrs {
		key := strings.ToLower(strings.TrimSpace(a.Key))
		switch {
		case key == "", key == "style", key == "srcdoc", strings.HasPrefix(key, "on"):
			continue
		case urlAttrs[key] && !safeURL(tag, key, a.Val):
			continue
		}
		a.Key = key
		out = append(out, a)
	}
	return out
}

// safeURL accepts relative references and an allowlist of schemes. Inline
// data is only allowed for image sources.
func safeURL(tag atom.Atom, attr, v string) bool {
	u := strings.ToLower(strings.Join(strings.Fields(v), ""))
	scheme, _, found := strings.Cut(u, ":")
	if !found || strings.ContainsAny(scheme, "/?#") {
		return true
	}
	switch scheme {
	case "http", "https", "mailto":
		return true
	case "data":
		return tag == atom.Img && attr == "src" && strings.HasPrefix(u, "data:image/")
	default:
		return false
	}
}

// isTrackingPixel reports 0 or 1 pixel images, which stories use as read
// beacons.
func isTrackingPixel(n *html.Node) bool {
	var w, h string
	for _, a := range n.Attr {
		switch strings.ToLower(a.Key) {
		case "width":
			w = strings.TrimSpace(a.Val)
		case "height":
			h = strings.TrimSpace(a.Val)
		}
	}
	return (w == "1" || w == "0") && (h == "1" || h == "0")
}
