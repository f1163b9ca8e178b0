package content

import (
	"regexp"
	"strings"

	markdown "github.com/JohannesKaufmann/html-to-markdown"
)

// SummaryLength caps the plain-text teaser stored next to each story.
const SummaryLength = 280

var wsRegexp = regexp.MustCompile(`\s+`)

type Renderer struct {
	converter *markdown.Converter
}

func NewRenderer() *Renderer {
	return &Renderer{converter: markdown.NewConverter("", true, nil)}
}

// Rendered is story content in every form the store keeps.
type Rendered struct {
	HTML     string
	Markdown string
	Summary  string
}

// Render sanitizes raw story HTML and derives markdown and a summary from it.
func (r *Renderer) Render(raw string) Rendered {
	clean := SanitizeHTML(raw)
	md := r.HTMLToMarkdown(clean)
	return Rendered{
		HTML:     clean,
		Markdown: md,
		Summary:  CompactText(md, SummaryLength),
	}
}

func (r *Renderer) HTMLToMarkdown(html string) string {
	html = strings.TrimSpace(html)
	if html == "" {
		return ""
	}
	out, err := r.converter.ConvertString(html)
	if err != nil {
		return CompactText(html, 4000)
	}
	return strings.TrimSpace(out)
}

// CompactText collapses whitespace and truncates to max bytes.
func CompactText(v string, max int) string {
	v = strings.TrimSpace(wsRegexp.ReplaceAllString(v, " "))
	if max <= 0 || len(v) <= max {
		return v
	}
	return v[:max-1] + "..."
}
