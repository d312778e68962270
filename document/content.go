package document

import (
	"encoding/json"
	"slices"
	"strings"
)

// ContentKind selects the representation held by a Content.
type ContentKind string

const (
	ContentBlocks   ContentKind = "blocks"
	ContentMarkdown ContentKind = "markdown"
)

// Content is either a sorted set of pages (BLOCKS) or a markdown string
// (MARKDOWN), never both. Build it with FromPages or FromMarkdown.
type Content struct {
	kind     ContentKind
	pages    []*Page
	markdown string
}

// FromPages copies pages, rejects duplicate page numbers or block IDs, and
// sorts the copy by page number.
func FromPages(pages []*Page) (*Content, error) {
	cp := slices.Clone(pages)
	if err := ensurePagesValid(cp); err != nil {
		return nil, err
	}
	sortPages(cp)
	return &Content{kind: ContentBlocks, pages: cp}, nil
}

// FromMarkdown wraps non-blank markdown text.
func FromMarkdown(markdown string) (*Content, error) {
	if strings.TrimSpace(markdown) == "" {
		return nil, Invalid("markdown", "cannot be empty")
	}
	return &Content{kind: ContentMarkdown, markdown: markdown}, nil
}

func emptyBlocks() *Content { return &Content{kind: ContentBlocks} }

// Kind reports the representation.
func (c *Content) Kind() ContentKind { return c.kind }

// Pages returns a copy of the page list; always empty for MARKDOWN content.
func (c *Content) Pages() []*Page {
	if len(c.pages) == 0 {
		return []*Page{}
	}
	return slices.Clone(c.pages)
}

// Markdown returns the markdown text and whether the content is MARKDOWN.
func (c *Content) Markdown() (string, bool) {
	return c.markdown, c.kind == ContentMarkdown
}

func (c *Content) addPage(p *Page) error {
	if c.kind != ContentBlocks {
		return Invalid("content", "cannot add pages to a markdown-only document")
	}
	if p == nil {
		return Invalid("page", "cannot be nil")
	}
	for _, existing := range c.pages {
		if existing.number == p.number {
			return Invalid("page", "duplicate page number: %d", p.number)
		}
	}
	c.pages = append(c.pages, p)
	sortPages(c.pages)
	return nil
}

func (c *Content) MarshalJSON() ([]byte, error) {
	out := struct {
		Kind     ContentKind `json:"kind"`
		Pages    []*Page     `json:"pages"`
		Markdown *string     `json:"markdown"`
	}{Kind: c.kind, Pages: c.Pages()}
	if c.kind == ContentMarkdown {
		md := c.markdown
		out.Markdown = &md
	}
	return json.Marshal(out)
}
