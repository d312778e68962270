// Package document holds the parsing domain model: documents with their
// extracted content, and the parsing task state machine that produces them.
//
// Entities validate their invariants at construction and expose read-only
// accessors; a Document owns its Content, a Content owns its Pages, a Page
// owns its blocks. None of the types are safe for concurrent mutation; each
// in-flight request owns its own ParsingTask and Document.
package document

import (
	"encoding/json"
	"maps"
	"time"
)

// Document is a parsed document.
type Document struct {
	id        DocumentID
	source    Source
	content   *Content
	metadata  map[string]string
	createdAt time.Time
}

// NewDocument builds a Document. A nil content means empty BLOCKS content.
// The metadata map is copied.
func NewDocument(id DocumentID, source Source, content *Content, metadata map[string]string) (*Document, error) {
	if id == "" {
		return nil, Invalid("document_id", "cannot be empty")
	}
	if source.URI == "" {
		return nil, Invalid("source", "document source URI cannot be empty")
	}
	if content == nil {
		content = emptyBlocks()
	}
	md := make(map[string]string, len(metadata))
	maps.Copy(md, metadata)
	return &Document{
		id:        id,
		source:    source,
		content:   content,
		metadata:  md,
		createdAt: time.Now().UTC(),
	}, nil
}

func (d *Document) ID() DocumentID       { return d.id }
func (d *Document) Source() Source       { return d.source }
func (d *Document) Content() *Content    { return d.content }
func (d *Document) CreatedAt() time.Time { return d.createdAt }

// Pages is shorthand for Content().Pages().
func (d *Document) Pages() []*Page { return d.content.Pages() }

// Markdown is shorthand for Content().Markdown().
func (d *Document) Markdown() (string, bool) { return d.content.Markdown() }

// Metadata returns a copy of the metadata map.
func (d *Document) Metadata() map[string]string { return maps.Clone(d.metadata) }

// SetMetadata sets one metadata entry.
func (d *Document) SetMetadata(key, value string) { d.metadata[key] = value }

// AddPage inserts p keeping pages sorted. It fails on MARKDOWN content or when
// the page number is already present.
func (d *Document) AddPage(p *Page) error { return d.content.addPage(p) }

// GetPage returns the page with the given number, or nil.
func (d *Document) GetPage(number int) *Page {
	for _, p := range d.content.pages {
		if p.number == number {
			return p
		}
	}
	return nil
}

// AllBlocks returns every block across pages, in page then block order.
func (d *Document) AllBlocks() []ContentBlock {
	var out []ContentBlock
	for _, p := range d.content.pages {
		out = append(out, p.blocks...)
	}
	return out
}

func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID        DocumentID        `json:"document_id"`
		Source    Source            `json:"source"`
		Content   *Content          `json:"content"`
		Metadata  map[string]string `json:"metadata"`
		CreatedAt time.Time         `json:"created_at"`
	}{d.id, d.source, d.content, d.metadata, d.createdAt})
}
