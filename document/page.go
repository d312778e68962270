package document

import (
	"cmp"
	"encoding/json"
	"slices"
)

// Page is a numbered page owning its blocks.
type Page struct {
	number int
	blocks []ContentBlock
}

// NewPage validates the page number (>= 1) and block_id uniqueness.
// The block slice is copied; the page owns its blocks from here on.
func NewPage(number int, blocks ...ContentBlock) (*Page, error) {
	if number < 1 {
		return nil, Invalid("page", "page number must be >= 1")
	}
	p := &Page{number: number, blocks: make([]ContentBlock, 0, len(blocks))}
	for _, b := range blocks {
		if err := p.AddBlock(b); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Number returns the 1-based page number.
func (p *Page) Number() int { return p.number }

// Blocks returns the blocks in order. The returned slice is a copy.
func (p *Page) Blocks() []ContentBlock { return slices.Clone(p.blocks) }

// AddBlock appends b unless a block with the same ID is already on the page.
func (p *Page) AddBlock(b ContentBlock) error {
	if b == nil {
		return Invalid("block", "cannot be nil")
	}
	for _, existing := range p.blocks {
		if existing.BlockID() == b.BlockID() {
			return Invalid("block_id", "duplicate block_id on page %d: %s", p.number, b.BlockID())
		}
	}
	p.blocks = append(p.blocks, b)
	return nil
}

func (p *Page) MarshalJSON() ([]byte, error) {
	blocks := p.blocks
	if blocks == nil {
		blocks = []ContentBlock{}
	}
	return json.Marshal(struct {
		Number int            `json:"number"`
		Blocks []ContentBlock `json:"blocks"`
	}{p.number, blocks})
}

func sortPages(pages []*Page) {
	slices.SortFunc(pages, func(a, b *Page) int { return cmp.Compare(a.number, b.number) })
}

func ensurePagesValid(pages []*Page) error {
	seen := make(map[int]struct{}, len(pages))
	for _, p := range pages {
		if p == nil {
			return Invalid("page", "cannot be nil")
		}
		if _, dup := seen[p.number]; dup {
			return Invalid("page", "duplicate page number: %d", p.number)
		}
		seen[p.number] = struct{}{}

		ids := make(map[string]struct{}, len(p.blocks))
		for _, b := range p.blocks {
			if _, dup := ids[b.BlockID()]; dup {
				return Invalid("block_id", "duplicate block_id: %s", b.BlockID())
			}
			ids[b.BlockID()] = struct{}{}
		}
	}
	return nil
}
