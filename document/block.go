package document

import "strings"

// BlockType tags a ContentBlock variant.
type BlockType string

const (
	BlockText  BlockType = "text"
	BlockTable BlockType = "table"
	BlockImage BlockType = "image"
)

// ContentBlock is one positioned unit of extracted content. The variants are
// *TextBlock, *TableBlock and *ImageBlock.
type ContentBlock interface {
	BlockID() string
	BBox() BoundingBox
	Kind() BlockType
}

type blockBase struct {
	ID     string      `json:"block_id"`
	Box    BoundingBox `json:"bbox"`
	BlockT BlockType   `json:"kind"`
}

func (b blockBase) BlockID() string   { return b.ID }
func (b blockBase) BBox() BoundingBox { return b.Box }
func (b blockBase) Kind() BlockType   { return b.BlockT }

func newBase(id string, bbox BoundingBox, kind BlockType) (blockBase, error) {
	if strings.TrimSpace(id) == "" {
		return blockBase{}, Invalid("block_id", "cannot be empty")
	}
	return blockBase{ID: id, Box: bbox, BlockT: kind}, nil
}

// TextBlock is a run of extracted text.
type TextBlock struct {
	blockBase
	Text string `json:"text"`
	// Confidence is nil when the extractor gave none.
	Confidence *float64 `json:"confidence,omitempty"`
}

// NewTextBlock validates text (non-blank) and confidence (in [0, 1] if set).
func NewTextBlock(id string, bbox BoundingBox, text string, confidence *float64) (*TextBlock, error) {
	base, err := newBase(id, bbox, BlockText)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, Invalid("text", "text block content cannot be empty")
	}
	if confidence != nil && (*confidence < 0 || *confidence > 1) {
		return nil, Invalid("confidence", "must be between 0.0 and 1.0")
	}
	return &TextBlock{blockBase: base, Text: text, Confidence: confidence}, nil
}

// TableBlock holds table cells row by row.
type TableBlock struct {
	blockBase
	Cells [][]string `json:"cells"`
}

// NewTableBlock requires at least one row and no empty rows. Cells are copied.
func NewTableBlock(id string, bbox BoundingBox, cells [][]string) (*TableBlock, error) {
	base, err := newBase(id, bbox, BlockTable)
	if err != nil {
		return nil, err
	}
	if len(cells) == 0 {
		return nil, Invalid("cells", "table must have at least one row")
	}
	rows := make([][]string, len(cells))
	for i, row := range cells {
		if len(row) == 0 {
			return nil, Invalid("cells", "table rows cannot be empty")
		}
		rows[i] = append([]string(nil), row...)
	}
	return &TableBlock{blockBase: base, Cells: rows}, nil
}

// ImageBlock marks an embedded picture, optionally described.
type ImageBlock struct {
	blockBase
	Description string `json:"description,omitempty"`
}

// NewImageBlock accepts an empty description (absent) but rejects a blank one.
func NewImageBlock(id string, bbox BoundingBox, description string) (*ImageBlock, error) {
	base, err := newBase(id, bbox, BlockImage)
	if err != nil {
		return nil, err
	}
	if description != "" && strings.TrimSpace(description) == "" {
		return nil, Invalid("description", "cannot be blank")
	}
	return &ImageBlock{blockBase: base, Description: description}, nil
}
