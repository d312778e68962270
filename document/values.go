package document

import "strings"

// DocumentID identifies a document. Construct with NewDocumentID.
type DocumentID string

// NewDocumentID validates v and returns it as a DocumentID.
func NewDocumentID(v string) (DocumentID, error) {
	if strings.TrimSpace(v) == "" {
		return "", Invalid("document_id", "cannot be empty")
	}
	return DocumentID(v), nil
}

func (id DocumentID) String() string { return string(id) }

// TaskID identifies a parsing task. Construct with NewTaskID.
type TaskID string

// NewTaskID validates v and returns it as a TaskID.
func NewTaskID(v string) (TaskID, error) {
	if strings.TrimSpace(v) == "" {
		return "", Invalid("task_id", "cannot be empty")
	}
	return TaskID(v), nil
}

func (id TaskID) String() string { return string(id) }

// SourceType says where a document came from.
type SourceType string

const (
	SourceLocalFile     SourceType = "local_file"
	SourceURL           SourceType = "url"
	SourceObjectStorage SourceType = "object_storage"
	SourceRawBytes      SourceType = "raw_bytes"
)

func (t SourceType) valid() bool {
	switch t {
	case SourceLocalFile, SourceURL, SourceObjectStorage, SourceRawBytes:
		return true
	}
	return false
}

// Source is the immutable origin of a document.
type Source struct {
	URI      string     `json:"uri"`
	Type     SourceType `json:"source_type"`
	MIMEType string     `json:"mime_type,omitempty"` // empty when unknown
}

// NewSource validates and returns a Source.
func NewSource(uri string, typ SourceType, mimeType string) (Source, error) {
	if strings.TrimSpace(uri) == "" {
		return Source{}, Invalid("uri", "document source URI cannot be empty")
	}
	if !typ.valid() {
		return Source{}, Invalid("source_type", "unknown source type %q", typ)
	}
	return Source{URI: uri, Type: typ, MIMEType: mimeType}, nil
}

// BoundingBox is a rectangular region on a page.
type BoundingBox struct {
	X0         float64 `json:"x0"`
	Y0         float64 `json:"y0"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	Normalized bool    `json:"normalized"`
}

// NewBoundingBox validates the corner ordering and, for normalized boxes,
// that every coordinate lies in [0, 1].
func NewBoundingBox(x0, y0, x1, y1 float64, normalized bool) (BoundingBox, error) {
	if x0 >= x1 {
		return BoundingBox{}, Invalid("bbox", "x0 must be less than x1")
	}
	if y0 >= y1 {
		return BoundingBox{}, Invalid("bbox", "y0 must be less than y1")
	}
	if normalized {
		for _, v := range [...]float64{x0, y0, x1, y1} {
			if v < 0 || v > 1 {
				return BoundingBox{}, Invalid("bbox", "normalized bounding boxes must have coordinates in [0.0, 1.0]")
			}
		}
	}
	return BoundingBox{X0: x0, Y0: y0, X1: x1, Y1: y1, Normalized: normalized}, nil
}

// ParseOptions tunes what a parser extracts. The zero value is not the
// default; use DefaultParseOptions.
type ParseOptions struct {
	ExtractTables bool   `json:"extract_tables"`
	ExtractImages bool   `json:"extract_images"`
	ExtractText   bool   `json:"extract_text"`
	LanguageHint  string `json:"language_hint,omitempty"`
}

// DefaultParseOptions extracts everything with no language hint.
func DefaultParseOptions() ParseOptions {
	return ParseOptions{ExtractTables: true, ExtractImages: true, ExtractText: true}
}

// Validate rejects a language hint made only of whitespace.
func (o ParseOptions) Validate() error {
	if o.LanguageHint != "" && strings.TrimSpace(o.LanguageHint) == "" {
		return Invalid("language_hint", "cannot be blank")
	}
	return nil
}
