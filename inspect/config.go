package inspect

import (
	"slices"
	"strings"

	"github.com/hazyhaar/docroute/document"
)

// Reader kinds.
const (
	KindPDFCPU    = "pdfcpu"
	KindPlainText = "plaintext"
)

// Config controls scanned detection and language sampling.
type Config struct {
	Kind string `yaml:"kind" json:"kind"`
	// ScannedPageRatioThreshold: a document is scanned when
	// image_only_pages/page_count >= this value.
	ScannedPageRatioThreshold float64 `yaml:"scanned_page_ratio_threshold" json:"scanned_page_ratio_threshold"`
	// MinTextChars: pages with fewer characters, after trimming, count
	// as having no text.
	MinTextChars        int `yaml:"min_text_chars" json:"min_text_chars"`
	LanguageSamplePages int `yaml:"language_sample_pages" json:"language_sample_pages"`
	LanguageMinChars    int `yaml:"language_min_chars" json:"language_min_chars"`
}

// DefaultConfig returns the pdfcpu reader with a 0.7 threshold, 20 chars per
// text page, and language detection over the first 5 pages when they hold at
// least 200 characters.
func DefaultConfig() Config {
	return Config{
		Kind:                      KindPDFCPU,
		ScannedPageRatioThreshold: 0.7,
		MinTextChars:              20,
		LanguageSamplePages:       5,
		LanguageMinChars:          200,
	}
}

// Validate checks value ranges and the reader kind. An empty kind is
// accepted and means pdfcpu.
func (c Config) Validate() error {
	if c.Kind != "" && !slices.Contains(ReaderKinds(), c.Kind) {
		return document.Invalid("inspection.kind", "unknown reader %q (known: %s)", c.Kind, strings.Join(ReaderKinds(), ", "))
	}
	if c.ScannedPageRatioThreshold < 0 || c.ScannedPageRatioThreshold > 1 {
		return document.Invalid("inspection.scanned_page_ratio_threshold", "must be between 0.0 and 1.0")
	}
	if c.MinTextChars < 0 {
		return document.Invalid("inspection.min_text_chars", "must be >= 0")
	}
	if c.LanguageSamplePages < 1 {
		return document.Invalid("inspection.language_sample_pages", "must be >= 1")
	}
	if c.LanguageMinChars < 0 {
		return document.Invalid("inspection.language_min_chars", "must be >= 0")
	}
	return nil
}
