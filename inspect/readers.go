package inspect

import (
	"fmt"
	"slices"
)

var readers = map[string]func() PageReader{
	KindPDFCPU:    func() PageReader { return PDFCPUReader{} },
	KindPlainText: func() PageReader { return PlainTextReader{} },
}

// ReaderKinds lists the page reader kinds, sorted.
func ReaderKinds() []string {
	kinds := make([]string, 0, len(readers))
	for k := range readers {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// NewReader returns the page reader for kind ("" = pdfcpu).
func NewReader(kind string) (PageReader, error) {
	if kind == "" {
		kind = KindPDFCPU
	}
	mk, ok := readers[kind]
	if !ok {
		return nil, fmt.Errorf("inspect: unknown reader %q", kind)
	}
	return mk(), nil
}

// guard turns a panic in a third-party PDF library into an error.
func guard(op string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%s: panic: %v", op, r)
	}
}
