package inspect

import (
	"fmt"
	"os"

	"github.com/ledongthuc/pdf"
)

// PlainTextReader reads pages with ledongthuc/pdf, which decodes fonts and
// yields cleaner text than raw content streams for most producers.
type PlainTextReader struct{}

func (PlainTextReader) Open(path string) (p Pages, err error) {
	defer guard("pdf open", &err)
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pdf open: %w", err)
	}
	return &plainPages{f: f, r: r}, nil
}

type plainPages struct {
	f *os.File
	r *pdf.Reader
}

func (p *plainPages) Count() int { return p.r.NumPage() }

func (p *plainPages) Text(page int) (text string, err error) {
	defer guard("pdf text", &err)
	pg := p.r.Page(page)
	if pg.V.IsNull() {
		return "", nil
	}
	return pg.GetPlainText(nil)
}

func (p *plainPages) HasImage(page int) (ok bool, err error) {
	defer guard("pdf images", &err)
	pg := p.r.Page(page)
	if pg.V.IsNull() {
		return false, nil
	}
	xobjects := pg.Resources().Key("XObject")
	if xobjects.IsNull() {
		return false, nil
	}
	for _, name := range xobjects.Keys() {
		if xobjects.Key(name).Key("Subtype").Name() == "Image" {
			return true, nil
		}
	}
	return false, nil
}

func (p *plainPages) Close() error { return p.f.Close() }
