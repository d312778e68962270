package inspect

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFCPUReader reads pages with pdfcpu. Text comes from the raw content
// stream text operators, images from the page's image XObjects.
type PDFCPUReader struct{}

func (PDFCPUReader) Open(path string) (p Pages, err error) {
	defer guard("pdfcpu open", &err)
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ctx, err := api.ReadValidateAndOptimize(f, model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}
	return &pdfcpuPages{ctx: ctx}, nil
}

type pdfcpuPages struct {
	ctx *model.Context
}

func (p *pdfcpuPages) Count() int { return p.ctx.PageCount }

func (p *pdfcpuPages) Text(page int) (text string, err error) {
	defer guard("pdfcpu text", &err)
	r, err := pdfcpu.ExtractPageContent(p.ctx, page)
	if err != nil {
		return "", err
	}
	if r == nil {
		return "", nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return ExtractStreamText(data), nil
}

func (p *pdfcpuPages) HasImage(page int) (ok bool, err error) {
	defer guard("pdfcpu images", &err)
	if p.ctx.Optimize == nil {
		return false, nil
	}
	return len(pdfcpu.ImageObjNrs(p.ctx, page)) > 0, nil
}

func (p *pdfcpuPages) Close() error { return nil }

// pdfStringRe matches PDF string literals in parentheses: (text here)
var pdfStringRe = regexp.MustCompile(`\(([^)]*)\)`)

// ExtractStreamText collects the strings shown by Tj, TJ and ' operators in
// a decoded content stream and normalises whitespace.
func ExtractStreamText(data []byte) string {
	var sb strings.Builder

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		switch {
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				sb.WriteString(decodePDFString(m[1]))
			}
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				if s := decodePDFString(m[1]); s != "" {
					sb.WriteByte('\n')
					sb.WriteString(s)
				}
			}
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
		case bytes.Equal(line, []byte("T*")):
			sb.WriteByte('\n')
		}
	}

	return cleanText(sb.String())
}

// decodePDFString handles the escape sequences of PDF literal strings.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch c := raw[i]; c {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '\\', '(', ')':
			sb.WriteByte(c)
		default:
			if c < '0' || c > '7' {
				sb.WriteByte(c)
				continue
			}
			// Up to three octal digits, e.g. \040.
			val := int(c - '0')
			for k := 0; k < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; k++ {
				i++
				val = val*8 + int(raw[i]-'0')
			}
			sb.WriteByte(byte(val))
		}
	}
	return sb.String()
}

// cleanText collapses whitespace runs and drops non-printable runes.
func cleanText(text string) string {
	var sb strings.Builder
	prevSpace := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsPrint(r):
			sb.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}
