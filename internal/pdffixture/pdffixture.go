// Package pdffixture builds small, structurally valid PDFs for tests.
package pdffixture

import (
	"strconv"
	"strings"
)

// Page describes one fixture page. Text is drawn with a single Tj; Image
// adds a 1x1 image XObject drawn on the page.
type Page struct {
	Text  string
	Image bool
}

// Text returns a PDF with one text page per argument.
func Text(pages ...string) []byte {
	ps := make([]Page, len(pages))
	for i, p := range pages {
		ps[i] = Page{Text: p}
	}
	return Build(ps...)
}

// ImageOnly returns a PDF with n pages that carry an image and no text.
func ImageOnly(n int) []byte {
	ps := make([]Page, n)
	for i := range ps {
		ps[i] = Page{Image: true}
	}
	return Build(ps...)
}

// Build writes a PDF with correct xref offsets for the given pages.
//
// Object layout: 1 catalog, 2 pages, 3 font, then per page: page, content
// stream and, when Image is set, the image XObject.
func Build(pages ...Page) []byte {
	type obj struct {
		num  int
		body string
	}
	var objs []obj
	next := 4
	var kids []string
	for _, p := range pages {
		pageNum, contentNum := next, next+1
		next += 2
		imgNum := 0
		if p.Image {
			imgNum = next
			next++
		}
		kids = append(kids, strconv.Itoa(pageNum)+" 0 R")

		var stream strings.Builder
		if p.Text != "" {
			stream.WriteString("BT\n/F1 12 Tf\n72 720 Td\n(" + escape(p.Text) + ") Tj\nET")
		}
		resources := "/Font << /F1 3 0 R >>"
		if p.Image {
			if stream.Len() > 0 {
				stream.WriteByte('\n')
			}
			stream.WriteString("q 100 0 0 100 72 592 cm /Im1 Do Q")
			resources += " /XObject << /Im1 " + strconv.Itoa(imgNum) + " 0 R >>"
		}

		objs = append(objs, obj{pageNum, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents " +
			strconv.Itoa(contentNum) + " 0 R /Resources << " + resources + " >> >>"})
		objs = append(objs, obj{contentNum, "<< /Length " + strconv.Itoa(stream.Len()) + " >>\nstream\n" +
			stream.String() + "\nendstream"})
		if p.Image {
			img := "\x00\x00\x00"
			objs = append(objs, obj{imgNum, "<< /Type /XObject /Subtype /Image /Width 1 /Height 1 /ColorSpace /DeviceRGB /BitsPerComponent 8 /Length " +
				strconv.Itoa(len(img)) + " >>\nstream\n" + img + "\nendstream"})
		}
	}

	head := []obj{
		{1, "<< /Type /Catalog /Pages 2 0 R >>"},
		{2, "<< /Type /Pages /Kids [" + strings.Join(kids, " ") + "] /Count " + strconv.Itoa(len(pages)) + " >>"},
		{3, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>"},
	}
	objs = append(head, objs...)

	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, next)
	for _, o := range objs {
		offsets[o.num] = b.Len()
		b.WriteString(strconv.Itoa(o.num) + " 0 obj\n" + o.body + "\nendobj\n")
	}
	xref := b.Len()
	b.WriteString("xref\n0 " + strconv.Itoa(next) + "\n")
	b.WriteString("0000000000 65535 f \n")
	for i := 1; i < next; i++ {
		b.WriteString(pad(offsets[i]) + " 00000 n \n")
	}
	b.WriteString("trailer\n<< /Size " + strconv.Itoa(next) + " /Root 1 0 R >>\nstartxref\n")
	b.WriteString(strconv.Itoa(xref))
	b.WriteString("\n%%EOF\n")
	return []byte(b.String())
}

func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "(", `\(`)
	return strings.ReplaceAll(s, ")", `\)`)
}

func pad(n int) string {
	s := strconv.Itoa(n)
	return strings.Repeat("0", 10-len(s)) + s
}
