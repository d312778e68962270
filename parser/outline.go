package parser

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Heading is one markdown heading.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Outline is the heading structure of a markdown document. Title is the
// first level-1 heading, or the first heading of any level.
type Outline struct {
	Title    string    `json:"title,omitempty"`
	Headings []Heading `json:"headings"`
}

// ExtractOutline parses src as CommonMark and collects its headings.
func ExtractOutline(src []byte) Outline {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))
	out := Outline{Headings: []Heading{}}
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		out.Headings = append(out.Headings, Heading{Level: h.Level, Text: headingText(h, src)})
		return ast.WalkSkipChildren, nil
	})
	for _, h := range out.Headings {
		if h.Level == 1 {
			out.Title = h.Text
			break
		}
	}
	if out.Title == "" && len(out.Headings) > 0 {
		out.Title = out.Headings[0].Text
	}
	return out
}

func headingText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return string(bytes.TrimSpace(buf.Bytes()))
}
