package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var hiddenStyle = regexp.MustCompile(`(?i)display\s*:\s*none|visibility\s*:\s*hidden`)

// engineHTML is an engine response reduced to its content.
type engineHTML struct {
	Title string
	Body  string
}

// cleanHTML parses an engine response, keeps the <title> text and renders
// the body without scripts, styles, navigation or hidden elements.
func cleanHTML(src string) (engineHTML, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return engineHTML{}, fmt.Errorf("remote: parse html: %w", err)
	}
	out := engineHTML{Title: findTitle(doc)}
	stripBoilerplate(doc)

	body := findElement(doc, atom.Body)
	if body == nil {
		body = doc
	}
	var buf bytes.Buffer
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return engineHTML{}, fmt.Errorf("remote: render html: %w", err)
		}
	}
	out.Body = buf.String()
	return out, nil
}

func findTitle(n *html.Node) string {
	t := findElement(n, atom.Title)
	if t == nil || t.FirstChild == nil {
		return ""
	}
	return strings.Join(strings.Fields(t.FirstChild.Data), " ")
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func stripBoilerplate(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && boilerplate(c) {
			n.RemoveChild(c)
		} else {
			stripBoilerplate(c)
		}
		c = next
	}
}

func boilerplate(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Nav, atom.Footer, atom.Template:
		return true
	}
	for _, a := range n.Attr {
		if a.Key == "style" && hiddenStyle.MatchString(a.Val) {
			return true
		}
		if a.Key == "hidden" {
			return true
		}
	}
	return false
}
