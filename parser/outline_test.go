package parser

import "testing"

func TestExtractOutline(t *testing.T) {
	md := "Intro paragraph\n\n## Scope\n\n# The *Real* Title\n\nText\n\n### Details `code`\n"
	o := ExtractOutline([]byte(md))
	if o.Title != "The Real Title" {
		t.Fatalf("title = %q", o.Title)
	}
	want := []Heading{{2, "Scope"}, {1, "The Real Title"}, {3, "Details code"}}
	if len(o.Headings) != len(want) {
		t.Fatalf("headings = %+v", o.Headings)
	}
	for i, h := range want {
		if o.Headings[i] != h {
			t.Fatalf("heading[%d] = %+v, want %+v", i, o.Headings[i], h)
		}
	}
}

func TestExtractOutline_FallbackTitle(t *testing.T) {
	o := ExtractOutline([]byte("## Page 1\n\nbody\n"))
	if o.Title != "Page 1" {
		t.Fatalf("title = %q", o.Title)
	}
}

func TestExtractOutline_NoHeadings(t *testing.T) {
	o := ExtractOutline([]byte("just text"))
	if o.Title != "" || len(o.Headings) != 0 || o.Headings == nil {
		t.Fatalf("outline = %+v", o)
	}
}
