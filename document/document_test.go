package document

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func testSource(t *testing.T) Source {
	t.Helper()
	src, err := NewSource("file:///tmp/a.pdf", SourceLocalFile, "")
	if err != nil {
		t.Fatal(err)
	}
	return src
}

func testBox(t *testing.T) BoundingBox {
	t.Helper()
	bb, err := NewBoundingBox(0, 0, 1, 1, true)
	if err != nil {
		t.Fatal(err)
	}
	return bb
}

func mustPage(t *testing.T, n int, blocks ...ContentBlock) *Page {
	t.Helper()
	p, err := NewPage(n, blocks...)
	if err != nil {
		t.Fatalf("NewPage(%d): %v", n, err)
	}
	return p
}

func TestIDs_RejectBlank(t *testing.T) {
	if _, err := NewDocumentID("  "); !errors.Is(err, ErrValidation) {
		t.Fatalf("NewDocumentID blank: got %v", err)
	}
	if _, err := NewTaskID(""); !errors.Is(err, ErrValidation) {
		t.Fatalf("NewTaskID empty: got %v", err)
	}
	id, err := NewTaskID("task-1")
	if err != nil || id != TaskID("task-1") {
		t.Fatalf("NewTaskID: %q %v", id, err)
	}
}

func TestSource_Validation(t *testing.T) {
	if _, err := NewSource(" ", SourceURL, ""); err == nil {
		t.Fatal("expected error for blank uri")
	}
	if _, err := NewSource("s3://b/k", SourceType("ftp"), ""); err == nil {
		t.Fatal("expected error for unknown source type")
	}
	src, err := NewSource("s3://b/k", SourceObjectStorage, "application/pdf")
	if err != nil {
		t.Fatal(err)
	}
	if src.MIMEType != "application/pdf" {
		t.Errorf("MIMEType = %q", src.MIMEType)
	}
}

func TestBoundingBox(t *testing.T) {
	tests := []struct {
		name                 string
		x0, y0, x1, y1       float64
		normalized, wantFail bool
	}{
		{"ok normalized", 0, 0, 0.5, 0.5, true, false},
		{"ok absolute", 10, 20, 300, 400, false, false},
		{"x inverted", 0.5, 0, 0.4, 1, true, true},
		{"y equal", 0, 0.3, 1, 0.3, true, true},
		{"normalized out of range", 0, 0, 1.2, 1, true, true},
		{"absolute may exceed one", 0, 0, 2, 2, false, false},
	}
	for _, tt := range tests {
		_, err := NewBoundingBox(tt.x0, tt.y0, tt.x1, tt.y1, tt.normalized)
		if (err != nil) != tt.wantFail {
			t.Errorf("%s: err = %v, wantFail %v", tt.name, err, tt.wantFail)
		}
	}
}

func TestBlocks_Validation(t *testing.T) {
	bb := testBox(t)
	bad := 1.5
	if _, err := NewTextBlock("", bb, "hi", nil); err == nil {
		t.Error("text block: expected error for empty id")
	}
	if _, err := NewTextBlock("b1", bb, "  ", nil); err == nil {
		t.Error("text block: expected error for blank text")
	}
	if _, err := NewTextBlock("b1", bb, "hi", &bad); err == nil {
		t.Error("text block: expected error for confidence > 1")
	}
	if _, err := NewTableBlock("t1", bb, nil); err == nil {
		t.Error("table: expected error for no rows")
	}
	if _, err := NewTableBlock("t1", bb, [][]string{{"a"}, {}}); err == nil {
		t.Error("table: expected error for empty row")
	}
	if _, err := NewImageBlock("i1", bb, " "); err == nil {
		t.Error("image: expected error for blank description")
	}
	img, err := NewImageBlock("i1", bb, "")
	if err != nil {
		t.Fatalf("image without description: %v", err)
	}
	if img.Kind() != BlockImage {
		t.Errorf("Kind = %s", img.Kind())
	}
}

func TestTableBlock_CopiesCells(t *testing.T) {
	cells := [][]string{{"a", "b"}}
	tb, err := NewTableBlock("t1", testBox(t), cells)
	if err != nil {
		t.Fatal(err)
	}
	cells[0][0] = "mutated"
	if tb.Cells[0][0] != "a" {
		t.Fatal("table block shares caller's cell storage")
	}
}

func TestPage_DuplicateBlockID(t *testing.T) {
	bb := testBox(t)
	a, _ := NewTextBlock("b1", bb, "one", nil)
	b, _ := NewTextBlock("b1", bb, "two", nil)
	if _, err := NewPage(1, a, b); err == nil {
		t.Fatal("expected duplicate block_id error")
	}
	p := mustPage(t, 1, a)
	if err := p.AddBlock(b); err == nil {
		t.Fatal("AddBlock: expected duplicate block_id error")
	}
	if _, err := NewPage(0); err == nil {
		t.Fatal("expected error for page number 0")
	}
}

func TestFromPages_DuplicateNumbers(t *testing.T) {
	_, err := FromPages([]*Page{mustPage(t, 1), mustPage(t, 1)})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("got %v, want validation error", err)
	}
}

func TestFromPages_SortsCopy(t *testing.T) {
	in := []*Page{mustPage(t, 2), mustPage(t, 1)}
	c, err := FromPages(in)
	if err != nil {
		t.Fatal(err)
	}
	pages := c.Pages()
	if pages[0].Number() != 1 || pages[1].Number() != 2 {
		t.Fatalf("order = [%d %d], want [1 2]", pages[0].Number(), pages[1].Number())
	}
	if in[0].Number() != 2 {
		t.Fatal("FromPages reordered the caller's slice")
	}
	if c.Kind() != ContentBlocks {
		t.Fatalf("Kind = %s", c.Kind())
	}
	if _, ok := c.Markdown(); ok {
		t.Fatal("BLOCKS content must not report markdown")
	}
}

func TestFromMarkdown(t *testing.T) {
	if _, err := FromMarkdown("   \n"); err == nil {
		t.Fatal("expected error for blank markdown")
	}
	c, err := FromMarkdown("# X")
	if err != nil {
		t.Fatal(err)
	}
	doc, err := NewDocument("doc-1", testSource(t), c, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := doc.Pages(); len(got) != 0 {
		t.Fatalf("pages = %d, want 0", len(got))
	}
	if doc.Content().Kind() != ContentMarkdown {
		t.Fatalf("kind = %s", doc.Content().Kind())
	}
	md, ok := doc.Markdown()
	if !ok || md != "# X" {
		t.Fatalf("Markdown() = %q, %v", md, ok)
	}
	for _, n := range []int{1, 2, 99} {
		if err := doc.AddPage(mustPage(t, n)); err == nil {
			t.Fatalf("AddPage(%d) on markdown document must fail", n)
		}
	}
}

func TestDocument_AddPage(t *testing.T) {
	doc, err := NewDocument("doc-1", testSource(t), nil, map[string]string{"k": "v"})
	if err != nil {
		t.Fatal(err)
	}
	if doc.Content().Kind() != ContentBlocks {
		t.Fatalf("default content kind = %s", doc.Content().Kind())
	}
	for _, n := range []int{3, 1, 2} {
		if err := doc.AddPage(mustPage(t, n)); err != nil {
			t.Fatalf("AddPage(%d): %v", n, err)
		}
	}
	if err := doc.AddPage(mustPage(t, 2)); err == nil {
		t.Fatal("expected duplicate page error")
	}
	var got []int
	for _, p := range doc.Pages() {
		got = append(got, p.Number())
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("pages = %v, want [1 2 3]", got)
	}
	if doc.GetPage(2) == nil || doc.GetPage(7) != nil {
		t.Fatal("GetPage lookup wrong")
	}
}

func TestDocument_AllBlocks(t *testing.T) {
	bb := testBox(t)
	t1, _ := NewTextBlock("a", bb, "alpha", nil)
	t2, _ := NewTextBlock("b", bb, "beta", nil)
	t3, _ := NewTextBlock("a", bb, "gamma", nil) // same id on another page is fine
	c, err := FromPages([]*Page{mustPage(t, 2, t3), mustPage(t, 1, t1, t2)})
	if err != nil {
		t.Fatal(err)
	}
	doc, _ := NewDocument("doc-1", testSource(t), c, nil)
	blocks := doc.AllBlocks()
	if len(blocks) != 3 {
		t.Fatalf("blocks = %d", len(blocks))
	}
	if blocks[2].(*TextBlock).Text != "gamma" {
		t.Fatalf("last block = %q, want gamma", blocks[2].(*TextBlock).Text)
	}
}

func TestDocument_MetadataIsCopied(t *testing.T) {
	md := map[string]string{"a": "1"}
	doc, _ := NewDocument("doc-1", testSource(t), nil, md)
	md["a"] = "2"
	if doc.Metadata()["a"] != "1" {
		t.Fatal("document shares caller's metadata map")
	}
	doc.SetMetadata("title", "T")
	if doc.Metadata()["title"] != "T" {
		t.Fatal("SetMetadata not applied")
	}
}

func TestDocument_JSON(t *testing.T) {
	c, _ := FromMarkdown("# Title")
	doc, _ := NewDocument("doc-1", testSource(t), c, nil)
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	for _, want := range []string{`"document_id":"doc-1"`, `"kind":"markdown"`, `"pages":[]`, `"markdown":"# Title"`} {
		if !strings.Contains(s, want) {
			t.Errorf("json missing %s: %s", want, s)
		}
	}
}
