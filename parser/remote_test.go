package parser

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/docroute/document"
)

func remoteSpec(url string, extra map[string]any) Config {
	opts := map[string]any{"url": url, "allow_private": true}
	for k, v := range extra {
		opts[k] = v
	}
	return Config{Name: KindRemote, Options: opts}
}

func TestRemoteConfig_Validate(t *testing.T) {
	prompt := "describe"
	scale := 0.0
	cases := []struct {
		name    string
		cfg     RemoteConfig
		wantErr bool
	}{
		{"ok", RemoteConfig{URL: "http://127.0.0.1:5001", AllowPrivate: true}, false},
		{"missing url", RemoteConfig{}, true},
		{"private without opt-in", RemoteConfig{URL: "http://127.0.0.1:5001"}, true},
		{"bad scheme", RemoteConfig{URL: "ftp://engine", AllowPrivate: true}, true},
		{"prompt without description", RemoteConfig{URL: "http://127.0.0.1", AllowPrivate: true, PicturePrompt: &prompt}, true},
		{"prompt with description", RemoteConfig{URL: "http://127.0.0.1", AllowPrivate: true, PicturePrompt: &prompt, PictureDescription: true}, false},
		{"zero scale", RemoteConfig{URL: "http://127.0.0.1", AllowPrivate: true, ImagesScale: &scale}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, document.ErrValidation) {
				t.Fatalf("expected validation error: %v", err)
			}
		})
	}
}

func TestRemote_HTMLResponse(t *testing.T) {
	var gotOpts engineOptions
	var gotFile string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		gotFile = string(data)
		_ = json.Unmarshal([]byte(r.FormValue("options")), &gotOpts)

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, `<h1>Report</h1><script>alert(1)</script><p>Body <b>text</b></p>`)
	}))
	defer srv.Close()

	p, err := DefaultRegistry(nil).Create(remoteSpec(srv.URL, map[string]any{
		"picture_description": true,
		"picture_prompt":      "Describe the figure",
		"images_scale":        2.0,
	}))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	path := writePDF(t, []byte("%PDF-1.4 fake"))
	md, err := p.Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if gotFile != "%PDF-1.4 fake" {
		t.Fatalf("uploaded file = %q", gotFile)
	}
	if !gotOpts.PictureDescription || gotOpts.PicturePrompt == nil || *gotOpts.PicturePrompt != "Describe the figure" {
		t.Fatalf("options = %+v", gotOpts)
	}
	if gotOpts.ImagesScale == nil || *gotOpts.ImagesScale != 2.0 {
		t.Fatalf("images_scale = %v", gotOpts.ImagesScale)
	}
	if !strings.Contains(md, "# Report") || !strings.Contains(md, "**text**") {
		t.Fatalf("markdown:\n%s", md)
	}
	if strings.Contains(md, "alert") {
		t.Fatalf("script survived sanitising:\n%s", md)
	}
}

func TestRemote_HTMLPageTitleAndBoilerplate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, `<html><head><title>Annual
			Report</title><style>p{color:red}</style></head><body>
			<nav><a href="/">Home</a></nav>
			<p>Revenue grew.</p>
			<div style="display: none">tracking pixel</div>
			<footer>Page 1 of 9</footer>
			</body></html>`)
	}))
	defer srv.Close()

	p, err := DefaultRegistry(nil).Create(remoteSpec(srv.URL, nil))
	if err != nil {
		t.Fatal(err)
	}
	md, err := p.Parse(context.Background(), writePDF(t, []byte("%PDF-1.4")))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(md, "# Annual Report\n") {
		t.Fatalf("title not promoted:\n%s", md)
	}
	if !strings.Contains(md, "Revenue grew.") {
		t.Fatalf("body lost:\n%s", md)
	}
	for _, gone := range []string{"Home", "tracking pixel", "Page 1 of 9", "color:red"} {
		if strings.Contains(md, gone) {
			t.Errorf("%q survived:\n%s", gone, md)
		}
	}
}

func TestCleanHTML_KeepsExistingHeading(t *testing.T) {
	page, err := cleanHTML(`<title>Tab title</title><h1>Real title</h1><script>x()</script><p>text</p>`)
	if err != nil {
		t.Fatal(err)
	}
	if page.Title != "Tab title" {
		t.Errorf("title = %q", page.Title)
	}
	if strings.Contains(page.Body, "script") || !strings.Contains(page.Body, "<h1>Real title</h1>") {
		t.Errorf("body = %s", page.Body)
	}

	p, err := NewRemote(map[string]any{"url": "http://127.0.0.1:1", "allow_private": true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	md, err := p.(*remoteParser).fromHTML(`<title>Tab title</title><h1>Real title</h1>`)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(md, "Tab title") || !strings.Contains(md, "# Real title") {
		t.Errorf("markdown = %q", md)
	}
}

func TestRemote_MarkdownAndJSON(t *testing.T) {
	cases := []struct {
		contentType string
		body        string
		want        string
	}{
		{"text/markdown", "# Direct\n", "# Direct\n"},
		{"application/json", `{"markdown":"# From JSON"}`, "# From JSON"},
		{"application/json", `{"html":"<h2>Nested</h2>"}`, "## Nested"},
	}
	for _, tc := range cases {
		t.Run(tc.contentType+tc.want, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tc.contentType)
				io.WriteString(w, tc.body)
			}))
			defer srv.Close()
			p, err := DefaultRegistry(nil).Create(remoteSpec(srv.URL, nil))
			if err != nil {
				t.Fatal(err)
			}
			md, err := p.Parse(context.Background(), writePDF(t, []byte("%PDF")))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if strings.TrimSpace(md) != strings.TrimSpace(tc.want) {
				t.Fatalf("markdown = %q, want %q", md, tc.want)
			}
		})
	}
}

func TestRemote_EngineError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	p, err := DefaultRegistry(nil).Create(remoteSpec(srv.URL, nil))
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Parse(context.Background(), writePDF(t, []byte("%PDF")))
	if err == nil || !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "model not loaded") {
		t.Fatalf("expected engine error, got %v", err)
	}
}

func TestRemote_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/markdown")
	}))
	defer srv.Close()
	p, _ := DefaultRegistry(nil).Create(remoteSpec(srv.URL, nil))
	if _, err := p.Parse(context.Background(), writePDF(t, []byte("%PDF"))); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestRemote_TooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/markdown")
		io.WriteString(w, strings.Repeat("x", 64))
	}))
	defer srv.Close()
	p, _ := DefaultRegistry(nil).Create(remoteSpec(srv.URL, map[string]any{"max_response_bytes": 16}))
	if _, err := p.Parse(context.Background(), writePDF(t, []byte("%PDF"))); err == nil {
		t.Fatal("expected error for oversized response")
	}
}

func TestRemote_Timeout(t *testing.T) {
	p, err := DefaultRegistry(nil).Create(remoteSpec("http://127.0.0.1:1", map[string]any{"timeout": "50ms"}))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rp := p.(*remoteParser); rp.client.Timeout.String() != "50ms" {
		t.Fatalf("timeout = %v", rp.client.Timeout)
	}
}
