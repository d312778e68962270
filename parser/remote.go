package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/docroute/document"
	"github.com/hazyhaar/docroute/horosafe"
	"github.com/hazyhaar/docroute/kit"
)

// RemoteConfig holds the remote adapter options. The picture options are
// forwarded to the conversion engine untouched.
type RemoteConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	// AllowPrivate permits engines on loopback or private networks.
	AllowPrivate          bool     `yaml:"allow_private"`
	PictureDescription    bool     `yaml:"picture_description"`
	PicturePrompt         *string  `yaml:"picture_prompt"`
	ImagesScale           *float64 `yaml:"images_scale"`
	GeneratePictureImages bool     `yaml:"generate_picture_images"`
	MaxResponseBytes      int64    `yaml:"max_response_bytes"`
}

func (c *RemoteConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = horosafe.MaxResponseBody
	}
}

// Validate checks the engine URL and picture option coherence.
func (c RemoteConfig) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return document.Invalid("parser.url", "url is required")
	}
	if err := horosafe.ValidateEndpoint(c.URL, c.AllowPrivate); err != nil {
		return document.Invalid("parser.url", "%v", err)
	}
	if c.PicturePrompt != nil && !c.PictureDescription {
		return document.Invalid("parser.picture_prompt", "picture_prompt requires picture_description=true")
	}
	if c.ImagesScale != nil && *c.ImagesScale <= 0 {
		return document.Invalid("parser.images_scale", "must be > 0")
	}
	return nil
}

// engineOptions is the JSON sent alongside the file.
type engineOptions struct {
	PictureDescription    bool     `json:"picture_description"`
	PicturePrompt         *string  `json:"picture_prompt,omitempty"`
	ImagesScale           *float64 `json:"images_scale,omitempty"`
	GeneratePictureImages bool     `json:"generate_picture_images"`
}

type remoteParser struct {
	cfg    RemoteConfig
	client *http.Client
	md     *converter.Converter
	policy *bluemonday.Policy
	logger *slog.Logger
}

// NewRemote builds an adapter that uploads the PDF to an HTTP conversion
// engine as multipart form data (fields "file" and "options") and accepts
// markdown, HTML, or JSON {"markdown"|"html": ...} back. HTML is stripped
// of boilerplate, sanitised and converted to markdown.
func NewRemote(opts map[string]any, logger *slog.Logger) (Parser, error) {
	var cfg RemoteConfig
	if err := kit.DecodeSpec(opts, &cfg); err != nil {
		return nil, document.Invalid("parser.options", "%v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &remoteParser{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		policy: bluemonday.UGCPolicy(),
		logger: logger,
	}, nil
}

func (p *remoteParser) Parse(ctx context.Context, path string) (string, error) {
	body, contentType, err := p.form(path)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, body)
	if err != nil {
		return "", fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "text/markdown, text/html;q=0.9, application/json;q=0.8")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("remote: %w", err)
	}
	defer resp.Body.Close()

	data, err := horosafe.LimitedReadAll(resp.Body, p.cfg.MaxResponseBytes)
	if err != nil {
		return "", fmt.Errorf("remote: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("remote: engine returned %d: %s", resp.StatusCode, snippet(data))
	}
	p.logger.Debug("remote: converted", "path", path, "status", resp.StatusCode, "bytes", len(data), "duration", time.Since(start))

	md, err := p.markdown(resp.Header.Get("Content-Type"), data)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(md) == "" {
		return "", fmt.Errorf("remote: engine returned empty content")
	}
	return md, nil
}

func (p *remoteParser) form(path string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", &document.IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", fmt.Errorf("remote: form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", &document.IOError{Op: "read", Path: path, Err: err}
	}
	opts, err := json.Marshal(engineOptions{
		PictureDescription:    p.cfg.PictureDescription,
		PicturePrompt:         p.cfg.PicturePrompt,
		ImagesScale:           p.cfg.ImagesScale,
		GeneratePictureImages: p.cfg.GeneratePictureImages,
	})
	if err != nil {
		return nil, "", fmt.Errorf("remote: options: %w", err)
	}
	if err := w.WriteField("options", string(opts)); err != nil {
		return nil, "", fmt.Errorf("remote: form: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("remote: form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func (p *remoteParser) markdown(contentType string, data []byte) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "text/html", "application/xhtml+xml":
		return p.fromHTML(string(data))
	case "application/json":
		var out struct {
			Markdown string `json:"markdown"`
			HTML     string `json:"html"`
		}
		if err := json.Unmarshal(data, &out); err != nil {
			return "", fmt.Errorf("remote: decode json: %w", err)
		}
		if out.Markdown != "" {
			return out.Markdown, nil
		}
		return p.fromHTML(out.HTML)
	default:
		return string(data), nil
	}
}

// fromHTML converts an engine page to markdown. The page <title> becomes
// the level-1 heading when the body carries no heading of its own.
func (p *remoteParser) fromHTML(src string) (string, error) {
	page, err := cleanHTML(src)
	if err != nil {
		return "", err
	}
	md, err := p.md.ConvertString(p.policy.Sanitize(page.Body), converter.WithDomain(p.cfg.URL))
	if err != nil {
		return "", fmt.Errorf("remote: html to markdown: %w", err)
	}
	if page.Title != "" && len(ExtractOutline([]byte(md)).Headings) == 0 {
		md = "# " + page.Title + "\n\n" + md
	}
	return md, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
