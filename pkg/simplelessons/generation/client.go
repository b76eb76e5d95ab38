// Package generation talks to the external HTML generation service.
//
// The service exposes two JSON endpoints: /generate_style turns style and
// structure prompts into a sample template, /generate_content turns a lesson
// prompt and a template into lesson HTML. Deployments that mount them
// elsewhere (the Python backend uses a trailing slash) set WithEndpoints.
// Nothing here touches storage.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultStyle is used when the caller leaves the style prompt empty.
	DefaultStyle = "Strict, Comfortaa font"

	// DefaultStructure is used when the caller leaves the structure prompt empty.
	DefaultStructure = "Introduction, main part with a bullet list, conclusion"

	// DefaultTimeout bounds a generation call unless WithTimeout says otherwise.
	DefaultTimeout = 2 * time.Minute

	DefaultStylePath   = "/generate_style"
	DefaultContentPath = "/generate_content"

	// responses larger than this are rejected
	maxResponseBytes = 8 << 20
)

// ErrGenerationFailed wraps every failure of the generation service.
var ErrGenerationFailed = errors.New("generation failed")

// Generator produces HTML documents from prompts.
type Generator interface {
	GenerateStyle(ctx context.Context, style, structure string) (string, error)
	GenerateContent(ctx context.Context, prompt, templateHTML string) (string, error)
}

// Client is an HTTP Generator.
type Client struct {
	baseURL     string
	stylePath   string
	contentPath string
	httpClient  *http.Client
	timeout     time.Duration
	logger      *slog.Logger
}

// ClientOption is a functional option for configuring a Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout bounds every call to the generation service. The HTTP client
// passed to WithHTTPClient is copied, never modified.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithEndpoints overrides the style and content paths. Empty values keep
// the defaults.
func WithEndpoints(stylePath, contentPath string) ClientOption {
	return func(c *Client) {
		if stylePath != "" {
			c.stylePath = stylePath
		}
		if contentPath != "" {
			c.contentPath = contentPath
		}
	}
}

// WithLogger sets the logger used for failed calls
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		stylePath:   DefaultStylePath,
		contentPath: DefaultContentPath,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	switch {
	case c.httpClient == nil:
		timeout := c.timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.httpClient = &http.Client{Timeout: timeout}
	case c.timeout > 0:
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c
}

type styleRequest struct {
	Style     string `json:"style"`
	Structure string `json:"structure"`
}

type styleResponse struct {
	HTMLCode string `json:"html_code"`
	Error    string `json:"error"`
}

type contentRequest struct {
	Content  string `json:"content"`
	HTMLCode string `json:"html_code"`
}

type contentResponse struct {
	Lesson string `json:"lesson"`
}

// GenerateStyle asks for a sample template. Empty prompts fall back to
// DefaultStyle and DefaultStructure.
func (c *Client) GenerateStyle(ctx context.Context, style, structure string) (string, error) {
	if strings.TrimSpace(style) == "" {
		style = DefaultStyle
	}
	if strings.TrimSpace(structure) == "" {
		structure = DefaultStructure
	}
	req := styleRequest{
		Style:     fmt.Sprintf("Style request: %s, Structure request: %s", style, structure),
		Structure: structure,
	}

	var resp styleResponse
	if err := c.post(ctx, c.stylePath, req, &resp); err != nil {
		return "", err
	}
	if resp.HTMLCode == "" {
		msg := resp.Error
		if msg == "" {
			msg = "no HTML returned"
		}
		c.logger.ErrorContext(ctx, "Style generation returned no HTML", "error", msg)
		return "", fmt.Errorf("%w: %s", ErrGenerationFailed, msg)
	}
	return resp.HTMLCode, nil
}

// GenerateContent asks for a lesson built from prompt in the layout of
// templateHTML.
func (c *Client) GenerateContent(ctx context.Context, prompt, templateHTML string) (string, error) {
	var resp contentResponse
	if err := c.post(ctx, c.contentPath, contentRequest{Content: prompt, HTMLCode: templateHTML}, &resp); err != nil {
		return "", err
	}
	if resp.Lesson == "" {
		c.logger.ErrorContext(ctx, "Lesson generation returned no content")
		return "", fmt.Errorf("%w: no lesson content returned", ErrGenerationFailed)
	}
	return resp.Lesson, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%w: encode request: %v", ErrGenerationFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "Generation request failed", "path", path, "err", err)
		return fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.ErrorContext(ctx, "Generation service returned an error status", "path", path, "status", resp.StatusCode)
		return fmt.Errorf("%w: status %s", ErrGenerationFailed, resp.Status)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		c.logger.ErrorContext(ctx, "Malformed generation response", "path", path, "err", err)
		return fmt.Errorf("%w: decode response: %v", ErrGenerationFailed, err)
	}
	return nil
}

// Placeholder renders the error document shown instead of generated HTML.
func Placeholder(err error) string {
	return fmt.Sprintf("<div class=\"generation-error\"><p>Generation error: %s</p></div>", html.EscapeString(err.Error()))
}
