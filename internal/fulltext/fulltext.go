package fulltext

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

const (
	extractTimeout   = 20 * time.Second
	maxResponseBytes = 2 << 20
	defaultMaxChars  = 4000
)

// Extractor pulls an article's body text from its canonical link. The
// static readability pass handles most publisher pages; JS-heavy pages go
// through the render sidecar when one is configured.
type Extractor struct {
	renderURL string // render sidecar base URL, empty = static only
	client    *http.Client
	maxChars  int
}

func New(renderURL string) *Extractor {
	return &Extractor{
		renderURL: strings.TrimRight(renderURL, "/"),
		client:    &http.Client{Timeout: extractTimeout},
		maxChars:  defaultMaxChars,
	}
}

// Extract returns the readable body text of the page at url, capped at a
// few thousand runes.
func (e *Extractor) Extract(ctx context.Context, url string) (string, error) {
	text, staticErr := e.static(url)
	if staticErr == nil && text != "" {
		return e.cap(text), nil
	}

	if e.renderURL == "" {
		if staticErr != nil {
			return "", fmt.Errorf("fulltext: static extraction: %w", staticErr)
		}
		return "", fmt.Errorf("fulltext: page yielded no readable text")
	}

	if staticErr != nil {
		log.Printf("fulltext: static pass failed, trying render service: %v", staticErr)
	}
	text, err := e.rendered(ctx, url)
	if err != nil {
		return "", fmt.Errorf("fulltext: render fallback: %w", err)
	}
	if text == "" {
		return "", fmt.Errorf("fulltext: render service yielded no text")
	}
	return e.cap(text), nil
}

func (e *Extractor) static(url string) (string, error) {
	article, err := readability.FromURL(url, extractTimeout)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(article.TextContent), nil
}

type renderRequest struct {
	URL      string `json:"url"`
	MaxChars int    `json:"maxChars"`
}

type renderResponse struct {
	OK    bool   `json:"ok"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

func (e *Extractor) rendered(ctx context.Context, url string) (string, error) {
	body, err := json.Marshal(renderRequest{URL: url, MaxChars: e.maxChars})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.renderURL+"/render", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var rendered renderResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&rendered); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if !rendered.OK {
		return "", fmt.Errorf("render service: %s", rendered.Error)
	}
	return strings.TrimSpace(rendered.Text), nil
}

func (e *Extractor) cap(text string) string {
	rs := []rune(text)
	if len(rs) <= e.maxChars {
		return text
	}
	return string(rs[:e.maxChars]) + "…"
}
