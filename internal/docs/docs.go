// internal/docs/docs.go
// Package docs retrieves API documentation text for the synthesizers. HTML
// pages are reduced to their visible text; JSON and plain text pass through.
package docs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// MaxLength is the documentation budget handed to the model.
const MaxLength = 80000

// Fetcher retrieves documentation over HTTP.
type Fetcher struct {
	http *http.Client
}

// NewFetcher creates a Fetcher.
func NewFetcher() *Fetcher {
	return &Fetcher{
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style|noscript)\b.*?</(script|style|noscript)>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	spaceRe  = regexp.MustCompile(`[ \t]+`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
)

// Fetch retrieves the document at rawURL with optional headers and query
// parameters and returns its normalized text. An empty URL yields empty text.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, headers, query map[string]string) (string, error) {
	if rawURL == "" {
		return "", nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid documentation URL %q: %w", rawURL, err)
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	if len(query) > 0 {
		q := u.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch documentation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("documentation fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read documentation: %w", err)
	}

	text := string(body)
	if isHTMLDoc(resp.Header.Get("Content-Type"), text) {
		text = StripHTML(text)
	}
	return text, nil
}

func isHTMLDoc(contentType, body string) bool {
	if strings.Contains(contentType, "text/html") {
		return true
	}
	trimmed := strings.TrimSpace(strings.ToLower(body))
	return strings.HasPrefix(trimmed, "<!doctype html") || strings.HasPrefix(trimmed, "<html")
}

// StripHTML removes markup and collapses whitespace so the text fits the
// model's documentation budget.
func StripHTML(html string) string {
	text := scriptRe.ReplaceAllString(html, " ")
	text = tagRe.ReplaceAllString(text, "\n")
	text = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'", "&nbsp;", " ").Replace(text)
	text = spaceRe.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	text = strings.Join(lines, "\n")
	text = blankRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Truncate clips text to the model documentation budget.
func Truncate(text string) string {
	if len(text) > MaxLength {
		return text[:MaxLength]
	}
	return text
}
