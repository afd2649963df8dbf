package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/harun/freeagent/pkg/toolexecutor"
)

const (
	defaultSearchURL  = "https://html.duckduckgo.com/html/"
	defaultUserAgent  = "Mozilla/5.0 (compatible; FreeAgent/1.0)"
	defaultFetchLimit = 8000
	maxSearchResults  = 5
	maxFetchBytes     = 2 * 1024 * 1024
)

// WebOptions configures web_search and web_fetch.
type WebOptions struct {
	SearchURL  string
	UserAgent  string
	FetchLimit int
}

type webTools struct {
	client *http.Client
	opts   WebOptions
}

func newWebTools(client *http.Client, opts WebOptions) *webTools {
	if opts.SearchURL == "" {
		opts.SearchURL = defaultSearchURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = defaultFetchLimit
	}
	return &webTools{client: client, opts: opts}
}

func (w *webTools) definitions() []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		{
			Name:        "web_search",
			Description: "Search the web for information. Returns search results with titles, URLs, and snippets.",
			Category:    toolexecutor.CategoryWeb,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "query", Type: "string", Description: "The search query", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				query, err := requireString(params, "query")
				if err != nil {
					return nil, err
				}
				return w.search(ctx, query)
			},
		},
		{
			Name:        "web_fetch",
			Description: "Fetch a web page and return its readable text content.",
			Category:    toolexecutor.CategoryWeb,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "url", Type: "string", Description: "The URL to fetch", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				rawURL, err := requireString(params, "url")
				if err != nil {
					return nil, err
				}
				return w.fetch(ctx, rawURL)
			},
		},
	}
}

func (w *webTools) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	req.Header.Set("User-Agent", w.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,text/plain;q=0.8,*/*;q=0.5")
	return w.client.Do(req)
}

func (w *webTools) search(ctx context.Context, query string) (string, error) {
	target := w.opts.SearchURL + "?q=" + url.QueryEscape(query)

	resp, err := w.get(ctx, target)
	if err != nil {
		return "", fmt.Errorf("search error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("search error: HTTP %d", resp.StatusCode)
	}

	results, err := parseSearchResults(io.LimitReader(resp.Body, maxFetchBytes), maxSearchResults)
	if err != nil {
		return "", fmt.Errorf("failed to parse search results: %w", err)
	}
	if len(results) == 0 {
		return "No results found.", nil
	}

	blocks := make([]string, 0, len(results))
	for i, r := range results {
		title := r.Title
		if title == "" {
			title = "(no title)"
		}
		blocks = append(blocks, fmt.Sprintf("%d. %s\n   %s\n   %s", i+1, title, r.Snippet, r.URL))
	}
	return strings.Join(blocks, "\n\n"), nil
}

func (w *webTools) fetch(ctx context.Context, rawURL string) (string, error) {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		if strings.Contains(rawURL, "://") {
			return "", fmt.Errorf("unsupported url scheme: %s", rawURL)
		}
		rawURL = "https://" + rawURL
	}

	resp, err := w.get(ctx, rawURL)
	if err != nil {
		return "", fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("HTTP %d fetching %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("error reading body: %w", err)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	var text string
	switch {
	case strings.Contains(contentType, "html"):
		text = htmlToText(string(body))
	case utf8.Valid(body):
		text = strings.TrimSpace(string(body))
	default:
		return fmt.Sprintf("Binary content (%s), %d bytes", contentType, len(body)), nil
	}

	if text == "" {
		return "(page has no readable text)", nil
	}
	if cut, truncated := truncate(text, w.opts.FetchLimit); truncated {
		return fmt.Sprintf("%s\n\n[... truncated, %d chars total]", cut, len(text)), nil
	}
	return text, nil
}
