package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultResultCount = 5
	maxFetchBytes      = 512 << 10
	maxFetchChars      = 10_000
)

// WebConfig configures the web tool family.
type WebConfig struct {
	// SearchURL is a SearXNG-compatible endpoint (q, format=json).
	SearchURL string

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// RegisterWebTools adds web.search, web.shopping_search, and web.fetch_url.
func RegisterWebTools(d *Dispatcher, cfg WebConfig) error {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	for _, tool := range []Tool{
		&webSearch{name: "web.search", category: "general", searchURL: cfg.SearchURL, client: client},
		&webSearch{name: "web.shopping_search", category: "shopping", searchURL: cfg.SearchURL, client: client},
		&webFetch{client: client},
	} {
		if err := d.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// webSearch queries a SearXNG-compatible backend. The shopping variant only
// differs in the category it requests.
type webSearch struct {
	name      string
	category  string
	searchURL string
	client    *http.Client
}

func (t *webSearch) Name() string { return t.name }
func (t *webSearch) Description() string {
	if t.category == "shopping" {
		return "Search product listings and prices on the web."
	}
	return "Search the web and return titles, URLs, and snippets."
}

func (t *webSearch) Schema() map[string]any {
	return objectSchema(map[string]any{
		"query": map[string]any{"type": "string", "minLength": 1},
		"count": map[string]any{"type": "integer", "minimum": 1, "maximum": 20},
	}, "query")
}

type searchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

func (t *webSearch) Execute(ctx context.Context, call Call) (map[string]any, error) {
	var args struct {
		Query string `json:"query"`
		Count int    `json:"count"`
	}
	if err := decodeArgs(call.Args, &args); err != nil {
		return nil, err
	}
	if t.searchURL == "" {
		return nil, fmt.Errorf("web search backend is not configured")
	}
	count := args.Count
	if count <= 0 {
		count = defaultResultCount
	}

	endpoint, err := url.Parse(t.searchURL)
	if err != nil {
		return nil, fmt.Errorf("search backend url: %w", err)
	}
	query := endpoint.Query()
	query.Set("q", args.Query)
	query.Set("format", "json")
	if t.category != "" {
		query.Set("categories", t.category)
	}
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search backend returned status %d", resp.StatusCode)
	}

	var body struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxFetchBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	hits := make([]searchHit, 0, count)
	for _, result := range body.Results {
		if len(hits) == count {
			break
		}
		hits = append(hits, searchHit{Title: result.Title, URL: result.URL, Snippet: result.Content})
	}
	return map[string]any{
		"query":   args.Query,
		"results": toList(hits),
		"count":   len(hits),
	}, nil
}

// webFetch retrieves one URL and returns its body as stripped text.
type webFetch struct {
	client *http.Client
}

func (t *webFetch) Name() string { return "web.fetch_url" }
func (t *webFetch) Description() string {
	return "Fetch a URL and return its textual content, truncated."
}

func (t *webFetch) Schema() map[string]any {
	return objectSchema(map[string]any{
		"url":       map[string]any{"type": "string", "minLength": 1},
		"max_chars": map[string]any{"type": "integer", "minimum": 1},
	}, "url")
}

func (t *webFetch) Execute(ctx context.Context, call Call) (map[string]any, error) {
	var args struct {
		URL      string `json:"url"`
		MaxChars int    `json:"max_chars"`
	}
	if err := decodeArgs(call.Args, &args); err != nil {
		return nil, err
	}
	parsed, err := url.Parse(args.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("url must be http or https")
	}
	maxChars := args.MaxChars
	if maxChars <= 0 || maxChars > maxFetchChars {
		maxChars = maxFetchChars
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, args.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	content := stripTags(string(data))
	truncated := false
	if len(content) > maxChars {
		content = content[:maxChars]
		truncated = true
	}
	return map[string]any{
		"url":       args.URL,
		"status":    resp.StatusCode,
		"content":   content,
		"truncated": truncated,
	}, nil
}

// stripTags removes markup and collapses whitespace; enough for the writer to
// quote from, not a readability engine.
func stripTags(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
			sb.WriteByte(' ')
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}
