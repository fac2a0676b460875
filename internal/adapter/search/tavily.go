package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"estate-assistant/internal/domain"
)

const (
	defaultTavilyURL  = "https://api.tavily.com/search"
	maxSearchBodySize = 1 << 20 // 1MB
)

// TavilyProvider implements the Tavily Search API.
type TavilyProvider struct {
	apiKey string
	apiURL string
	client *http.Client
}

var _ domain.SearchProvider = (*TavilyProvider)(nil)

// NewTavilyProvider creates a Tavily search provider. The caller bounds each
// call through its context; client may be nil to use http.DefaultClient.
func NewTavilyProvider(apiKey, apiURL string, client *http.Client) (*TavilyProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, domain.NewDomainError("NewTavilyProvider", domain.ErrNotConfigured, "api key is required")
	}
	if strings.TrimSpace(apiURL) == "" {
		apiURL = defaultTavilyURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &TavilyProvider{apiKey: apiKey, apiURL: apiURL, client: client}, nil
}

func (p *TavilyProvider) Name() string { return "tavily" }

type tavilyRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth,omitempty"`
	MaxResults  int    `json:"max_results,omitempty"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search executes a query against the Tavily Search API. Entries without
// both a URL and a title are dropped.
func (p *TavilyProvider) Search(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.SearchResult, error) {
	payload, err := json.Marshal(tavilyRequest{
		APIKey:      p.apiKey,
		Query:       query,
		SearchDepth: opts.SearchDepth,
		MaxResults:  opts.MaxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal tavily request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create tavily request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, domain.NewDomainError("Tavily.Search", domain.ErrSearchFailed, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBodySize))
	if err != nil {
		return nil, domain.NewDomainError("Tavily.Search", domain.ErrSearchFailed, "read response: "+err.Error())
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, domain.NewDomainError("Tavily.Search", domain.ErrSearchFailed,
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	var decoded tavilyResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, domain.NewDomainError("Tavily.Search", domain.ErrSearchFailed, "decode response: "+err.Error())
	}

	results := make([]domain.SearchResult, 0, len(decoded.Results))
	for _, item := range decoded.Results {
		title, link := strings.TrimSpace(item.Title), strings.TrimSpace(item.URL)
		if title == "" || link == "" {
			continue
		}
		results = append(results, domain.SearchResult{
			Title:   title,
			URL:     link,
			Snippet: strings.TrimSpace(item.Content),
			Score:   item.Score,
		})
	}
	return results, nil
}
