package domain

import "context"

// SearchResult is one normalized hit from a web search provider.
type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// SearchOptions controls a single provider query.
type SearchOptions struct {
	MaxResults  int
	SearchDepth string
}

// SearchProvider is a raw web search backend. Implementations return errors
// freely; callers that must not fail wrap them in a Searcher.
type SearchProvider interface {
	Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error)
	Name() string
}

// Searcher is the degraded-but-total search surface used by the chat pipeline:
// Search never fails, it returns an empty slice instead.
type Searcher interface {
	Search(ctx context.Context, query string) []SearchResult
	FormatForModel(query string, results []SearchResult) string
}
