// Package search provides the cached, never-failing web search client used
// by the chat pipeline.
package search

import (
	"context"
	"log/slog"
	"time"

	"estate-assistant/internal/domain"
	"estate-assistant/internal/infra/metrics"
	"estate-assistant/internal/infra/tracer"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	Timeout        time.Duration // hard cap per provider call
	MaxResults     int
	SearchDepth    string
	ContactChannel string // named in the empty-results fallback
}

// Client answers searches from the cache or the provider. Every failure
// degrades to an empty result set; Search never returns an error.
type Client struct {
	provider domain.SearchProvider // nil when search is not configured
	cache    *Cache
	cfg      ClientConfig
	logger   *slog.Logger
}

var _ domain.Searcher = (*Client)(nil)

// NewClient creates a search client. provider may be nil, in which case
// every search returns no results.
func NewClient(provider domain.SearchProvider, cache *Cache, cfg ClientConfig, logger *slog.Logger) *Client {
	return &Client{provider: provider, cache: cache, cfg: cfg, logger: logger}
}

// Search returns results for query. A fresh cache hit makes no network call;
// on a miss the provider is called under the configured timeout and any
// successful answer is cached, including an empty one. Failures are not.
func (c *Client) Search(ctx context.Context, query string) []domain.SearchResult {
	ctx, span := tracer.StartSpan(ctx, "search.query")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("search.query", query))

	if results, ok := c.cache.Get(query); ok {
		metrics.SearchQueriesTotal.WithLabelValues("cache").Inc()
		span.SetAttributes(tracer.StringAttr("search.source", "cache"), tracer.IntAttr("search.results", len(results)))
		c.logger.Debug("search cache hit", "query", query, "results", len(results))
		return results
	}

	if c.provider == nil {
		metrics.SearchQueriesTotal.WithLabelValues("disabled").Inc()
		span.SetAttributes(tracer.StringAttr("search.source", "disabled"))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	results, err := c.provider.Search(ctx, query, domain.SearchOptions{
		MaxResults:  c.cfg.MaxResults,
		SearchDepth: c.cfg.SearchDepth,
	})
	metrics.SearchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
		tracer.RecordError(span, err)
		c.logger.Warn("search failed, continuing without results",
			"provider", c.provider.Name(),
			"query", query,
			"error", err,
		)
		return nil
	}

	if c.cfg.MaxResults > 0 && len(results) > c.cfg.MaxResults {
		results = results[:c.cfg.MaxResults]
	}

	metrics.SearchQueriesTotal.WithLabelValues("provider").Inc()
	metrics.SearchResultsCount.Observe(float64(len(results)))
	span.SetAttributes(tracer.StringAttr("search.source", "provider"), tracer.IntAttr("search.results", len(results)))
	tracer.SetOK(span)

	c.cache.Put(query, results)
	c.logger.Debug("search completed", "provider", c.provider.Name(), "query", query, "results", len(results))
	return results
}

// FormatForModel renders results as a context block for the model.
func (c *Client) FormatForModel(query string, results []domain.SearchResult) string {
	return FormatForModel(query, results, c.cfg.ContactChannel)
}

// SweepCache drops stale cache entries; it returns how many were removed.
func (c *Client) SweepCache(now time.Time) int {
	return c.cache.Sweep(now)
}
