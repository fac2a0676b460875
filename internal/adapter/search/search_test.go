package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"estate-assistant/internal/domain"
)

// fakeProvider counts calls and returns canned answers.
type fakeProvider struct {
	mu      sync.Mutex
	calls   int
	results []domain.SearchResult
	err     error
	delay   time.Duration
	lastOps domain.SearchOptions
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Search(ctx context.Context, _ string, opts domain.SearchOptions) ([]domain.SearchResult, error) {
	f.mu.Lock()
	f.calls++
	f.lastOps = opts
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.results, f.err
}

func (f *fakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var errBoom = errors.New("boom")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleResults() []domain.SearchResult {
	return []domain.SearchResult{
		{Title: "Pocharam land rates 2026", URL: "https://example.com/pocharam", Snippet: "Open plots trade at ₹28,000 per sq yard.", Score: 0.91},
		{Title: "Pocharam IT corridor", URL: "https://example.com/corridor", Snippet: "Infosys campus drives demand.", Score: 0.77},
	}
}
