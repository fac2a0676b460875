package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"estate-assistant/internal/domain"
)

// GuardConfig configures outbound protection for a search provider.
type GuardConfig struct {
	QPS         float64       // sustained outbound queries per second
	Burst       int           // token bucket size
	MaxFailures uint32        // consecutive failures before the circuit opens
	OpenTimeout time.Duration // time in open state before a half-open probe
}

// GuardedProvider wraps a provider with an outbound token bucket and a
// circuit breaker. While the circuit is open calls fail immediately, so a
// dead provider costs no latency on the chat path.
type GuardedProvider struct {
	inner   domain.SearchProvider
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]domain.SearchResult]
}

var _ domain.SearchProvider = (*GuardedProvider)(nil)

// NewGuardedProvider wraps inner.
func NewGuardedProvider(inner domain.SearchProvider, cfg GuardConfig, logger *slog.Logger) *GuardedProvider {
	maxFailures := cfg.MaxFailures
	cb := gobreaker.NewCircuitBreaker[[]domain.SearchResult](gobreaker.Settings{
		Name:        "search:" + inner.Name(),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// A caller that gave up is not a provider failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &GuardedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(cfg.QPS), cfg.Burst),
		breaker: cb,
	}
}

func (g *GuardedProvider) Name() string { return g.inner.Name() }

// Search waits for an outbound token, then calls the provider through the
// circuit breaker.
func (g *GuardedProvider) Search(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.SearchResult, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("search %s: outbound limit: %w", g.inner.Name(), err)
	}

	results, err := g.breaker.Execute(func() ([]domain.SearchResult, error) {
		return g.inner.Search(ctx, query, opts)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("search %s circuit open: %w", g.inner.Name(), err)
	}
	return results, err
}

// State reports the breaker state, for health output.
func (g *GuardedProvider) State() string {
	return g.breaker.State().String()
}
