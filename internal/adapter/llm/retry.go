package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"estate-assistant/internal/domain"
	"estate-assistant/internal/infra/config"
)

// newRetryPolicy retries throttling, server errors and transport failures with
// exponential backoff. MaxAttempts counts the first try. When attempts run out
// the last response is handed back so its status can be passed through.
func newRetryPolicy(cfg config.RetryConfig) retrypolicy.RetryPolicy[*http.Response] {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	base := cfg.BaseBackoff
	if base <= 0 {
		base = time.Second
	}
	maxDelay := cfg.MaxBackoff
	if maxDelay <= base {
		maxDelay = base << uint(attempts)
	}

	return retrypolicy.NewBuilder[*http.Response]().
		HandleIf(shouldRetry).
		WithBackoff(base, maxDelay).
		WithMaxRetries(attempts - 1).
		ReturnLastFailure().
		Build()
}

func shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return resp != nil && domain.IsRetryableStatus(resp.StatusCode)
}
