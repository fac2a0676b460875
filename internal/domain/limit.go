package domain

import "time"

// Decision is the verdict of a per-client budget check.
type Decision struct {
	Allowed bool
	// RetryAfter is how long until the client's window resets. Zero when allowed.
	RetryAfter time.Duration
}

// Limiter is a per-client request budget.
type Limiter interface {
	CheckAndIncrement(key string) Decision
}
