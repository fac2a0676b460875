package domain

import (
	"context"
	"time"
)

// ResponsePath tells which branch of the pipeline produced a reply.
type ResponsePath string

// Response paths.
const (
	PathDirect   ResponsePath = "direct"    // first pass answered without tools
	PathToolCall ResponsePath = "tool_call" // second pass streamed after tool results
)

// Outcome is the terminal state a turn ended in.
type Outcome string

// Turn outcomes.
const (
	OutcomeDone             Outcome = "done"
	OutcomeRateLimited      Outcome = "rate_limited"
	OutcomeValidationFailed Outcome = "validation_failed"
	OutcomeUpstreamError    Outcome = "upstream_error"
	OutcomeNotConfigured    Outcome = "not_configured"
	OutcomeFailed           Outcome = "failed"
)

// TurnRecord is the durable summary of one finished chat turn.
// The client address is never part of it.
type TurnRecord struct {
	ID           string
	RequestID    string
	StartedAt    time.Time
	Outcome      Outcome
	Path         ResponsePath
	ForcedSearch bool
	ToolCalls    int
	Searches     int
	Latency      time.Duration
	Question     string
}

// TurnRecorder persists turn summaries. Implementations must be safe for
// concurrent use.
type TurnRecorder interface {
	RecordTurn(ctx context.Context, rec TurnRecord) error
	RecentTurns(ctx context.Context, limit int) ([]TurnRecord, error)
}
