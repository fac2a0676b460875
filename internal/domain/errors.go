package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the domain layer.
var (
	ErrNotConfigured = fmt.Errorf("service not configured")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrRateLimit     = fmt.Errorf("rate limit exceeded")
	ErrUpstream      = fmt.Errorf("upstream provider error")
	ErrSearchFailed  = fmt.Errorf("search failed")
	ErrToolNotFound  = fmt.Errorf("tool not found")
	ErrConfigLoad    = fmt.Errorf("failed to load configuration")
	ErrDecryption    = fmt.Errorf("decryption failed")
	ErrLedgerWrite   = fmt.Errorf("ledger write failed")
	ErrStreamDecode  = fmt.Errorf("stream decode failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Search.Query")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// RateLimitError reports a refused request and when the client may retry.
type RateLimitError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: %s (retry after %s)", e.Scope, ErrRateLimit, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimit }

// RetryAfterSeconds returns the wait rounded up to whole seconds, never below 1.
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// UpstreamError is a non-2xx answer from the completion provider after retries.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", ErrUpstream, e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstream }

// IsRetryableStatus reports whether an upstream HTTP status is worth retrying.
func IsRetryableStatus(code int) bool {
	return code == 429 || code >= 500
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

// Error codes. Every sentinel error maps to exactly one code.
const (
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeNotConfigured ErrorCode = "NOT_CONFIGURED"
	CodeInvalidInput  ErrorCode = "INVALID_INPUT"
	CodeRateLimit     ErrorCode = "RATE_LIMIT"
	CodeUpstream      ErrorCode = "UPSTREAM"
	CodeSearchFailed  ErrorCode = "SEARCH_FAILED"
	CodeToolNotFound  ErrorCode = "TOOL_NOT_FOUND"
	CodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	CodeDecryption    ErrorCode = "DECRYPTION"
	CodeLedgerWrite   ErrorCode = "LEDGER_WRITE"
	CodeStreamDecode  ErrorCode = "STREAM_DECODE"
)

var errorCodeMap = map[error]ErrorCode{
	ErrNotConfigured: CodeNotConfigured,
	ErrInvalidInput:  CodeInvalidInput,
	ErrRateLimit:     CodeRateLimit,
	ErrUpstream:      CodeUpstream,
	ErrSearchFailed:  CodeSearchFailed,
	ErrToolNotFound:  CodeToolNotFound,
	ErrConfigLoad:    CodeConfigLoad,
	ErrDecryption:    CodeDecryption,
	ErrLedgerWrite:   CodeLedgerWrite,
	ErrStreamDecode:  CodeStreamDecode,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It walks the wrap chain with errors.Is; CodeUnknown if nothing matches.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	if code, ok := errorCodeMap[err]; ok {
		return code
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
