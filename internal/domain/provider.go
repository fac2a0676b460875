package domain

import (
	"context"
	"io"
)

// CompletionRequest is one streaming chat-completion call.
// SystemPrompt is sent as the first message; Tools may be empty, in which case
// the model is not offered any function to call.
type CompletionRequest struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolSchema
}

// CompletionProvider is an OpenAI-style streaming chat-completion backend.
type CompletionProvider interface {
	// Complete opens a streaming completion and returns the raw SSE body.
	// A non-2xx upstream answer is returned as *UpstreamError.
	Complete(ctx context.Context, req CompletionRequest) (io.ReadCloser, error)
	// Interpret drains a completion stream into its text and tool calls.
	Interpret(ctx context.Context, r io.Reader) (*Interpretation, error)
	// SynthesizeStream renders text as a single-shot stream in the same wire
	// format Complete returns.
	SynthesizeStream(text string) io.ReadCloser
	// Configured reports whether credentials are present.
	Configured() bool
}
