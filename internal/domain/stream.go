package domain

// StreamDelta is a single incremental chunk from a streaming completion.
type StreamDelta struct {
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Done      bool       `json:"done,omitempty"`
}

// Interpretation is what a fully consumed first-pass stream amounts to.
type Interpretation struct {
	AssistantText string
	ToolCalls     []ToolCall
	// Anomalies counts complete data lines that could not be decoded.
	Anomalies int
}

// HasToolCalls reports whether the model asked for at least one tool call.
func (i *Interpretation) HasToolCalls() bool {
	return i != nil && len(i.ToolCalls) > 0
}
