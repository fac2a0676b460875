package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"

	"estate-assistant/internal/domain"
	"estate-assistant/internal/infra/metrics"
	"estate-assistant/internal/infra/tracer"
)

// maxToolCalls bounds how many distinct tool-call indexes one stream may open.
const maxToolCalls = 50

var (
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// Interpreter consumes a chat-completion SSE stream incrementally.
//
// Bytes are buffered and only newline-terminated lines are parsed, so the
// result does not depend on how the stream was chunked. Tool-call fragments
// are merged by index. Not safe for concurrent use.
type Interpreter struct {
	buf       []byte
	text      strings.Builder
	calls     map[int]*domain.ToolCall
	done      bool
	anomalies int
	logger    *slog.Logger
}

// NewInterpreter returns an empty interpreter.
func NewInterpreter(logger *slog.Logger) *Interpreter {
	return &Interpreter{
		calls:  make(map[int]*domain.ToolCall),
		logger: logger,
	}
}

// Feed appends a chunk of the stream and processes every complete line in it.
func (in *Interpreter) Feed(p []byte) {
	if in.done {
		return
	}
	in.buf = append(in.buf, p...)

	start := 0
	for !in.done {
		i := bytes.IndexByte(in.buf[start:], '\n')
		if i < 0 {
			break
		}
		in.handleLine(in.buf[start : start+i])
		start += i + 1
	}
	if in.done {
		in.buf = nil
		return
	}
	in.buf = append(in.buf[:0], in.buf[start:]...)
}

// Done reports whether the end-of-stream marker has been seen.
func (in *Interpreter) Done() bool { return in.done }

// Finish parses any unterminated trailing line and returns the result.
func (in *Interpreter) Finish() *domain.Interpretation {
	if !in.done && len(in.buf) > 0 {
		in.handleLine(in.buf)
	}
	in.buf = nil
	in.done = true

	idx := make([]int, 0, len(in.calls))
	for i := range in.calls {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	var calls []domain.ToolCall
	for _, i := range idx {
		calls = append(calls, *in.calls[i])
	}

	return &domain.Interpretation{
		AssistantText: in.text.String(),
		ToolCalls:     calls,
		Anomalies:     in.anomalies,
	}
}

func (in *Interpreter) handleLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] == ':' {
		return
	}
	if !bytes.HasPrefix(line, dataPrefix) {
		return
	}
	data := bytes.TrimSpace(line[len(dataPrefix):])
	if bytes.Equal(data, doneMarker) {
		in.done = true
		return
	}

	var chunk openaiStreamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		in.anomalies++
		metrics.StreamAnomaliesTotal.Inc()
		in.logger.Debug("skipping undecodable stream line", "error", err, "bytes", len(data))
		return
	}
	if len(chunk.Choices) == 0 {
		return
	}

	delta := chunk.Choices[0].Delta
	in.text.WriteString(delta.Content)
	for _, frag := range delta.ToolCalls {
		in.mergeToolCall(frag)
	}
}

func (in *Interpreter) mergeToolCall(frag openaiToolCall) {
	index := 0
	if frag.Index != nil {
		index = *frag.Index
	}

	tc, ok := in.calls[index]
	if !ok {
		if len(in.calls) >= maxToolCalls {
			in.logger.Debug("dropping tool call beyond limit", "index", index)
			return
		}
		tc = &domain.ToolCall{Index: index}
		in.calls[index] = tc
	}
	if frag.ID != "" {
		tc.ID = frag.ID
	}
	tc.Name += frag.Function.Name
	tc.Arguments += frag.Function.Arguments
}

// Interpret implements domain.CompletionProvider. It reads r to the end of the
// stream, stopping early once the end marker arrives or ctx is done.
func (c *Client) Interpret(ctx context.Context, r io.Reader) (*domain.Interpretation, error) {
	_, span := tracer.StartSpan(ctx, "llm.interpret")
	defer span.End()

	in := NewInterpreter(c.logger)
	buf := make([]byte, 4096)
	for !in.Done() {
		if err := ctx.Err(); err != nil {
			tracer.RecordError(span, err)
			return nil, domain.WrapOp("LLM.Interpret", err)
		}
		n, err := r.Read(buf)
		if n > 0 {
			in.Feed(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			derr := domain.NewDomainError("LLM.Interpret", domain.ErrStreamDecode, err.Error())
			tracer.RecordError(span, derr)
			return nil, derr
		}
	}

	result := in.Finish()
	span.SetAttributes(
		tracer.IntAttr("llm.tool_calls", len(result.ToolCalls)),
		tracer.IntAttr("llm.text_bytes", len(result.AssistantText)),
		tracer.IntAttr("llm.anomalies", result.Anomalies),
	)
	tracer.SetOK(span)
	return result, nil
}
