package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel/trace"

	"estate-assistant/internal/domain"
	"estate-assistant/internal/infra/metrics"
	"estate-assistant/internal/infra/tracer"
)

// ToolExecutor answers the tool calls of a first completion pass.
// It never fails: every call gets exactly one tool message back.
type ToolExecutor struct {
	searcher domain.Searcher
	budget   domain.Limiter
	schema   *jsonschema.Schema
	logger   *slog.Logger
}

// NewToolExecutor compiles the search tool schema. budget is the per-client
// search limiter, shared with pre-search.
func NewToolExecutor(searcher domain.Searcher, budget domain.Limiter, logger *slog.Logger) (*ToolExecutor, error) {
	tool := domain.SearchToolSchema()

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("search_tool.json", bytes.NewReader(tool.Parameters)); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", tool.Name, err)
	}
	compiled, err := compiler.Compile("search_tool.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", tool.Name, err)
	}

	return &ToolExecutor{searcher: searcher, budget: budget, schema: compiled, logger: logger}, nil
}

// Execute runs calls in order for clientKey and returns one tool message per
// call plus the number of searches that actually ran.
func (e *ToolExecutor) Execute(ctx context.Context, clientKey string, calls []domain.ToolCall) ([]domain.Message, int) {
	msgs := make([]domain.Message, 0, len(calls))
	searches := 0
	for _, call := range calls {
		msg, searched := e.executeOne(ctx, clientKey, call)
		msgs = append(msgs, msg)
		if searched {
			searches++
		}
	}
	return msgs, searches
}

func (e *ToolExecutor) executeOne(ctx context.Context, clientKey string, call domain.ToolCall) (domain.Message, bool) {
	ctx, span := tracer.StartSpan(ctx, "chat.execute_tool",
		trace.WithAttributes(tracer.StringAttr("tool.name", call.Name)),
	)
	defer span.End()

	if call.Name != domain.SearchToolName {
		err := domain.NewDomainError("ToolExecutor.Execute", domain.ErrToolNotFound, call.Name)
		tracer.RecordError(span, err)
		e.logger.Warn("skipping unknown tool call", "tool", call.Name, "call_id", call.ID)
		return domain.ToolMessage(call.ID, fmt.Sprintf(unknownToolReply, call.Name)), false
	}

	args, err := e.decodeArgs(call.Arguments)
	if err != nil {
		tracer.RecordError(span, err)
		e.logger.Warn("invalid tool arguments", "tool", call.Name, "call_id", call.ID, "error", err)
		return domain.ToolMessage(call.ID, invalidArgsReply), false
	}

	if d := e.budget.CheckAndIncrement(clientKey); !d.Allowed {
		metrics.SearchTriggersTotal.WithLabelValues("tool_call", "limited").Inc()
		metrics.RateLimitedTotal.WithLabelValues("search").Inc()
		span.SetAttributes(tracer.BoolAttr("search.limited", true))
		e.logger.Info("search budget exhausted", "trigger", "tool_call", "retry_after", d.RetryAfter)
		return domain.ToolMessage(call.ID, searchLimitedReply), false
	}
	metrics.SearchTriggersTotal.WithLabelValues("tool_call", "allowed").Inc()

	results := e.searcher.Search(ctx, args.Query)
	span.SetAttributes(tracer.IntAttr("search.results", len(results)))
	tracer.SetOK(span)
	return domain.ToolMessage(call.ID, e.searcher.FormatForModel(args.Query, results)), true
}

func (e *ToolExecutor) decodeArgs(raw string) (domain.SearchToolArgs, error) {
	var args domain.SearchToolArgs

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return args, domain.NewDomainError("ToolExecutor.decodeArgs", domain.ErrInvalidInput, "invalid JSON: "+err.Error())
	}
	if err := e.schema.Validate(v); err != nil {
		return args, domain.NewDomainError("ToolExecutor.decodeArgs", domain.ErrInvalidInput, "schema validation failed: "+err.Error())
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return args, domain.NewDomainError("ToolExecutor.decodeArgs", domain.ErrInvalidInput, err.Error())
	}
	return args, nil
}
