// Package chat runs one assistant turn: rate check, optional pre-search,
// first completion, tool execution and the second completion.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"estate-assistant/internal/domain"
	"estate-assistant/internal/infra/logger"
	"estate-assistant/internal/infra/metrics"
	"estate-assistant/internal/infra/tracer"
	"estate-assistant/internal/usecase/intent"
)

// State is a step of the per-turn state machine.
type State string

// Turn states. DONE, RATE_LIMITED, VALIDATION_FAILED, UPSTREAM_ERROR and
// NOT_CONFIGURED are terminal; FAILED covers anything else that aborts a turn.
const (
	StateStart                     State = "START"
	StateRateChecked               State = "RATE_CHECKED"
	StatePreSearched               State = "PRE_SEARCHED"
	StateSkippedPreSearch          State = "SKIPPED_PRESEARCH"
	StateFirstCompletionStreaming  State = "FIRST_COMPLETION_STREAMING"
	StateInterpreted               State = "INTERPRETED"
	StateNoToolCall                State = "NO_TOOL_CALL"
	StateToolCall                  State = "TOOL_CALL"
	StateSearchExecuted            State = "SEARCH_EXECUTED"
	StateSecondCompletionStreaming State = "SECOND_COMPLETION_STREAMING"
	StateDone                      State = "DONE"
	StateRateLimited               State = "RATE_LIMITED"
	StateValidationFailed          State = "VALIDATION_FAILED"
	StateUpstreamError             State = "UPSTREAM_ERROR"
	StateNotConfigured             State = "NOT_CONFIGURED"
	StateFailed                    State = "FAILED"
)

// Turn is one inbound chat request.
type Turn struct {
	ClientKey string
	RequestID string
	Messages  []domain.Message
}

// Reply is a successful turn. Body is always a completion SSE stream and must
// be closed by the caller.
type Reply struct {
	Body   io.ReadCloser
	Path   domain.ResponsePath
	States []State
}

// PipelineDeps holds injected dependencies for the pipeline.
type PipelineDeps struct {
	LLM           domain.CompletionProvider
	Searcher      domain.Searcher
	Classifier    *intent.Classifier
	ChatLimiter   domain.Limiter
	SearchLimiter domain.Limiter
	Tools         *ToolExecutor
	SystemPrompt  string
	Logger        *slog.Logger
	Recorder      domain.TurnRecorder // optional, nil = no ledger
	Now           func() time.Time    // optional, defaults to time.Now
}

// Pipeline drives chat turns. It holds no per-turn state and is safe for
// concurrent use.
type Pipeline struct {
	deps PipelineDeps
}

// NewPipeline creates a pipeline with the given dependencies.
func NewPipeline(deps PipelineDeps) *Pipeline {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.SystemPrompt == "" {
		deps.SystemPrompt = DefaultSystemPrompt("")
	}
	return &Pipeline{deps: deps}
}

// turnState tracks one run for logging, metrics and the ledger.
type turnState struct {
	rec    domain.TurnRecord
	states []State
}

func (t *turnState) to(s State) { t.states = append(t.states, s) }

// Run executes one turn. Errors are *domain.RateLimitError, errors wrapping
// domain.ErrInvalidInput or domain.ErrNotConfigured, *domain.UpstreamError,
// or anything else that made the turn fail.
func (p *Pipeline) Run(ctx context.Context, turn Turn) (*Reply, error) {
	ctx, span := tracer.StartSpan(ctx, "chat.turn",
		trace.WithAttributes(
			tracer.StringAttr("chat.request_id", turn.RequestID),
			tracer.IntAttr("chat.messages", len(turn.Messages)),
		),
	)
	defer span.End()

	ts := &turnState{
		rec: domain.TurnRecord{
			ID:        ulid.Make().String(),
			RequestID: turn.RequestID,
			StartedAt: p.deps.Now(),
			Question:  domain.LatestUserUtterance(turn.Messages),
		},
		states: []State{StateStart},
	}

	reply, err := p.run(ctx, turn, ts)
	p.finish(ctx, ts, err)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(tracer.StringAttr("chat.path", string(reply.Path)))
	tracer.SetOK(span)
	return reply, nil
}

func (p *Pipeline) run(ctx context.Context, turn Turn, ts *turnState) (*Reply, error) {
	log := p.turnLogger(ctx, turn.RequestID)

	if err := validateTurn(turn.Messages); err != nil {
		ts.to(StateValidationFailed)
		return nil, err
	}

	if d := p.deps.ChatLimiter.CheckAndIncrement(turn.ClientKey); !d.Allowed {
		ts.to(StateRateLimited)
		metrics.RateLimitedTotal.WithLabelValues("chat").Inc()
		log.Info("chat budget exhausted", "retry_after", d.RetryAfter)
		return nil, &domain.RateLimitError{Scope: "chat", RetryAfter: d.RetryAfter}
	}
	ts.to(StateRateChecked)

	if !p.deps.LLM.Configured() {
		ts.to(StateNotConfigured)
		log.Error("completion provider has no API key")
		return nil, domain.NewDomainError("Pipeline.Run", domain.ErrNotConfigured, "completion API key missing")
	}

	systemPrompt := p.preSearch(ctx, turn, ts, log)

	ts.to(StateFirstCompletionStreaming)
	first, err := p.deps.LLM.Complete(ctx, domain.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     turn.Messages,
		Tools:        []domain.ToolSchema{domain.SearchToolSchema()},
	})
	if err != nil {
		return nil, p.completionFailed(ts, log, err)
	}
	interp, err := p.deps.LLM.Interpret(ctx, first)
	first.Close()
	if err != nil {
		ts.to(StateFailed)
		return nil, domain.WrapOp("Pipeline.interpret", err)
	}
	ts.to(StateInterpreted)
	if interp.Anomalies > 0 {
		log.Debug("first completion had undecodable lines", "count", interp.Anomalies)
	}

	if !interp.HasToolCalls() {
		ts.to(StateNoToolCall)
		ts.to(StateDone)
		ts.rec.Path = domain.PathDirect
		return &Reply{
			Body:   p.deps.LLM.SynthesizeStream(interp.AssistantText),
			Path:   domain.PathDirect,
			States: ts.states,
		}, nil
	}

	ts.to(StateToolCall)
	calls := ensureCallIDs(interp.ToolCalls)
	ts.rec.ToolCalls = len(calls)
	toolMsgs, searches := p.deps.Tools.Execute(ctx, turn.ClientKey, calls)
	ts.rec.Searches += searches
	ts.to(StateSearchExecuted)

	transcript := make([]domain.Message, 0, len(turn.Messages)+1+len(toolMsgs))
	transcript = append(transcript, turn.Messages...)
	transcript = append(transcript, domain.AssistantToolCallMessage(interp.AssistantText, calls))
	transcript = append(transcript, toolMsgs...)

	ts.to(StateSecondCompletionStreaming)
	second, err := p.deps.LLM.Complete(ctx, domain.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     transcript,
	})
	if err != nil {
		return nil, p.completionFailed(ts, log, err)
	}

	ts.to(StateDone)
	ts.rec.Path = domain.PathToolCall
	return &Reply{Body: second, Path: domain.PathToolCall, States: ts.states}, nil
}

// preSearch runs the classifier and, when it forces search and the client
// still has search budget, returns the system prompt augmented with results.
func (p *Pipeline) preSearch(ctx context.Context, turn Turn, ts *turnState, log *slog.Logger) string {
	verdict := p.deps.Classifier.Classify(ts.rec.Question)
	metrics.IntentDecisionsTotal.WithLabelValues(fmt.Sprint(verdict.ForceSearch)).Inc()
	ts.rec.ForcedSearch = verdict.ForceSearch
	log.Debug("intent classified", "force_search", verdict.ForceSearch, "rule", verdict.Rule)

	if !verdict.ForceSearch {
		ts.to(StateSkippedPreSearch)
		return p.deps.SystemPrompt
	}

	if d := p.deps.SearchLimiter.CheckAndIncrement(turn.ClientKey); !d.Allowed {
		metrics.SearchTriggersTotal.WithLabelValues("pre_search", "limited").Inc()
		metrics.RateLimitedTotal.WithLabelValues("search").Inc()
		log.Info("search budget exhausted", "trigger", "pre_search", "retry_after", d.RetryAfter)
		ts.to(StateSkippedPreSearch)
		return p.deps.SystemPrompt
	}
	metrics.SearchTriggersTotal.WithLabelValues("pre_search", "allowed").Inc()

	results := p.deps.Searcher.Search(ctx, ts.rec.Question)
	ts.rec.Searches++
	ts.to(StatePreSearched)
	return AugmentPrompt(p.deps.SystemPrompt, p.deps.Searcher.FormatForModel(ts.rec.Question, results))
}

func (p *Pipeline) completionFailed(ts *turnState, log *slog.Logger, err error) error {
	var upErr *domain.UpstreamError
	switch {
	case errors.As(err, &upErr):
		ts.to(StateUpstreamError)
		log.Warn("completion rejected upstream", "status", upErr.StatusCode)
	case errors.Is(err, domain.ErrNotConfigured):
		ts.to(StateNotConfigured)
	default:
		ts.to(StateFailed)
		log.Error("completion failed", "error", err)
	}
	return err
}

// turnLogger prefers the request-scoped logger in ctx, which already
// carries the request id and client key.
func (p *Pipeline) turnLogger(ctx context.Context, requestID string) *slog.Logger {
	if l := logger.FromContext(ctx, nil); l != nil {
		return l
	}
	return p.deps.Logger.With("request_id", requestID)
}

// finish records the outcome of a turn in metrics, logs and the ledger.
func (p *Pipeline) finish(ctx context.Context, ts *turnState, err error) {
	ts.rec.Outcome = outcomeOf(ts.states[len(ts.states)-1])
	ts.rec.Latency = p.deps.Now().Sub(ts.rec.StartedAt)

	path := string(ts.rec.Path)
	if path == "" {
		path = "none"
	}
	metrics.TurnsTotal.WithLabelValues(string(ts.rec.Outcome), path).Inc()
	metrics.TurnDuration.Observe(ts.rec.Latency.Seconds())

	log := p.turnLogger(ctx, ts.rec.RequestID)
	log.Info("chat turn finished",
		"outcome", ts.rec.Outcome,
		"path", path,
		"forced_search", ts.rec.ForcedSearch,
		"tool_calls", ts.rec.ToolCalls,
		"searches", ts.rec.Searches,
		"latency_ms", ts.rec.Latency.Milliseconds(),
		"states", joinStates(ts.states),
	)

	if p.deps.Recorder == nil {
		return
	}
	if rerr := p.deps.Recorder.RecordTurn(context.WithoutCancel(ctx), ts.rec); rerr != nil {
		log.Warn("turn ledger write failed", "error", rerr)
	}
}

func outcomeOf(s State) domain.Outcome {
	switch s {
	case StateDone:
		return domain.OutcomeDone
	case StateRateLimited:
		return domain.OutcomeRateLimited
	case StateValidationFailed:
		return domain.OutcomeValidationFailed
	case StateUpstreamError:
		return domain.OutcomeUpstreamError
	case StateNotConfigured:
		return domain.OutcomeNotConfigured
	default:
		return domain.OutcomeFailed
	}
}

// validateTurn rejects transcripts a client must not send. The gateway
// validates shape and sizes; this guards roles for any other caller.
func validateTurn(msgs []domain.Message) error {
	if len(msgs) == 0 {
		return domain.NewDomainError("Pipeline.Run", domain.ErrInvalidInput, "no messages")
	}
	for _, m := range msgs {
		if err := domain.CheckInbound(m); err != nil {
			return err
		}
	}
	return nil
}

// ensureCallIDs gives every tool call an ID so its tool message can answer it.
func ensureCallIDs(calls []domain.ToolCall) []domain.ToolCall {
	out := make([]domain.ToolCall, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			c.ID = fmt.Sprintf("call_%d", c.Index)
		}
		out[i] = c
	}
	return out
}

func joinStates(states []State) string {
	parts := make([]string, len(states))
	for i, s := range states {
		parts[i] = string(s)
	}
	return strings.Join(parts, ">")
}
