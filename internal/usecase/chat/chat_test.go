package chat

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"estate-assistant/internal/domain"
	"estate-assistant/internal/usecase/intent"
)

// events records the order in which fakes were called.
type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, s)
}

func (e *events) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

// fakeLLM hands out one scripted interpretation per Complete call.
type fakeLLM struct {
	ev         *events
	configured bool
	script     []*domain.Interpretation
	errs       []error
	requests   []domain.CompletionRequest
}

func (f *fakeLLM) Configured() bool { return f.configured }

func (f *fakeLLM) Complete(_ context.Context, req domain.CompletionRequest) (io.ReadCloser, error) {
	n := len(f.requests)
	f.requests = append(f.requests, req)
	f.ev.add("complete")
	if n < len(f.errs) && f.errs[n] != nil {
		return nil, f.errs[n]
	}
	text := ""
	if n < len(f.script) && f.script[n] != nil {
		text = f.script[n].AssistantText
	}
	return io.NopCloser(strings.NewReader(fmtStream(n, text))), nil
}

func (f *fakeLLM) Interpret(_ context.Context, r io.Reader) (*domain.Interpretation, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	n := int(raw[len("pass:")] - '0')
	if n < len(f.script) && f.script[n] != nil {
		return f.script[n], nil
	}
	return &domain.Interpretation{}, nil
}

func (f *fakeLLM) SynthesizeStream(text string) io.ReadCloser {
	return io.NopCloser(strings.NewReader("synth:" + text))
}

func fmtStream(pass int, text string) string {
	return "pass:" + string(rune('0'+pass)) + ":" + text
}

type fakeSearcher struct {
	ev      *events
	queries []string
}

func (f *fakeSearcher) Search(_ context.Context, q string) []domain.SearchResult {
	f.ev.add("search")
	f.queries = append(f.queries, q)
	return []domain.SearchResult{{Title: "Pocharam land rates", URL: "https://example.com/pocharam", Snippet: "₹6,500 per sq yd"}}
}

func (f *fakeSearcher) FormatForModel(q string, results []domain.SearchResult) string {
	var b strings.Builder
	b.WriteString("RESULTS for " + q)
	for _, r := range results {
		b.WriteString("\n" + r.Title + " " + r.URL)
	}
	return b.String()
}

// stubLimiter denies once calls exceeds limit.
type stubLimiter struct {
	mu    sync.Mutex
	limit int
	calls int
}

func (s *stubLimiter) CheckAndIncrement(string) domain.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls > s.limit {
		return domain.Decision{RetryAfter: 42 * time.Second}
	}
	return domain.Decision{Allowed: true}
}

type memRecorder struct {
	mu   sync.Mutex
	recs []domain.TurnRecord
}

func (m *memRecorder) RecordTurn(_ context.Context, rec domain.TurnRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memRecorder) RecentTurns(context.Context, int) ([]domain.TurnRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.TurnRecord(nil), m.recs...), nil
}

type harness struct {
	ev       *events
	llm      *fakeLLM
	searcher *fakeSearcher
	chat     *stubLimiter
	search   *stubLimiter
	recorder *memRecorder
	pipeline *Pipeline
}

func newHarness(t *testing.T, script ...*domain.Interpretation) *harness {
	t.Helper()
	ev := &events{}
	h := &harness{
		ev:       ev,
		llm:      &fakeLLM{ev: ev, configured: true, script: script},
		searcher: &fakeSearcher{ev: ev},
		chat:     &stubLimiter{limit: 10},
		search:   &stubLimiter{limit: 3},
		recorder: &memRecorder{},
	}
	h.build(t)
	return h
}

func (h *harness) build(t *testing.T) {
	t.Helper()
	logger := discardLogger()
	tools, err := NewToolExecutor(h.searcher, h.search, logger)
	require.NoError(t, err)
	h.pipeline = NewPipeline(PipelineDeps{
		LLM:           h.llm,
		Searcher:      h.searcher,
		Classifier:    intent.New(intent.Lexicon{}),
		ChatLimiter:   h.chat,
		SearchLimiter: h.search,
		Tools:         tools,
		SystemPrompt:  "SYSTEM",
		Logger:        logger,
		Recorder:      h.recorder,
	})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func userTurn(text string) Turn {
	return Turn{ClientKey: "203.0.113.7", RequestID: "req-1", Messages: []domain.Message{domain.UserMessage(text)}}
}

func readBody(t *testing.T, r *Reply) string {
	t.Helper()
	defer r.Body.Close()
	raw, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	return string(raw)
}

func searchCall(id, args string) domain.ToolCall {
	return domain.ToolCall{ID: id, Name: domain.SearchToolName, Arguments: args}
}
