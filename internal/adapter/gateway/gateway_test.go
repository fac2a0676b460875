package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estate-assistant/internal/adapter/llm"
	"estate-assistant/internal/adapter/ratelimit"
	"estate-assistant/internal/adapter/search"
	"estate-assistant/internal/infra/config"
	"estate-assistant/internal/usecase/chat"
	"estate-assistant/internal/usecase/intent"
)

const helloStream = "data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\ndata: [DONE]\n\n"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeUpstream is an OpenAI-compatible endpoint answering from a script.
type fakeUpstream struct {
	mu       sync.Mutex
	replies  []func(w http.ResponseWriter)
	requests []map[string]any
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	n := len(f.requests)
	f.requests = append(f.requests, body)
	f.mu.Unlock()

	if n < len(f.replies) {
		f.replies[n](w)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	io.WriteString(w, helloStream)
}

func sse(payload string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, payload)
	}
}

type stack struct {
	upstream *fakeUpstream
	server   *httptest.Server
}

func newStack(t *testing.T, apiKey string, replies ...func(w http.ResponseWriter)) *stack {
	t.Helper()
	logger := discardLogger()

	up := &fakeUpstream{replies: replies}
	upSrv := httptest.NewServer(up)
	t.Cleanup(upSrv.Close)

	cfg := config.Defaults()
	cfg.LLM.BaseURL = upSrv.URL
	cfg.LLM.APIKey = apiKey
	cfg.LLM.Retry.BaseBackoff = time.Millisecond
	cfg.LLM.Retry.MaxBackoff = 4 * time.Millisecond

	searcher := search.NewClient(nil, search.NewCache(time.Hour), search.ClientConfig{
		Timeout:        cfg.Search.Timeout,
		MaxResults:     cfg.Search.MaxResults,
		SearchDepth:    cfg.Search.SearchDepth,
		ContactChannel: cfg.Assistant.ContactChannel,
	}, logger)
	searchLimiter := ratelimit.New(cfg.RateLimit.Search.Max, cfg.RateLimit.Search.Window)

	tools, err := chat.NewToolExecutor(searcher, searchLimiter, logger)
	require.NoError(t, err)
	pipeline := chat.NewPipeline(chat.PipelineDeps{
		LLM:           llm.NewClient(cfg.LLM, nil, logger),
		Searcher:      searcher,
		Classifier:    intent.New(intent.Lexicon{}),
		ChatLimiter:   ratelimit.New(cfg.RateLimit.Chat.Max, cfg.RateLimit.Chat.Window),
		SearchLimiter: searchLimiter,
		Tools:         tools,
		Logger:        logger,
	})

	validator, err := NewRequestValidator(cfg.Assistant.MaxMessages, cfg.Assistant.MaxContentChars)
	require.NoError(t, err)

	srv := httptest.NewServer(NewHandler(cfg.Server, HandlerDeps{Runner: pipeline, Validator: validator, Logger: logger}))
	t.Cleanup(srv.Close)
	return &stack{upstream: up, server: srv}
}

func (s *stack) post(t *testing.T, body string, header ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/api/chat", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

const helloRequest = `{"messages":[{"role":"user","content":"What is RC Bridge's brokerage model?"}]}`

func TestChatStreamsDirectAnswer(t *testing.T) {
	s := newStack(t, "test-key")

	resp := s.post(t, helloRequest)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, string(llm.Synthesize("Hello")), string(raw))
	require.Len(t, s.upstream.requests, 1)
	assert.Contains(t, s.upstream.requests[0], "tools")
}

func TestChatToolCallRoundTrip(t *testing.T) {
	toolStream := "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_9\",\"function\":{\"name\":\"search_real_estate_info\",\"arguments\":\"{\\\"query\\\": \\\"pri\"}}]}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"ce in Kondapur\\\"}\"}}]}}]}\n\n" +
		"data: [DONE]\n\n"
	finalStream := "data: {\"choices\":[{\"delta\":{\"content\":\"Around ₹9,000/sq ft.\"}}]}\n\ndata: [DONE]\n\n"
	s := newStack(t, "test-key", sse(toolStream), sse(finalStream))

	resp := s.post(t, `{"messages":[{"role":"user","content":"is west Hyderabad a good bet?"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, finalStream, string(raw), "second pass is piped through unchanged")

	require.Len(t, s.upstream.requests, 2)
	second := s.upstream.requests[1]
	assert.NotContains(t, second, "tools")
	assert.NotContains(t, second, "tool_choice")

	msgs := second["messages"].([]any)
	last := msgs[len(msgs)-1].(map[string]any)
	assert.Equal(t, "tool", last["role"])
	assert.Equal(t, "call_9", last["tool_call_id"])
	assert.Contains(t, last["content"], "own knowledge", "search is not configured, so the fallback text is sent")
}

func TestChatRejectsTooManyMessages(t *testing.T) {
	s := newStack(t, "test-key")

	msgs := make([]string, 21)
	for i := range msgs {
		msgs[i] = fmt.Sprintf(`{"role":"user","content":"message %d"}`, i)
	}
	resp := s.post(t, `{"messages":[`+strings.Join(msgs, ",")+`]}`)

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeError(t, resp)
	assert.NotEmpty(t, body.Error)
	assert.Contains(t, body.Details, "20")
	assert.Empty(t, s.upstream.requests)
}

func TestChatValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		details string
	}{
		{"not json", `{"messages": [`, "not valid JSON"},
		{"missing messages", `{}`, "messages"},
		{"empty list", `{"messages": []}`, "at least one message"},
		{"bad role", `{"messages":[{"role":"tool","content":"x"}]}`, "role must be one of"},
		{"empty content", `{"messages":[{"role":"user","content":""}]}`, "must not be empty"},
		{"long content", `{"messages":[{"role":"user","content":"` + strings.Repeat("a", 1001) + `"}]}`, "at most 1000 characters"},
		{"content not string", `{"messages":[{"role":"user","content":5}]}`, "messages/0/content"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStack(t, "test-key")
			resp := s.post(t, tt.body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, decodeError(t, resp).Details, tt.details)
		})
	}
}

func TestChatRateLimitsEleventhRequest(t *testing.T) {
	s := newStack(t, "test-key")

	for i := 0; i < 10; i++ {
		resp := s.post(t, helloRequest, "X-Forwarded-For", "198.51.100.4")
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d", i+1)
		io.Copy(io.Discard, resp.Body)
	}

	resp := s.post(t, helloRequest, "X-Forwarded-For", "198.51.100.4")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	retryAfter, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	require.NoError(t, err, "Retry-After must be numeric")
	assert.Greater(t, retryAfter, 0)
	assert.LessOrEqual(t, retryAfter, 60)
	assert.Equal(t, retryAfter, decodeError(t, resp).RetryAfter)

	other := s.post(t, helloRequest, "X-Forwarded-For", "198.51.100.5")
	assert.Equal(t, http.StatusOK, other.StatusCode, "budgets are per client")
}

func TestChatPayloadTooLarge(t *testing.T) {
	s := newStack(t, "test-key")

	resp := s.post(t, `{"messages":[{"role":"user","content":"`+strings.Repeat("a", 60*1024)+`"}]}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Empty(t, s.upstream.requests)
}

func TestChatNotConfigured(t *testing.T) {
	s := newStack(t, "")

	resp := s.post(t, helloRequest)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "AI service not configured", decodeError(t, resp).Error)
	assert.Empty(t, s.upstream.requests)
}

func TestChatPassesThroughUpstreamStatus(t *testing.T) {
	s := newStack(t, "test-key", func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"invalid api key"}}`)
	})

	resp := s.post(t, helloRequest)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body := decodeError(t, resp)
	assert.Equal(t, "AI service error", body.Error)
	assert.Contains(t, body.Details, "invalid api key")
}

func TestChatHealthAndMethods(t *testing.T) {
	s := newStack(t, "test-key")

	resp, err := http.Get(s.server.URL + "/api/chat?health=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])

	resp2, err := http.Get(s.server.URL + "/api/chat")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)

	req, _ := http.NewRequest(http.MethodOptions, s.server.URL+"/api/chat", nil)
	req.Header.Set("Origin", "https://rcbridge.example")
	resp3, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp3.StatusCode)
	assert.Equal(t, "*", resp3.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp3.Header.Get("Access-Control-Allow-Methods"), "POST")
}

func TestHealthzAndMetrics(t *testing.T) {
	s := newStack(t, "test-key")

	resp, err := http.Get(s.server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))

	// Generate at least one turn so the turn counter is exported.
	chatResp := s.post(t, helloRequest)
	io.Copy(io.Discard, chatResp.Body)

	mresp, err := http.Get(s.server.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	raw, err := io.ReadAll(mresp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "estate_chat_turns_total")
}
