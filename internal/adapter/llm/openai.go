package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel/trace"

	"estate-assistant/internal/domain"
	"estate-assistant/internal/infra/config"
	"estate-assistant/internal/infra/metrics"
	"estate-assistant/internal/infra/tracer"
)

// maxErrorBody caps how much of a failed upstream answer is kept.
const maxErrorBody = 4096

// Client implements domain.CompletionProvider for any OpenAI-compatible API.
type Client struct {
	model       string
	apiKey      string
	baseURL     string
	temperature float64
	maxTokens   int
	client      *http.Client
	policy      retrypolicy.RetryPolicy[*http.Response]
	logger      *slog.Logger
}

var _ domain.CompletionProvider = (*Client)(nil)

// NewClient creates a completion client. httpClient may be nil, in which case
// one is built from the configured timeouts.
func NewClient(cfg config.LLMConfig, httpClient *http.Client, logger *slog.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if httpClient == nil {
		httpClient = NewHTTPClient(cfg)
	}

	return &Client{
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client:      httpClient,
		policy:      newRetryPolicy(cfg.Retry),
		logger:      logger,
	}
}

// Configured implements domain.CompletionProvider.
func (c *Client) Configured() bool { return c.apiKey != "" }

// Complete implements domain.CompletionProvider.
func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (io.ReadCloser, error) {
	pass := passLabel(req)
	ctx, span := tracer.StartSpan(ctx, "llm.complete",
		trace.WithAttributes(
			tracer.StringAttr("llm.model", c.model),
			tracer.StringAttr("llm.pass", pass),
			tracer.IntAttr("llm.tools", len(req.Tools)),
			tracer.IntAttr("llm.messages", len(req.Messages)),
		),
	)
	defer span.End()

	if !c.Configured() {
		err := domain.NewDomainError("LLM.Complete", domain.ErrNotConfigured, "missing API key")
		tracer.RecordError(span, err)
		return nil, err
	}

	body, err := json.Marshal(c.toOpenAIRequest(req))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.doWithRetry(ctx, body)
	if err != nil {
		metrics.LLMCallsTotal.WithLabelValues(c.model, pass, "error").Inc()
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("LLM.Complete", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		upErr := readUpstreamError(resp)
		metrics.LLMCallsTotal.WithLabelValues(c.model, pass, strconv.Itoa(resp.StatusCode)).Inc()
		tracer.RecordError(span, upErr)
		c.logger.Warn("completion upstream error", "status", resp.StatusCode, "pass", pass)
		return nil, upErr
	}

	metrics.LLMCallsTotal.WithLabelValues(c.model, pass, "ok").Inc()
	tracer.SetOK(span)
	return resp.Body, nil
}

// doWithRetry posts body until it gets a non-retryable answer or the policy
// gives up. Only the returned response is left open.
func (c *Client) doWithRetry(ctx context.Context, body []byte) (*http.Response, error) {
	var (
		last    *http.Response
		attempt int
	)

	resp, err := failsafe.With(c.policy).WithContext(ctx).Get(func() (*http.Response, error) {
		attempt++
		if last != nil {
			last.Body.Close()
			last = nil
		}
		if attempt > 1 {
			metrics.LLMRetriesTotal.WithLabelValues(c.model).Inc()
			c.logger.Debug("retrying completion", "attempt", attempt)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		httpResp, err := c.client.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("http request: %w", err)
		}
		last = httpResp
		return httpResp, nil
	})
	if err != nil {
		if last != nil {
			last.Body.Close()
		}
		return nil, err
	}
	return resp, nil
}

// readUpstreamError drains and closes a failed response.
func readUpstreamError(resp *http.Response) *domain.UpstreamError {
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &domain.UpstreamError{StatusCode: resp.StatusCode, Body: string(b)}
}

func passLabel(req domain.CompletionRequest) string {
	if len(req.Tools) > 0 {
		return "first"
	}
	return "second"
}

// --- OpenAI wire types ---

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Tools       []openaiTool    `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Stream      bool            `json:"stream"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiTool struct {
	Type     string             `json:"type"`
	Function openaiToolFunction `json:"function"`
}

type openaiToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type openaiToolCall struct {
	Index    *int                   `json:"index,omitempty"`
	ID       string                 `json:"id,omitempty"`
	Type     string                 `json:"type,omitempty"`
	Function openaiToolCallFunction `json:"function"`
}

type openaiToolCallFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

func (c *Client) toOpenAIRequest(req domain.CompletionRequest) openaiRequest {
	msgs := make([]openaiMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openaiMessage{Role: string(domain.RoleSystem), Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		oaiMsg := openaiMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		if len(m.ToolCalls) > 0 && m.Role == domain.RoleAssistant {
			oaiMsg.ToolCalls = make([]openaiToolCall, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				oaiMsg.ToolCalls[i] = openaiToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openaiToolCallFunction{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				}
			}
		}
		msgs = append(msgs, oaiMsg)
	}

	oaiReq := openaiRequest{
		Model:    c.model,
		Messages: msgs,
		Stream:   true,
	}
	if c.maxTokens > 0 {
		oaiReq.MaxTokens = c.maxTokens
	}
	if c.temperature > 0 {
		t := c.temperature
		oaiReq.Temperature = &t
	}

	if len(req.Tools) > 0 {
		oaiReq.ToolChoice = "auto"
		oaiReq.Tools = make([]openaiTool, len(req.Tools))
		for i, t := range req.Tools {
			oaiReq.Tools[i] = openaiTool{
				Type: "function",
				Function: openaiToolFunction{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			}
		}
	}

	return oaiReq
}

// --- OpenAI streaming wire types ---

type openaiStreamChunk struct {
	Choices []openaiStreamChoice `json:"choices"`
}

type openaiStreamChoice struct {
	Delta        openaiStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason,omitempty"`
}

type openaiStreamDelta struct {
	Content   string           `json:"content,omitempty"`
	ToolCalls []openaiToolCall `json:"tool_calls,omitempty"`
}
