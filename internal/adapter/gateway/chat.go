package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"estate-assistant/internal/domain"
	"estate-assistant/internal/infra/logger"
	"estate-assistant/internal/infra/metrics"
	"estate-assistant/internal/infra/middleware"
	"estate-assistant/internal/usecase/chat"
)

// ChatRunner executes one chat turn.
type ChatRunner interface {
	Run(ctx context.Context, turn chat.Turn) (*chat.Reply, error)
}

// chatHandler serves the chat endpoint: POST runs a turn, GET ?health=1 is a
// warm-up ping and OPTIONS answers CORS preflight.
type chatHandler struct {
	runner    ChatRunner
	validator *RequestValidator
	maxBody   int64
	logger    *slog.Logger
}

func (h *chatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		if r.URL.Query().Get("health") == "1" {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		methodNotAllowed(w)
	case http.MethodPost:
		h.handleChat(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (h *chatHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx, h.logger)

	if r.ContentLength > h.maxBody {
		rejectInvalid()
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "Payload too large"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		rejectInvalid()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "Payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request", Details: "could not read request body"})
		return
	}

	msgs, err := h.validator.Decode(body)
	if err != nil {
		rejectInvalid()
		log.Debug("chat request rejected", "error", err)
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request", Details: detailOf(err)})
		return
	}

	reply, err := h.runner.Run(ctx, chat.Turn{
		ClientKey: middleware.ClientKey(r),
		RequestID: middleware.RequestIDFrom(ctx),
		Messages:  msgs,
	})
	if err != nil {
		writeRunError(w, err)
		return
	}
	defer reply.Body.Close()

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	buf := make([]byte, 4096)
	for {
		n, rerr := reply.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				log.Debug("client went away mid-stream", "error", werr)
				return
			}
			if ferr := rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
				log.Debug("flush failed", "error", ferr)
				return
			}
		}
		if errors.Is(rerr, io.EOF) {
			return
		}
		if rerr != nil {
			log.Warn("reply stream interrupted", "error", rerr)
			return
		}
	}
}

type errorBody struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// writeRunError maps a pipeline error to its HTTP answer.
func writeRunError(w http.ResponseWriter, err error) {
	var (
		rlErr *domain.RateLimitError
		upErr *domain.UpstreamError
	)
	switch {
	case errors.As(err, &rlErr):
		secs := rlErr.RetryAfterSeconds()
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, errorBody{
			Error:      "Too many requests. Please wait before sending another message.",
			RetryAfter: secs,
		})
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request", Details: detailOf(err)})
	case errors.Is(err, domain.ErrNotConfigured):
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "AI service not configured"})
	case errors.As(err, &upErr):
		writeJSON(w, upErr.StatusCode, errorBody{Error: "AI service error", Details: upErr.Body})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal server error"})
	}
}

func detailOf(err error) string {
	var derr *domain.DomainError
	if errors.As(err, &derr) && derr.Detail != "" {
		return derr.Detail
	}
	return err.Error()
}

// rejectInvalid counts a request turned away before it reached the pipeline.
func rejectInvalid() {
	metrics.TurnsTotal.WithLabelValues(string(domain.OutcomeValidationFailed), "none").Inc()
}

func methodNotAllowed(w http.ResponseWriter) {
	w.Header().Set("Allow", "GET, POST, OPTIONS")
	writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
