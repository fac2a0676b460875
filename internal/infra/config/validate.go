package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
//
// Missing provider API keys are not validation errors: the service starts and
// answers "not configured" per request, and search degrades to empty results.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateLLM(cfg, ve)
	validateSearch(cfg, ve)
	validateRateLimit(cfg, ve)
	validateAssistant(cfg, ve)
	validateScheduler(cfg, ve)
	validateLedger(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	if _, _, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
		ve.Add("server.addr %q is invalid: %v", cfg.Server.Addr, err)
	}
	if !strings.HasPrefix(cfg.Server.ChatPath, "/") {
		ve.Add("server.chat_path must start with /")
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		ve.Add("server.max_body_bytes must be > 0")
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		ve.Add("server.shutdown_timeout must be > 0")
	}
}

func validateLLM(cfg *Config, ve *ValidationError) {
	validateURL("llm.base_url", cfg.LLM.BaseURL, ve)
	if cfg.LLM.Model == "" {
		ve.Add("llm.model must not be empty")
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		ve.Add("llm.temperature must be within [0, 2]")
	}
	if cfg.LLM.MaxTokens < 0 {
		ve.Add("llm.max_tokens must be >= 0")
	}
	r := cfg.LLM.Retry
	if r.MaxAttempts < 1 {
		ve.Add("llm.retry.max_attempts must be >= 1")
	}
	if r.BaseBackoff <= 0 {
		ve.Add("llm.retry.base_backoff must be > 0")
	}
	if r.MaxBackoff < r.BaseBackoff {
		ve.Add("llm.retry.max_backoff must be >= base_backoff")
	}
}

var validSearchProviders = map[string]bool{
	"tavily": true,
}

var validSearchDepths = map[string]bool{
	"basic":    true,
	"advanced": true,
}

func validateSearch(cfg *Config, ve *ValidationError) {
	s := cfg.Search
	if !validSearchProviders[s.Provider] {
		ve.Add("search.provider %q is invalid (want: tavily)", s.Provider)
	}
	validateURL("search.base_url", s.BaseURL, ve)
	if s.Timeout <= 0 {
		ve.Add("search.timeout must be > 0")
	}
	if s.CacheTTL <= 0 {
		ve.Add("search.cache_ttl must be > 0")
	}
	if s.MaxResults < 1 || s.MaxResults > 20 {
		ve.Add("search.max_results must be within [1, 20]")
	}
	if !validSearchDepths[s.SearchDepth] {
		ve.Add("search.search_depth %q is invalid (want: basic, advanced)", s.SearchDepth)
	}
	if s.QPS <= 0 {
		ve.Add("search.qps must be > 0")
	}
	if s.Burst < 1 {
		ve.Add("search.burst must be >= 1")
	}
	if s.Breaker.MaxFailures == 0 {
		ve.Add("search.breaker.max_failures must be > 0")
	}
}

func validateRateLimit(cfg *Config, ve *ValidationError) {
	for name, w := range map[string]WindowConfig{
		"chat":   cfg.RateLimit.Chat,
		"search": cfg.RateLimit.Search,
	} {
		if w.Max < 1 {
			ve.Add("rate_limit.%s.max must be >= 1", name)
		}
		if w.Window <= 0 {
			ve.Add("rate_limit.%s.window must be > 0", name)
		}
	}
}

func validateAssistant(cfg *Config, ve *ValidationError) {
	if cfg.Assistant.MaxMessages < 1 {
		ve.Add("assistant.max_messages must be >= 1")
	}
	if cfg.Assistant.MaxContentChars < 1 {
		ve.Add("assistant.max_content_chars must be >= 1")
	}
	if cfg.Assistant.ContactChannel == "" {
		ve.Add("assistant.contact_channel must not be empty")
	}
}

var validActions = map[string]bool{
	"cache_sweep": true,
}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if !cfg.Scheduler.Enabled {
		return
	}
	for i, t := range cfg.Scheduler.Tasks {
		if t.Name == "" {
			ve.Add("scheduler.tasks[%d].name is required", i)
		}
		if t.Schedule == "" {
			ve.Add("scheduler.tasks[%d].schedule is required", i)
		}
		if !validActions[t.Action] {
			ve.Add("scheduler.tasks[%d].action %q is invalid (want: cache_sweep)", i, t.Action)
		}
	}
}

func validateLedger(cfg *Config, ve *ValidationError) {
	if cfg.Ledger.Enabled && cfg.Ledger.Path == "" {
		ve.Add("ledger.path is required when ledger is enabled")
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
var validLogFormats = map[string]bool{"json": true, "text": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	if !validLogFormats[cfg.Logger.Format] {
		ve.Add("logger.format %q is invalid (want: json, text)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout)", cfg.Tracer.Exporter)
	}
}

func validateURL(field, raw string, ve *ValidationError) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		ve.Add("%s %q must be an absolute http(s) URL", field, raw)
	}
}
