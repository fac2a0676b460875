package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Search    SearchConfig    `yaml:"search"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Intent    IntentConfig    `yaml:"intent"`
	Assistant AssistantConfig `yaml:"assistant"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ChatPath          string        `yaml:"chat_path"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins       []string      `yaml:"cors_origins"`
	MetricsEnabled    bool          `yaml:"metrics_enabled"`
}

// LLMConfig holds the chat-completion provider settings.
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	ConnTimeout time.Duration `yaml:"conn_timeout"` // dial + TLS handshake
	RespTimeout time.Duration `yaml:"resp_timeout"` // time to first response header
	Retry       RetryConfig   `yaml:"retry"`
}

// RetryConfig controls the completion retry policy.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// SearchConfig holds the web search provider settings.
type SearchConfig struct {
	Provider    string        `yaml:"provider"` // "tavily"
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	MaxResults  int           `yaml:"max_results"`
	SearchDepth string        `yaml:"search_depth"` // "basic" or "advanced"
	QPS         float64       `yaml:"qps"`
	Burst       int           `yaml:"burst"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the search provider circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"` // consecutive failures before opening
	OpenTimeout time.Duration `yaml:"open_timeout"` // time in open state before half-open
}

// RateLimitConfig holds the two independent per-client budgets.
type RateLimitConfig struct {
	Chat   WindowConfig `yaml:"chat"`
	Search WindowConfig `yaml:"search"`
}

// WindowConfig is a fixed-window budget.
type WindowConfig struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// IntentConfig overrides the classifier keyword lists. Empty lists keep the
// built-in defaults.
type IntentConfig struct {
	KnowledgePrefixes []string `yaml:"knowledge_prefixes,omitempty"`
	RecencyTerms      []string `yaml:"recency_terms,omitempty"`
	PriceTerms        []string `yaml:"price_terms,omitempty"`
	Locations         []string `yaml:"locations,omitempty"`
}

// AssistantConfig holds the conversational settings of the assistant.
type AssistantConfig struct {
	SystemPrompt    string `yaml:"system_prompt"` // empty = built-in prompt
	ContactChannel  string `yaml:"contact_channel"`
	MaxMessages     int    `yaml:"max_messages"`
	MaxContentChars int    `yaml:"max_content_chars"`
}

// SchedulerConfig holds background task settings.
type SchedulerConfig struct {
	Enabled bool                  `yaml:"enabled"`
	Tasks   []ScheduledTaskConfig `yaml:"tasks"`
}

// ScheduledTaskConfig defines a single scheduled task.
type ScheduledTaskConfig struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"` // cron expression or duration string
	Action   string `yaml:"action"`
}

// LedgerConfig holds the turn ledger settings.
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ChatPath:          "/api/chat",
			MaxBodyBytes:      50 * 1024,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			CORSOrigins:       []string{"*"},
			MetricsEnabled:    true,
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   1000,
			ConnTimeout: 10 * time.Second,
			RespTimeout: 60 * time.Second,
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseBackoff: time.Second,
				MaxBackoff:  8 * time.Second,
			},
		},
		Search: SearchConfig{
			Provider:    "tavily",
			BaseURL:     "https://api.tavily.com/search",
			Timeout:     8 * time.Second,
			CacheTTL:    time.Hour,
			MaxResults:  5,
			SearchDepth: "basic",
			QPS:         5,
			Burst:       5,
			Breaker: BreakerConfig{
				MaxFailures: 5,
				OpenTimeout: 30 * time.Second,
			},
		},
		RateLimit: RateLimitConfig{
			Chat:   WindowConfig{Max: 10, Window: 60 * time.Second},
			Search: WindowConfig{Max: 3, Window: 60 * time.Second},
		},
		Assistant: AssistantConfig{
			ContactChannel:  "WhatsApp",
			MaxMessages:     20,
			MaxContentChars: 1000,
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
			Tasks: []ScheduledTaskConfig{
				{Name: "sweep", Schedule: "@every 5m", Action: "cache_sweep"},
			},
		},
		Ledger: LedgerConfig{
			Path: "./data/turns.db",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file is not an error: defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err == nil {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		if err := validatePermissions(absPath); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("ESTATE_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps ESTATE_* env vars to config fields. The provider
// keys also honor the conventional OPENAI_API_KEY and TAVILY_API_KEY names.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ESTATE_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("ESTATE_SERVER_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitAndTrim(v, ",")
	}
	if v := os.Getenv("ESTATE_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("ESTATE_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := firstEnv("ESTATE_LLM_API_KEY", "OPENAI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("ESTATE_SEARCH_BASE_URL"); v != "" {
		cfg.Search.BaseURL = v
	}
	if v := firstEnv("ESTATE_SEARCH_API_KEY", "TAVILY_API_KEY"); v != "" {
		cfg.Search.APIKey = v
	}
	if v := os.Getenv("ESTATE_SEARCH_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Search.CacheTTL = d
		}
	}
	if v := os.Getenv("ESTATE_RATE_LIMIT_CHAT_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.Chat.Max = n
		}
	}
	if v := os.Getenv("ESTATE_RATE_LIMIT_SEARCH_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.Search.Max = n
		}
	}
	if v := os.Getenv("ESTATE_INTENT_LOCATIONS"); v != "" {
		cfg.Intent.Locations = splitAndTrim(v, ",")
	}
	if v := os.Getenv("ESTATE_ASSISTANT_CONTACT_CHANNEL"); v != "" {
		cfg.Assistant.ContactChannel = v
	}
	if v := os.Getenv("ESTATE_SCHEDULER_ENABLED"); v != "" {
		cfg.Scheduler.Enabled = v == "true"
	}
	if v := os.Getenv("ESTATE_LEDGER_ENABLED"); v != "" {
		cfg.Ledger.Enabled = v == "true"
	}
	if v := os.Getenv("ESTATE_LEDGER_PATH"); v != "" {
		cfg.Ledger.Path = v
	}
	if v := os.Getenv("ESTATE_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("ESTATE_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("ESTATE_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("ESTATE_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// splitAndTrim splits s by sep, trims whitespace and drops empty elements.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decryptSecrets finds "enc:..." values in provider API keys and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	secrets := []struct {
		name  string
		value *string
	}{
		{"llm api_key", &cfg.LLM.APIKey},
		{"search api_key", &cfg.Search.APIKey},
	}
	for _, s := range secrets {
		if !strings.HasPrefix(*s.value, "enc:") {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(*s.value, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		*s.value = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// hex(salt) ":" hex(nonce||ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(sealed), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions rejects config files writable by group or others,
// since they may carry API keys.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
