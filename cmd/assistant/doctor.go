package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"estate-assistant/internal/adapter/llm"
	"estate-assistant/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// runDoctor executes all health checks and reports results.
func runDoctor() error {
	cfgPath := configPath()

	// Some checks work without a config.
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "LLM API key", Fn: checkLLMAPIKey},
		{Name: "LLM connectivity", Fn: checkLLMConnectivity},
		{Name: "Search API key", Fn: checkSearchAPIKey},
		{Name: "Turn ledger", Fn: checkLedger},
		{Name: "Network", Fn: checkNetwork},
	}

	fmt.Println("estate-assistant doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	results := make([]CheckResult, 0, len(checks))
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name
		results = append(results, result)

		fmt.Printf("  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}
	}

	pass, warn, fail := summarize(results)
	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		fmt.Println("\nFix the FAIL issues above before serving traffic.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Println("\nestate-assistant will run, but consider addressing the warnings.")
	} else {
		fmt.Println("\nAll checks passed.")
	}
	return nil
}

func summarize(results []CheckResult) (pass, warn, fail int) {
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}
	return pass, warn, fail
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile reports on the config file. A missing file is only a
// warning because defaults plus environment are enough to run.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     fmt.Sprintf("Check the syntax and values in %s", cfgPath),
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults and environment", cfgPath),
				Fix:     "Copy config.example.yaml to config.yaml to customize",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkLLMAPIKey verifies the completion provider key is set.
func checkLLMAPIKey(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	if cfg.LLM.APIKey == "" {
		return CheckResult{
			Status:  StatusFail,
			Message: "no completion provider key; every chat request will get a 500",
			Fix:     "Set OPENAI_API_KEY (or ESTATE_LLM_API_KEY)",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("key configured for model %s", cfg.LLM.Model),
	}
}

// checkLLMConnectivity lists models at the provider to prove the key and
// base URL work together.
func checkLLMConnectivity(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	if cfg.LLM.APIKey == "" {
		return CheckResult{Status: StatusWarn, Message: "skipped, no API key"}
	}

	endpoint := modelsEndpoint(cfg.LLM.BaseURL)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+cfg.LLM.APIKey)

	start := time.Now()
	resp, err := llm.NewHTTPClient(cfg.LLM).Do(req)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", endpoint, err),
			Fix:     "Check your internet connection and llm.base_url",
		}
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("provider rejected the key (HTTP %d)", resp.StatusCode),
			Fix:     "Check OPENAI_API_KEY",
		}
	case resp.StatusCode >= 400:
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s answered HTTP %d (latency: %dms)", endpoint, resp.StatusCode, latency.Milliseconds()),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("provider reachable (latency: %dms)", latency.Milliseconds()),
	}
}

func modelsEndpoint(baseURL string) string {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return strings.TrimRight(baseURL, "/") + "/models"
}

// checkSearchAPIKey warns when web search is disabled.
func checkSearchAPIKey(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	if cfg.Search.APIKey == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: "no search key; price and recency questions get no live data",
			Fix:     "Set TAVILY_API_KEY (or ESTATE_SEARCH_API_KEY)",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s configured (cache ttl %s)", cfg.Search.Provider, cfg.Search.CacheTTL),
	}
}

// checkLedger verifies the ledger directory exists or can be created.
func checkLedger(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	if !cfg.Ledger.Enabled {
		return CheckResult{Status: StatusPass, Message: "disabled"}
	}

	dir := filepath.Dir(cfg.Ledger.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot create %s: %v", dir, err),
			Fix:     "Set ledger.path to a writable location",
		}
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s is not writable: %v", dir, err),
			Fix:     "Fix directory permissions or change ledger.path",
		}
	}
	probe.Close()
	os.Remove(probe.Name())

	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("writable at %s", cfg.Ledger.Path)}
}

// checkNetwork verifies basic internet connectivity.
func checkNetwork(_ *config.Config) CheckResult {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var d net.Dialer
	for _, addr := range []string{"1.1.1.1:443", "8.8.8.8:443"} {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return CheckResult{Status: StatusPass, Message: "internet connectivity OK"}
		}
	}
	return CheckResult{
		Status:  StatusFail,
		Message: "no internet connectivity detected",
		Fix:     "Check your network connection and firewall settings",
	}
}
