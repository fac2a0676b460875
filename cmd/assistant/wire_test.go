package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estate-assistant/internal/infra/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildApp_Defaults(t *testing.T) {
	cfg := config.Defaults()

	a, err := buildApp(cfg, testLogger())
	require.NoError(t, err)
	defer a.Close()

	assert.False(t, a.LLM.Configured())
	assert.Nil(t, a.SearchProvider)
	assert.Nil(t, a.Ledger)
	require.NotNil(t, a.Scheduler, "scheduler is on by default")
	assert.NotNil(t, a.Pipeline)
	assert.NotNil(t, a.Server)
}

func TestBuildApp_SearchAndLedger(t *testing.T) {
	cfg := config.Defaults()
	cfg.Search.APIKey = "tvly-test"
	cfg.Ledger.Enabled = true
	cfg.Ledger.Path = filepath.Join(t.TempDir(), "turns.db")
	cfg.Scheduler.Enabled = false

	a, err := buildApp(cfg, testLogger())
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.SearchProvider)
	assert.Equal(t, "tavily", a.SearchProvider.Name())
	require.NotNil(t, a.Ledger)
	assert.Nil(t, a.Scheduler)

	recs, err := a.Ledger.RecentTurns(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestBuildApp_UnknownSearchProvider(t *testing.T) {
	cfg := config.Defaults()
	cfg.Search.APIKey = "key"
	cfg.Search.Provider = "bing"

	_, err := buildApp(cfg, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bing")
}

func TestBuildApp_UnknownScheduledAction(t *testing.T) {
	cfg := config.Defaults()
	cfg.Scheduler.Tasks = []config.ScheduledTaskConfig{{Name: "x", Schedule: "1m", Action: "reindex"}}

	_, err := buildApp(cfg, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reindex")
}

func TestBuildScheduler_SweepsBudgets(t *testing.T) {
	cfg := config.Defaults()
	cfg.RateLimit.Chat.Window = 10 * time.Millisecond
	cfg.Scheduler.Tasks = []config.ScheduledTaskConfig{{Name: "sweep", Schedule: "20ms", Action: "cache_sweep"}}

	a, err := buildApp(cfg, testLogger())
	require.NoError(t, err)
	defer a.Close()

	a.ChatLimiter.CheckAndIncrement("203.0.113.7")
	require.Equal(t, 1, a.ChatLimiter.Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Scheduler.Start(ctx))
	defer a.Scheduler.Stop()

	assert.Eventually(t, func() bool { return a.ChatLimiter.Len() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestBuildApp_ServesHealth(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Scheduler.Enabled = false

	a, err := buildApp(cfg, testLogger())
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Server.Start(ctx) }()

	select {
	case <-a.Server.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server not ready")
	}

	resp, err := http.Get("http://" + a.Server.BoundAddr() + cfg.Server.ChatPath + "?health=1")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `"ok"`))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestLexiconFrom(t *testing.T) {
	lex := lexiconFrom(config.IntentConfig{Locations: []string{"Warangal"}})
	assert.Equal(t, []string{"Warangal"}, lex.Locations)
	assert.Empty(t, lex.PriceTerms)
}
