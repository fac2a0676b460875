package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"estate-assistant/internal/adapter/gateway"
	"estate-assistant/internal/adapter/llm"
	"estate-assistant/internal/adapter/ratelimit"
	"estate-assistant/internal/adapter/search"
	"estate-assistant/internal/adapter/store"
	"estate-assistant/internal/domain"
	"estate-assistant/internal/infra/config"
	"estate-assistant/internal/usecase/chat"
	"estate-assistant/internal/usecase/intent"
	"estate-assistant/internal/usecase/scheduling"
)

// app holds the long-lived components of a running assistant.
type app struct {
	LLM            *llm.Client
	SearchProvider domain.SearchProvider // nil when no search key is set
	Search         *search.Client
	ChatLimiter    *ratelimit.Window
	SearchLimiter  *ratelimit.Window
	Pipeline       *chat.Pipeline
	Ledger         *store.SQLiteTurnStore // nil unless enabled
	Scheduler      *scheduling.Scheduler  // nil unless enabled
	Server         *gateway.Server

	closers []func() error
}

// Close releases resources opened by buildApp.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildApp wires every component from cfg. Nothing is started.
func buildApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{}

	// Search: provider (optional) -> guard -> cached client.
	provider, err := buildSearchProvider(cfg.Search, log)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	a.SearchProvider = provider
	a.Search = search.NewClient(provider, search.NewCache(cfg.Search.CacheTTL), search.ClientConfig{
		Timeout:        cfg.Search.Timeout,
		MaxResults:     cfg.Search.MaxResults,
		SearchDepth:    cfg.Search.SearchDepth,
		ContactChannel: cfg.Assistant.ContactChannel,
	}, log.With("component", "search"))

	// Budgets
	a.ChatLimiter = ratelimit.New(cfg.RateLimit.Chat.Max, cfg.RateLimit.Chat.Window)
	a.SearchLimiter = ratelimit.New(cfg.RateLimit.Search.Max, cfg.RateLimit.Search.Window)

	// Completion provider
	a.LLM = llm.NewClient(cfg.LLM, nil, log.With("component", "llm"))

	// Ledger
	var recorder domain.TurnRecorder
	if cfg.Ledger.Enabled {
		ledger, err := openLedger(cfg.Ledger.Path)
		if err != nil {
			return nil, err
		}
		a.Ledger = ledger
		a.closers = append(a.closers, ledger.Close)
		recorder = ledger
		log.Info("turn ledger enabled", "path", cfg.Ledger.Path)
	}

	// Pipeline
	tools, err := chat.NewToolExecutor(a.Search, a.SearchLimiter, log.With("component", "tools"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("tools: %w", err)
	}
	systemPrompt := cfg.Assistant.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = chat.DefaultSystemPrompt(cfg.Assistant.ContactChannel)
	}
	a.Pipeline = chat.NewPipeline(chat.PipelineDeps{
		LLM:           a.LLM,
		Searcher:      a.Search,
		Classifier:    intent.New(lexiconFrom(cfg.Intent)),
		ChatLimiter:   a.ChatLimiter,
		SearchLimiter: a.SearchLimiter,
		Tools:         tools,
		SystemPrompt:  systemPrompt,
		Logger:        log.With("component", "pipeline"),
		Recorder:      recorder,
	})

	// Scheduler
	if cfg.Scheduler.Enabled {
		sched, err := buildScheduler(cfg.Scheduler, a, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("scheduler: %w", err)
		}
		a.Scheduler = sched
	}

	// Gateway
	validator, err := gateway.NewRequestValidator(cfg.Assistant.MaxMessages, cfg.Assistant.MaxContentChars)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("gateway: %w", err)
	}
	gwLog := log.With("component", "gateway")
	handler := gateway.NewHandler(cfg.Server, gateway.HandlerDeps{
		Runner:    a.Pipeline,
		Validator: validator,
		Logger:    gwLog,
	})
	a.Server = gateway.NewServer(cfg.Server, handler, gwLog)

	return a, nil
}

// buildSearchProvider returns nil, nil when no key is configured.
func buildSearchProvider(cfg config.SearchConfig, log *slog.Logger) (domain.SearchProvider, error) {
	if cfg.APIKey == "" {
		return nil, nil
	}
	switch cfg.Provider {
	case "", "tavily":
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	httpClient := &http.Client{Transport: llm.NewPooledTransport(cfg.Timeout, cfg.Timeout)}
	tavily, err := search.NewTavilyProvider(cfg.APIKey, cfg.BaseURL, httpClient)
	if err != nil {
		return nil, err
	}
	return search.NewGuardedProvider(tavily, search.GuardConfig{
		QPS:         cfg.QPS,
		Burst:       cfg.Burst,
		MaxFailures: cfg.Breaker.MaxFailures,
		OpenTimeout: cfg.Breaker.OpenTimeout,
	}, log.With("component", "search_guard")), nil
}

// buildScheduler registers the sweep action over both budgets and the
// search cache, then adds the configured tasks.
func buildScheduler(cfg config.SchedulerConfig, a *app, log *slog.Logger) (*scheduling.Scheduler, error) {
	schedLog := log.With("component", "scheduler")
	sched := scheduling.NewScheduler(schedLog)

	sweeper := scheduling.NewSweeper(schedLog,
		scheduling.SweepTarget{Name: "chat_limiter", Store: a.ChatLimiter},
		scheduling.SweepTarget{Name: "search_limiter", Store: a.SearchLimiter},
		scheduling.SweepTarget{Name: "search_cache", Store: sweepFunc(a.Search.SweepCache)},
	)
	sched.RegisterAction(scheduling.ActionCacheSweep, sweeper.Run)

	for _, t := range cfg.Tasks {
		if err := sched.AddTask(scheduling.ScheduledTask{
			Name:     t.Name,
			Schedule: t.Schedule,
			Action:   scheduling.ScheduledAction(t.Action),
		}); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

// sweepFunc adapts a sweep method to scheduling.Sweepable.
type sweepFunc func(now time.Time) int

func (f sweepFunc) Sweep(now time.Time) int { return f(now) }

func openLedger(path string) (*store.SQLiteTurnStore, error) {
	ledger, err := store.NewSQLiteTurnStore(path)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	return ledger, nil
}

func lexiconFrom(cfg config.IntentConfig) intent.Lexicon {
	return intent.Lexicon{
		KnowledgePrefixes: cfg.KnowledgePrefixes,
		RecencyTerms:      cfg.RecencyTerms,
		PriceTerms:        cfg.PriceTerms,
		Locations:         cfg.Locations,
	}
}
