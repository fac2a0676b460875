package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"estate-assistant/internal/infra/config"
	"estate-assistant/internal/infra/logger"
	"estate-assistant/internal/infra/tracer"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	// A missing .env is normal in production.
	_ = godotenv.Load()

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "doctor":
		if err := runDoctor(); err != nil {
			fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
			os.Exit(1)
		}
	case "encrypt":
		if err := runEncrypt(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt: %v\n", err)
			os.Exit(1)
		}
	case "turns":
		if err := runTurns(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "turns: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'estate-assistant --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`estate-assistant - real-estate chat assistant gateway

USAGE:
    estate-assistant [COMMAND] [FLAGS]

COMMANDS:
    doctor      Run health checks on your setup
    encrypt     Encrypt a secret for the config file (reads ESTATE_CONFIG_KEY)
                Usage: estate-assistant encrypt <value>
    turns       Print the most recent turns from the ledger
                Usage: estate-assistant turns [limit]

    (no command) - Serve the chat endpoint

FLAGS:
    --config <path>   Config file (default: config.yaml, or ESTATE_CONFIG)
    -h, --help        Show this help

ENVIRONMENT:
    OPENAI_API_KEY / ESTATE_LLM_API_KEY        Completion provider key
    TAVILY_API_KEY / ESTATE_SEARCH_API_KEY     Web search key (optional)
    ESTATE_SERVER_ADDR                         Listen address (default :8080)
    ESTATE_CONFIG_KEY                          Passphrase for enc: secrets

A .env file in the working directory is loaded before the config.`)
}

func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("ESTATE_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Components
	app, err := buildApp(cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	if !app.LLM.Configured() {
		log.Warn("completion provider key is not set; chat requests will be refused")
	}
	if app.SearchProvider == nil {
		log.Warn("search key is not set; searches will return no results")
	}

	// 4. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 5. Scheduler
	if app.Scheduler != nil {
		if err := app.Scheduler.Start(ctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		defer app.Scheduler.Stop()
	}

	// 6. Gateway, blocks until ctx is cancelled.
	log.Info("estate-assistant starting",
		"addr", cfg.Server.Addr,
		"model", cfg.LLM.Model,
		"ledger", cfg.Ledger.Enabled)
	if err := app.Server.Start(ctx); err != nil {
		return err
	}

	log.Info("shutting down")
	return nil
}

func runEncrypt(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: estate-assistant encrypt <value>")
	}
	passphrase := os.Getenv("ESTATE_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("ESTATE_CONFIG_KEY must be set")
	}
	enc, err := config.EncryptValue(args[0], passphrase)
	if err != nil {
		return err
	}
	fmt.Println("enc:" + enc)
	return nil
}

func runTurns(args []string) error {
	limit := 20
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid limit %q", args[0])
		}
		limit = n
	}

	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	ledger, err := openLedger(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer ledger.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	recs, err := ledger.RecentTurns(ctx, limit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("no turns recorded")
		return nil
	}
	for _, r := range recs {
		path := string(r.Path)
		if path == "" {
			path = "-"
		}
		fmt.Printf("%s  %-17s %-9s search=%-5t tools=%d latency=%-8s %s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Outcome, path, r.ForcedSearch, r.ToolCalls,
			r.Latency.Round(time.Millisecond), r.Question)
	}
	return nil
}
