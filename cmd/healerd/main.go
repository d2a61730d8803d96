// Command healerd is the self-healing locator repair daemon.
//
// Usage:
//
//	healerd -config healerd.yaml     # run with config file
//	healerd -db healerd.db           # run with defaults
//	healerd -db healerd.db -mcp      # also serve MCP tools on stdio
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/akkash/testbro-sub001/browser"
	"github.com/akkash/testbro-sub001/completion"
	"github.com/akkash/testbro-sub001/healing"
	"github.com/akkash/testbro-sub001/notify"
	"github.com/akkash/testbro-sub001/queue"
	"github.com/akkash/testbro-sub001/shield"
	"github.com/akkash/testbro-sub001/store"
	"github.com/akkash/testbro-sub001/strategy"
)

func main() {
	configPath := flag.String("config", "", "path to healerd.yaml config file")
	dbPath := flag.String("db", "", "path to SQLite database")
	listenAddr := flag.String("listen", "", "HTTP listen address (overrides config)")
	mcpStdio := flag.Bool("mcp", false, "serve MCP tools on stdio")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *dbPath, *listenAddr, *mcpStdio); err != nil {
		logger.Error("healerd: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, dbPath, listenAddr string, mcpStdio bool) error {
	cfg, err := resolveConfig(configPath, dbPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}

	db, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	mgr := browser.NewManager(browser.Config{
		RemoteURL:       cfg.Browser.RemoteURL,
		Headless:        cfg.Browser.Headless,
		NavigateTimeout: cfg.Browser.NavigateTimeout,
		ElementTimeout:  cfg.Browser.ElementTimeout,
		Logger:          logger,
	})
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer mgr.Close()

	client := completion.New(completion.Config{
		Endpoint:  cfg.Completion.Endpoint,
		Model:     cfg.Completion.Model,
		APIKey:    cfg.Completion.APIKey,
		MaxTokens: cfg.Completion.MaxTokens,
		Timeout:   cfg.Completion.Timeout,
		Logger:    logger,
	})

	var notifier notify.Notifier = notify.NewLog(logger)
	if cfg.Webhook.URL != "" {
		notifier = notify.Multi{
			notify.NewLog(logger),
			notify.NewWebhook(cfg.Webhook.URL,
				notify.WithWebhookSecret(cfg.Webhook.Secret),
				notify.WithWebhookLogger(logger)),
		}
	}

	pipeline := strategy.NewPipeline(logger, strategy.DefaultRegistrations(client, logger)...)
	orc := healing.New(db, pipeline,
		healing.WithNotifier(notifier),
		healing.WithLogger(logger),
	)

	sched := queue.New(db.DB, orc, mgr, queue.Options{
		Visibility:   cfg.Queue.Visibility,
		PollInterval: cfg.Queue.PollInterval,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		Logger:       logger,
	})
	if err := sched.EnsureTable(ctx); err != nil {
		return fmt.Errorf("queue table: %w", err)
	}
	go sched.Run(ctx)

	svc := healing.NewService(orc, mgr, sched)

	// Optional MCP stdio transport.
	if mcpStdio || cfg.MCPStdio {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "healerd",
			Version: "1.0.0",
		}, nil)
		svc.RegisterMCP(mcpSrv)
		go func() {
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("healerd: mcp stdio", "error", err)
			}
		}()
	}

	// Router.
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))
	for _, mw := range shield.APIStack() {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	svc.RegisterHTTP(r)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("healerd: running", "addr", cfg.ListenAddr, "db", cfg.DBPath)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func resolveConfig(configPath, dbPath string) (*Config, error) {
	var cfg *Config
	if configPath != "" {
		loaded, err := LoadConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = &Config{}
		if dbPath != "" {
			cfg.DBPath = dbPath
		}
	}
	cfg.defaults()
	return cfg, nil
}
