// Command botadmin supervises the bot processes and serves the admin API.
//
// Usage:
//
//	botadmin -config socialbot.yaml            # HTTP API on admin.listen
//	botadmin -config socialbot.yaml -mcp       # MCP tools over stdio
//	botadmin -config socialbot.yaml -start-all # start every account on boot
package main

import (
	"context"
	"database/sql"
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

	"github.com/hazyhaar/socialbot/adminapi"
	"github.com/hazyhaar/socialbot/botevents"
	"github.com/hazyhaar/socialbot/botstatus"
	"github.com/hazyhaar/socialbot/internal/config"
	"github.com/hazyhaar/socialbot/registry"
	"github.com/hazyhaar/socialbot/supervisor"
)

func main() {
	configPath := flag.String("config", "", "path to socialbot.yaml (defaults apply when empty)")
	serveMCP := flag.Bool("mcp", false, "serve MCP tools over stdio instead of HTTP")
	startAll := flag.Bool("start-all", false, "start every configured account")
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

	if err := run(ctx, logger, *configPath, *serveMCP, *startAll); err != nil {
		logger.Error("botadmin: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath string, serveMCP, startAll bool) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	accounts, err := registry.NewStore(cfg.Paths.Users, cfg.Paths.Companies, logger)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	go func() {
		if err := accounts.Watch(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("botadmin: accounts watch stopped", "error", err)
		}
	}()

	botArgs := append([]string(nil), cfg.Admin.BotArgs...)
	if configPath != "" {
		botArgs = append(botArgs, "-config", configPath)
	}
	sup := supervisor.New(supervisor.Config{
		LogDir:      cfg.Paths.LogDir,
		Backoff:     cfg.Admin.RestartBackoff,
		MaxBackoff:  cfg.Admin.MaxRestartBackoff,
		MaxRestarts: cfg.Admin.MaxRestarts,
	}, supervisor.Exec{
		Binary: cfg.Admin.BotBinary,
		Args:   botArgs,
		Stderr: os.Stderr,
	}.Command(), supervisor.WithLogger(logger), supervisor.WithAccounts(accounts))
	defer sup.Close()

	accounts.OnReload(func(snap *registry.Snapshot) {
		for _, info := range sup.List() {
			if _, err := snap.Account(info.Username); err != nil {
				logger.Warn("botadmin: running bot no longer in accounts file", "username", info.Username)
			}
		}
	})

	var db *sql.DB
	if db, err = botevents.Open(cfg.Paths.EventsDB); err != nil {
		logger.Warn("botadmin: events database unavailable", "path", cfg.Paths.EventsDB, "error", err)
		db = nil
	} else {
		defer db.Close()
	}

	opts := []adminapi.Option{
		adminapi.WithLogger(logger),
		adminapi.WithClassifier(botstatus.NewClassifier(botstatus.NewCache(),
			botstatus.WithStallThreshold(cfg.Timing.StallThreshold))),
	}
	if db != nil {
		opts = append(opts, adminapi.WithEventsDB(db))
	}
	svc := adminapi.New(adminapi.Config{
		LogDir:         cfg.Paths.LogDir,
		TailLines:      cfg.Admin.TailLines,
		HeartbeatStale: 3 * cfg.Timing.HeartbeatInterval,
	}, sup, accounts, opts...)

	if startAll {
		for _, name := range accounts.Snapshot().Usernames() {
			if err := sup.Start(name); err != nil {
				logger.Warn("botadmin: start", "username", name, "error", err)
			}
		}
	}

	if serveMCP {
		srv := mcp.NewServer(&mcp.Implementation{Name: "botadmin", Version: "1.0.0"}, nil)
		svc.RegisterMCP(srv)
		logger.Info("botadmin: serving MCP on stdio")
		return srv.Run(ctx, &mcp.StdioTransport{})
	}
	return serveHTTP(ctx, logger, cfg.Admin.Listen, svc)
}

func serveHTTP(ctx context.Context, logger *slog.Logger, addr string, svc *adminapi.Service) error {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Route("/api", svc.Routes)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("botadmin: listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("botadmin: shutdown", "error", err)
	}
	logger.Info("botadmin: stopped")
	return nil
}
