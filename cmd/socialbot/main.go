// Command socialbot runs the automation loop of one account.
//
// Usage:
//
//	socialbot -config socialbot.yaml -account alice
//
// The bot logs to <log_dir>/<account>.log in the format the admin status
// classifier reads. Exit codes: 0 stopped by signal, 1 failure (restarted
// by the supervisor), 2 configuration error, 3 stop escalation.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/socialbot/bot"
	"github.com/hazyhaar/socialbot/botevents"
	"github.com/hazyhaar/socialbot/botlog"
	"github.com/hazyhaar/socialbot/browser"
	"github.com/hazyhaar/socialbot/internal/config"
	"github.com/hazyhaar/socialbot/registry"
)

const eventRetention = 30 * 24 * time.Hour

func main() {
	configPath := flag.String("config", "", "path to socialbot.yaml (defaults apply when empty)")
	account := flag.String("account", "", "username of the account to run")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	quiet := flag.Bool("quiet", false, "do not mirror the log as JSON on stderr")
	flag.Parse()

	if *account == "" {
		fmt.Fprintln(os.Stderr, "usage: socialbot -config <file> -account <username>")
		os.Exit(bot.ExitConfigError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, *configPath, *account, parseLevel(*logLevel), *quiet)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "socialbot:", err)
	}
	os.Exit(bot.ExitCode(err))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, configPath, username string, level slog.Level, quiet bool) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return &bot.ConfigError{Field: "config", Reason: err.Error()}
	}
	snap, err := registry.Load(cfg.Paths.Users, cfg.Paths.Companies)
	if err != nil {
		return &bot.ConfigError{Field: "accounts", Reason: err.Error()}
	}
	acct, err := snap.Account(username)
	if err != nil {
		return &bot.ConfigError{Field: "account", Reason: err.Error()}
	}

	logFile, err := botlog.OpenFile(cfg.Paths.LogDir, username)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer logFile.Close()

	var handler slog.Handler = botlog.NewHandler(logFile, &botlog.Options{Level: level})
	if !quiet {
		handler = botlog.Tee(handler, slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	opts := []bot.Option{bot.WithLogger(logger)}

	db, err := botevents.Open(cfg.Paths.EventsDB)
	if err != nil {
		logger.Warn("socialbot: events database unavailable, running without", "path", cfg.Paths.EventsDB, "error", err)
	} else {
		defer db.Close()
		events := botevents.NewStore(db, logger)
		defer events.Close()
		if n, err := events.Prune(ctx, eventRetention); err != nil {
			logger.Warn("socialbot: prune events", "error", err)
		} else if n > 0 {
			logger.Debug("socialbot: pruned events", "count", n)
		}

		hb := botevents.NewHeartbeat(db, username, cfg.Timing.HeartbeatInterval, logger)
		hb.Start(ctx)
		defer hb.Stop()
		opts = append(opts, bot.WithEvents(events), bot.WithPlatformReporter(hb))
	}

	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.RemoteURL,
		Headful:          cfg.Browser.Headful,
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Logger:           logger,
	})
	defer mgr.Close()

	return bot.New(cfg, acct, snap.AllTargets(), mgr, opts...).Run(ctx)
}
