package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/disputebot/config"
	"github.com/alejandrodnm/disputebot/internal/adapters/httpapi"
	"github.com/alejandrodnm/disputebot/internal/adapters/memory"
	"github.com/alejandrodnm/disputebot/internal/adapters/notify"
	"github.com/alejandrodnm/disputebot/internal/adapters/storage"
	"github.com/alejandrodnm/disputebot/internal/adapters/webhook"
	"github.com/alejandrodnm/disputebot/internal/application/disputes"
	"github.com/alejandrodnm/disputebot/internal/application/scheduler"
	"github.com/alejandrodnm/disputebot/internal/metrics"
	"github.com/alejandrodnm/disputebot/internal/ports"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	dryRun := flag.Bool("dry-run", false, "keep disputes in memory only (no storage, no restore)")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	table := flag.Bool("table", false, "print full payout tables (default: config notify.table)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if *table {
		cfg.Notify.Table = true
	}
	setupLogger(cfg.Log)

	slog.Info("disputebot starting",
		"config", *configPath,
		"addr", cfg.HTTP.Addr,
		"misfire_grace", cfg.MisfireGrace(),
		"dry_run", *dryRun,
		"webhook", cfg.Notify.WebhookURL != "",
	)

	m := metrics.New(prometheus.DefaultRegisterer)
	sched := scheduler.New(scheduler.WithGrace(cfg.MisfireGrace()))

	opts := []disputes.Option{disputes.WithMetrics(m)}
	if !*dryRun {
		store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
		if err != nil {
			slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
			os.Exit(1)
		}
		defer store.Close()
		opts = append(opts, disputes.WithStore(store))
	}

	svc := disputes.New(memory.NewRegistry(), sched, newPublisher(cfg.Notify), opts...)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if _, err := svc.Restore(ctx); err != nil {
		slog.Error("failed to restore disputes", "err", err)
		os.Exit(1)
	}

	router := httpapi.NewRouter(httpapi.New(svc, slog.Default()), promhttp.Handler())
	srv := httpapi.NewServer(cfg.HTTP.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return httpapi.Serve(gctx, srv) })

	if err := g.Wait(); err != nil {
		slog.Error("disputebot exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("disputebot stopped cleanly", "pending_deadlines", sched.Pending())
}

// newPublisher builds the console publisher, plus the webhook when configured.
func newPublisher(cfg config.NotifyConfig) ports.Publisher {
	console := notify.NewConsole(cfg.Table)
	if cfg.WebhookURL == "" {
		return console
	}
	hook := webhook.NewClient(cfg.WebhookURL,
		webhook.WithRate(cfg.WebhookRatePerSec),
		webhook.WithTimeout(time.Duration(cfg.WebhookTimeoutSeconds)*time.Second),
	)
	return notify.NewMulti(console, hook)
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
