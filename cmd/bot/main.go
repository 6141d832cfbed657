package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blikh/xui-stars-bot/internal/backup"
	"github.com/blikh/xui-stars-bot/internal/bot"
	"github.com/blikh/xui-stars-bot/internal/config"
	"github.com/blikh/xui-stars-bot/internal/geoip"
	"github.com/blikh/xui-stars-bot/internal/history"
	"github.com/blikh/xui-stars-bot/internal/promo"
	"github.com/blikh/xui-stars-bot/internal/scheduler"
	"github.com/blikh/xui-stars-bot/internal/store"
	"github.com/blikh/xui-stars-bot/internal/subscription"
	"github.com/blikh/xui-stars-bot/internal/telegram"
	"github.com/blikh/xui-stars-bot/internal/watcher"
	"github.com/blikh/xui-stars-bot/internal/xui"
)

func main() {
	fs := flag.NewFlagSet("bot", flag.ExitOnError)
	configPath := fs.String("config", "configs/bot.yaml", "path to config file")
	fs.Parse(os.Args[1:])

	// .env is optional, real env vars win either way.
	_ = godotenv.Load()

	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			bootLogger.Error("failed to open log file", "path", cfg.LogFile, "err", err)
			os.Exit(1)
		}
		defer f.Close()
		out = io.MultiWriter(os.Stdout, f)
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: cfg.ParseLogLevel()}))
	logger.Info("starting xui-stars-bot", "inbound", cfg.Panel.InboundID, "panelDB", cfg.Panel.DBPath)

	if obs := cfg.ObservabilityHTTP; obs.Addr != "" {
		mux := http.NewServeMux()
		if obs.Pprof {
			// Re-register pprof handlers on our mux (net/http/pprof init registers on DefaultServeMux).
			mux.HandleFunc("/debug/pprof/", http.DefaultServeMux.ServeHTTP)
		}
		if obs.Metrics {
			mux.Handle("/metrics", promhttp.Handler())
		}
		go func() {
			logger.Info("starting observability server", "addr", obs.Addr, "pprof", obs.Pprof, "metrics", obs.Metrics)
			if err := http.ListenAndServe(obs.Addr, mux); err != nil {
				logger.Error("observability server failed", "err", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("bot error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	panel, err := xui.Open(cfg.Panel.DBPath, cfg.Panel.InboundID, logger)
	if err != nil {
		return err
	}
	defer panel.Close()

	state, err := store.Open(cfg.Panel.BotDBPath, logger)
	if err != nil {
		return err
	}
	defer state.Close()

	if err := state.SeedPrices(ctx); err != nil {
		return err
	}

	restarter := &subscription.SystemdRestarter{Service: cfg.Panel.ServiceName, Logger: logger}
	subs := subscription.New(panel, state, restarter, logger)
	subs.SetEndpoint(subscription.Endpoint{
		HostIP:    cfg.Panel.HostIP,
		HostPort:  cfg.Panel.HostPort,
		PublicKey: cfg.Reality.PublicKey,
		SNI:       cfg.Reality.SNI,
		ShortID:   cfg.Reality.ShortID,
	})
	subs.SyncRealityFromInbound(ctx)
	if err := subs.RepairHistory(ctx); err != nil {
		logger.Warn("history repair failed", "err", err)
	}

	transport, err := telegram.New(cfg.Telegram.Token, logger)
	if err != nil {
		return err
	}

	promos := promo.New(state, subs, logger)
	historian := history.New(panel, state, cfg.Location(), logger)
	backups := backup.New(cfg.Backup.Dir, cfg.Backup.Retain, logger)

	b := bot.New(transport, state, subs, promos, historian, backups, bot.Config{
		AdminID:      cfg.Telegram.AdminID,
		TrialDays:    cfg.Trial.Days,
		RefBonusDays: cfg.Referral.BonusDays,
		CashbackPct:  cfg.Referral.CashbackPct,
		BotDBPath:    cfg.Panel.BotDBPath,
		PanelDBPath:  cfg.Panel.DBPath,
	}, cfg.Location(), logger)

	sched := scheduler.New(state, subs, transport, historian, backups,
		cfg.Panel.BotDBPath, cfg.Panel.DBPath, logger)
	sched.Start(ctx)

	if cfg.Watcher.AccessLogPath != "" {
		geoDB, err := geoip.Open(cfg.Watcher.GeoIPPath, logger)
		if err != nil {
			logger.Warn("geoip unavailable, using remote lookups only", "err", err)
		} else {
			geoDB.StartRefresh(ctx, 24*time.Hour)
			defer geoDB.Close()
		}
		resolver := watcher.NewResolver(geoDB, logger)
		w := watcher.New(cfg.Watcher.AccessLogPath,
			time.Duration(cfg.Watcher.WindowSeconds)*time.Second,
			time.Duration(cfg.Watcher.LookbackHours)*time.Hour,
			resolver, state, b, cfg.Location(), logger)
		go w.Run(ctx)
	}

	b.Run(ctx)
	logger.Info("shutting down")
	return nil
}
