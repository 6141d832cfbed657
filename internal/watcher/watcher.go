// Package watcher tails the proxy access log, records connections and
// raises multi-IP alerts for clients sharing their subscription.
package watcher

import (
	"context"
	"log/slog"
	"net/netip"
	"time"

	"github.com/blikh/xui-stars-bot/internal/metrics"
	"github.com/blikh/xui-stars-bot/internal/store"
)

const notifyCooldown = time.Hour

// Notifier delivers a suspicious-activity alert to the operator.
type Notifier interface {
	NotifySuspicious(ctx context.Context, email, ipList string, count int)
}

// Watcher wires tailer, parser, resolver and detector together.
type Watcher struct {
	tailer   *Tailer
	detector *Detector
	resolver *Resolver
	state    *store.Store
	notifier Notifier
	logger   *slog.Logger
	loc      *time.Location
	lookback time.Duration

	lastNotified map[string]time.Time
}

func New(logPath string, window time.Duration, lookback time.Duration,
	resolver *Resolver, state *store.Store, notifier Notifier,
	loc *time.Location, logger *slog.Logger) *Watcher {
	return &Watcher{
		tailer:       NewTailer(logPath, logger),
		detector:     NewDetector(window),
		resolver:     resolver,
		state:        state,
		notifier:     notifier,
		logger:       logger,
		loc:          loc,
		lookback:     lookback,
		lastNotified: make(map[string]time.Time),
	}
}

// Run tails the access log until ctx is cancelled, pruning aged
// connection records once an hour.
func (w *Watcher) Run(ctx context.Context) {
	go w.pruneLoop(ctx)
	w.tailer.Run(ctx, func(line string) {
		w.handleLine(ctx, line)
	})
}

func (w *Watcher) handleLine(ctx context.Context, line string) {
	e, ok := ParseLine(line, w.loc)
	if !ok {
		return
	}
	metrics.LogLinesTotal.Inc()

	country := w.resolver.Country(ctx, e.IP)
	if err := w.state.InsertConnectionEvent(ctx, store.ConnectionEvent{
		Email: e.Email, IP: e.IP.String(), CountryCode: country, Timestamp: e.Time.Unix(),
	}); err != nil {
		w.logger.Error("recording connection", "email", e.Email, "err", err)
	}

	ips := w.detector.Observe(e)
	if len(ips) < 2 {
		return
	}

	ipList := FormatIPList(ips, func(ip netip.Addr) string {
		return w.resolver.Country(ctx, ip)
	})
	if err := w.state.UpsertSuspiciousEvent(ctx, e.Email, ipList, e.Time); err != nil {
		w.logger.Error("recording suspicious event", "email", e.Email, "err", err)
	}
	metrics.SuspiciousEventsTotal.Inc()
	w.logger.Warn("multiple IPs in window", "email", e.Email, "ips", ipList)

	if w.notifier != nil && time.Since(w.lastNotified[e.Email]) > notifyCooldown {
		w.lastNotified[e.Email] = time.Now()
		w.notifier.NotifySuspicious(ctx, e.Email, ipList, len(ips))
	}
}

func (w *Watcher) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-w.lookback)
			if err := w.state.PruneConnectionEvents(ctx, cutoff); err != nil {
				w.logger.Error("pruning connection events", "err", err)
			}
		}
	}
}
