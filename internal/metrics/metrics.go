// Package metrics provides Prometheus metrics for the engine.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Payment and subscription metrics.
	PaymentsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vpnbot",
		Subsystem: "payments",
		Name:      "total",
		Help:      "Total number of successful Telegram Stars payments.",
	})
	PaymentStarsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vpnbot",
		Subsystem: "payments",
		Name:      "stars_total",
		Help:      "Total Stars received through successful payments.",
	})
	PromoRedemptionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vpnbot",
		Subsystem: "promo",
		Name:      "redemptions_total",
		Help:      "Total number of successful promo redemptions.",
	})
	RestartFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vpnbot",
		Subsystem: "panel",
		Name:      "restart_failures_total",
		Help:      "Total number of failed proxy daemon restart requests.",
	})

	// Background loop metrics.
	SnapshotsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vpnbot",
		Subsystem: "historian",
		Name:      "snapshots_total",
		Help:      "Total number of traffic snapshots written.",
	})
	FlashReapedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vpnbot",
		Subsystem: "reaper",
		Name:      "flash_deleted_total",
		Help:      "Total number of flash messages deleted by the reaper.",
	})
	ExpiryWarningsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vpnbot",
		Subsystem: "scheduler",
		Name:      "expiry_warnings_total",
		Help:      "Total number of expiry warnings sent.",
	})
	SuspiciousEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vpnbot",
		Subsystem: "watcher",
		Name:      "suspicious_events_total",
		Help:      "Total number of multi-IP detections.",
	})
	LogLinesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vpnbot",
		Subsystem: "watcher",
		Name:      "log_lines_total",
		Help:      "Total number of accepted access-log lines ingested.",
	})
	BroadcastBlockedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vpnbot",
		Subsystem: "broadcast",
		Name:      "blocked_total",
		Help:      "Total number of broadcast recipients that blocked the bot.",
	})
)

func init() {
	prometheus.MustRegister(
		PaymentsTotal,
		PaymentStarsTotal,
		PromoRedemptionsTotal,
		RestartFailures,
		SnapshotsTotal,
		FlashReapedTotal,
		ExpiryWarningsTotal,
		SuspiciousEventsTotal,
		LogLinesTotal,
		BroadcastBlockedTotal,
	)
}
