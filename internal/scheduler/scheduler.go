// Package scheduler runs the engine's periodic work: expiry warnings,
// flash-message reaping, traffic snapshots and database backups.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/blikh/xui-stars-bot/internal/metrics"
	"github.com/blikh/xui-stars-bot/internal/store"
	"github.com/blikh/xui-stars-bot/internal/telegram"
	"github.com/blikh/xui-stars-bot/internal/xui"
)

const (
	expiryInterval = time.Hour
	reapInterval   = time.Minute
	snapInterval   = time.Hour
	backupInterval = 24 * time.Hour

	warnWindow = 24 * time.Hour
)

// Messenger is the transport slice the scheduler needs.
type Messenger interface {
	Send(chatID int64, text string) (int, error)
	Delete(chatID int64, messageID int) error
}

// Snapshotter writes one round of traffic snapshots.
type Snapshotter interface {
	Snapshot(ctx context.Context) error
}

// Backupper produces one backup round.
type Backupper interface {
	Run(botDBPath, panelDBPath string) ([]string, error)
}

// ClientLister exposes the current panel client set.
type ClientLister interface {
	Clients(ctx context.Context) ([]xui.Client, error)
}

// Scheduler owns the background tickers. All loops stop on ctx cancel.
type Scheduler struct {
	state     *store.Store
	clients   ClientLister
	messenger Messenger
	historian Snapshotter
	backups   Backupper
	logger    *slog.Logger

	botDBPath   string
	panelDBPath string

	now func() time.Time

	// expiry timestamps already warned about, keyed by email
	warned map[string]int64
}

func New(state *store.Store, clients ClientLister, messenger Messenger,
	historian Snapshotter, backups Backupper,
	botDBPath, panelDBPath string, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		state:       state,
		clients:     clients,
		messenger:   messenger,
		historian:   historian,
		backups:     backups,
		logger:      logger,
		botDBPath:   botDBPath,
		panelDBPath: panelDBPath,
		now:         time.Now,
		warned:      make(map[string]int64),
	}
}

// Start launches all loops.
func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx, expiryInterval, s.sweepExpiring)
	go s.loop(ctx, reapInterval, s.reapFlash)
	go s.loop(ctx, snapInterval, func(ctx context.Context) {
		if err := s.historian.Snapshot(ctx); err != nil {
			s.logger.Error("traffic snapshot failed", "err", err)
		}
	})
	go s.loop(ctx, backupInterval, func(context.Context) {
		if _, err := s.backups.Run(s.botDBPath, s.panelDBPath); err != nil {
			s.logger.Error("scheduled backup failed", "err", err)
		}
	})
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, tick func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// sweepExpiring warns every client whose paid window ends within the
// next 24 hours. A given expiry timestamp is warned about once; a later
// extension produces a new timestamp and re-arms the warning. Warn
// state of clients no longer on the panel is dropped.
func (s *Scheduler) sweepExpiring(ctx context.Context) {
	clients, err := s.clients.Clients(ctx)
	if err != nil {
		s.logger.Error("expiry sweep: listing clients", "err", err)
		return
	}
	current := make(map[string]struct{}, len(clients))
	for _, c := range clients {
		current[c.Email] = struct{}{}
	}
	for email := range s.warned {
		if _, ok := current[email]; !ok {
			delete(s.warned, email)
		}
	}

	nowMs := s.now().UnixMilli()
	windowMs := warnWindow.Milliseconds()

	for _, c := range clients {
		if c.Unlimited() || int64(c.TgID) == 0 {
			continue
		}
		left := c.ExpiryTime - nowMs
		if left <= 0 || left > windowMs {
			continue
		}
		if s.warned[c.Email] == c.ExpiryTime {
			continue
		}

		hours := (left + 3599_999) / 3_600_000
		text := fmt.Sprintf(
			"⚠️ Ваша подписка истекает через %d ч.\nПродлите её, чтобы не потерять доступ.", hours)
		if _, err := s.messenger.Send(int64(c.TgID), text); err != nil {
			if !telegram.IsPermanent(err) {
				continue // retry on the next sweep
			}
		}
		s.warned[c.Email] = c.ExpiryTime
		metrics.ExpiryWarningsTotal.Inc()
	}
}

// reapFlash deletes flash messages whose lifetime has passed. The row
// survives a transient delivery failure and is retried next minute.
func (s *Scheduler) reapFlash(ctx context.Context) {
	due, err := s.state.DueFlashMessages(ctx, s.now())
	if err != nil {
		s.logger.Error("flash reaper: querying", "err", err)
		return
	}
	for _, m := range due {
		err := s.messenger.Delete(m.ChatID, int(m.MessageID))
		if err != nil && !telegram.IsPermanent(err) {
			s.logger.Warn("flash delete failed, will retry",
				"chat", m.ChatID, "message", m.MessageID, "err", err)
			continue
		}
		if err := s.state.RemoveFlashMessage(ctx, m.ChatID, m.MessageID); err != nil {
			s.logger.Error("flash reaper: removing row", "err", err)
			continue
		}
		metrics.FlashReapedTotal.Inc()
	}
}
