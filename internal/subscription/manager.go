// Package subscription owns the lifecycle of panel clients: it is the
// only component allowed to mutate the inbound settings, and it couples
// every committed mutation to a proxy daemon restart request.
package subscription

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/blikh/xui-stars-bot/internal/metrics"
	"github.com/blikh/xui-stars-bot/internal/store"
	"github.com/blikh/xui-stars-bot/internal/xui"
)

// ErrRestartFailed means the settings were persisted but the proxy
// daemon restart request failed.
var ErrRestartFailed = errors.New("subscription: daemon restart failed")

const dayMillis = 24 * 60 * 60 * 1000

// Restarter requests a restart of the proxy daemon after a settings
// mutation. It does not verify daemon health afterwards.
type Restarter interface {
	Restart(ctx context.Context) error
}

// Manager coordinates panel mutations with the engine state store.
type Manager struct {
	panel     *xui.Store
	state     *store.Store
	restarter Restarter
	logger    *slog.Logger
	endpoint  Endpoint
	now       func() time.Time
}

// New wires the manager and installs the rename hook so traffic history
// is relabeled (engine database first) whenever a client email changes.
func New(panel *xui.Store, state *store.Store, restarter Restarter, logger *slog.Logger) *Manager {
	m := &Manager{
		panel:     panel,
		state:     state,
		restarter: restarter,
		logger:    logger,
		now:       time.Now,
	}
	panel.SetRenameHook(func(ctx context.Context, oldEmail, newEmail string) error {
		return m.state.RenameHistory(ctx, oldEmail, newEmail)
	})
	return m
}

// ApplyTime extends (or, with negative days, shortens) the paid window
// of the client bound to tgID, creating the client on first activation.
// Returns the new expiry in epoch milliseconds, 0 meaning unlimited.
//
// Policy: unlimited stays unlimited (a negative delta on unlimited is a
// logged no-op); an expired window restarts from now; otherwise the
// delta is additive. A result in the past is kept as-is, which makes
// the client naturally inaccessible.
func (m *Manager) ApplyTime(ctx context.Context, tgID int64, days int) (int64, error) {
	var newExpiry int64
	delta := int64(days) * dayMillis

	res, err := m.panel.WithInboundLock(ctx, func(s *xui.Settings) (bool, error) {
		nowMs := m.now().UnixMilli()

		c := s.FindByTgID(tgID)
		if c == nil {
			created, err := newClient(tgID, nowMs+delta, nowMs)
			if err != nil {
				return false, err
			}
			s.Clients = append(s.Clients, *created)
			newExpiry = created.ExpiryTime
			return true, nil
		}

		changed := false
		switch {
		case c.Unlimited():
			if days < 0 {
				m.logger.Info("shorten on unlimited client is a no-op", "tgId", tgID, "days", days)
			}
			newExpiry = 0
		case c.ExpiryTime < nowMs:
			c.ExpiryTime = nowMs + delta
			changed = true
			newExpiry = c.ExpiryTime
		default:
			c.ExpiryTime += delta
			changed = true
			newExpiry = c.ExpiryTime
		}

		if !c.Enable {
			c.Enable = true
			changed = true
		}
		if changed {
			c.UpdatedAt = nowMs
		}
		return changed, nil
	})
	if err != nil {
		return 0, err
	}

	if err := m.restartIfChanged(ctx, res); err != nil {
		return 0, err
	}
	return newExpiry, nil
}

// Rebind moves an existing client (located by UUID) to a new Telegram
// user: tgId and email are rewritten, and both the panel traffic row
// and the engine traffic history follow the new email.
func (m *Manager) Rebind(ctx context.Context, clientUUID string, newTgID int64) error {
	res, err := m.panel.WithInboundLock(ctx, func(s *xui.Settings) (bool, error) {
		c := s.FindByID(clientUUID)
		if c == nil {
			return false, fmt.Errorf("%w: id %s", xui.ErrClientNotFound, clientUUID)
		}
		newEmail := xui.EmailForTgID(newTgID)
		if int64(c.TgID) == newTgID && c.Email == newEmail {
			return false, nil
		}
		c.TgID = xui.TgID(newTgID)
		c.Email = newEmail
		c.UpdatedAt = m.now().UnixMilli()
		return true, nil
	})
	if err != nil {
		return err
	}
	return m.restartIfChanged(ctx, res)
}

// Delete removes a client and its traffic row.
func (m *Manager) Delete(ctx context.Context, clientUUID string) error {
	res, err := m.panel.WithInboundLock(ctx, func(s *xui.Settings) (bool, error) {
		for i := range s.Clients {
			if s.Clients[i].ID == clientUUID {
				s.Clients = append(s.Clients[:i], s.Clients[i+1:]...)
				return true, nil
			}
		}
		return false, fmt.Errorf("%w: id %s", xui.ErrClientNotFound, clientUUID)
	})
	if err != nil {
		return err
	}
	return m.restartIfChanged(ctx, res)
}

// ClientFor returns the panel client bound to a Telegram user.
func (m *Manager) ClientFor(ctx context.Context, tgID int64) (*xui.Client, error) {
	inb, err := m.panel.ReadInbound(ctx)
	if err != nil {
		return nil, err
	}
	c := inb.Settings.FindByTgID(tgID)
	if c == nil {
		return nil, fmt.Errorf("%w: tgId %d", xui.ErrClientNotFound, tgID)
	}
	out := *c
	return &out, nil
}

// Clients returns a snapshot of the full client list.
func (m *Manager) Clients(ctx context.Context) ([]xui.Client, error) {
	inb, err := m.panel.ReadInbound(ctx)
	if err != nil {
		return nil, err
	}
	return append([]xui.Client(nil), inb.Settings.Clients...), nil
}

func (m *Manager) restartIfChanged(ctx context.Context, res *xui.MutationResult) error {
	if !res.Changed {
		return nil
	}
	if err := m.restarter.Restart(ctx); err != nil {
		metrics.RestartFailures.Inc()
		return fmt.Errorf("%w: %v", ErrRestartFailed, err)
	}
	return nil
}

func newClient(tgID, expiryMs, nowMs int64) (*xui.Client, error) {
	subID, err := newSubID()
	if err != nil {
		return nil, err
	}
	return &xui.Client{
		ID:         uuid.NewString(),
		Email:      xui.EmailForTgID(tgID),
		TgID:       xui.TgID(tgID),
		SubID:      subID,
		ExpiryTime: expiryMs,
		Enable:     true,
		CreatedAt:  nowMs,
		UpdatedAt:  nowMs,
	}, nil
}

// newSubID returns a 16-hex-character subscription identifier.
func newSubID() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("subscription: generating subId: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
