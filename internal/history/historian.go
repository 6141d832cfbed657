// Package history maintains daily per-client traffic snapshots and
// derives usage deltas from them. Panel counters are cumulative and
// reset out of band, so deltas are clamped at zero.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/blikh/xui-stars-bot/internal/metrics"
	"github.com/blikh/xui-stars-bot/internal/store"
	"github.com/blikh/xui-stars-bot/internal/xui"
)

const dateLayout = "2006-01-02"

// Usage is a byte delta over one reporting period.
type Usage struct {
	Up   int64
	Down int64
}

func (u Usage) Total() int64 { return u.Up + u.Down }

// Historian snapshots the panel traffic counters into the engine store.
// Dates are keyed in the operator's timezone, so the daily boundary
// matches what the operator sees.
type Historian struct {
	panel  *xui.Store
	state  *store.Store
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time
}

func New(panel *xui.Store, state *store.Store, loc *time.Location, logger *slog.Logger) *Historian {
	return &Historian{panel: panel, state: state, loc: loc, logger: logger, now: time.Now}
}

// Snapshot persists the current counters of every client under today's
// date. Re-running within the same day overwrites, so the stored row
// always carries the day's latest counters.
func (h *Historian) Snapshot(ctx context.Context) error {
	rows, err := h.panel.TrafficRows(ctx)
	if err != nil {
		return err
	}
	date := h.now().In(h.loc).Format(dateLayout)
	for _, r := range rows {
		if err := h.state.UpsertSnapshot(ctx, store.Snapshot{
			Email: r.Email, Date: date, Up: r.Up, Down: r.Down,
		}); err != nil {
			return fmt.Errorf("history: snapshot %s: %w", r.Email, err)
		}
		metrics.SnapshotsTotal.Inc()
	}
	h.logger.Debug("traffic snapshot written", "clients", len(rows), "date", date)
	return nil
}

// Report bundles the periods shown to a user.
type Report struct {
	Today Usage
	Week  Usage
	Month Usage
}

// Report computes today/week/month usage for one client.
func (h *Historian) Report(ctx context.Context, email string) (*Report, error) {
	row, err := h.panel.TrafficByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	cur := Usage{Up: row.Up, Down: row.Down}

	today, err := h.delta(ctx, email, cur, 1)
	if err != nil {
		return nil, err
	}
	week, err := h.delta(ctx, email, cur, 7)
	if err != nil {
		return nil, err
	}
	month, err := h.delta(ctx, email, cur, 30)
	if err != nil {
		return nil, err
	}
	return &Report{Today: today, Week: week, Month: month}, nil
}

// delta subtracts the baseline snapshot (the oldest one dated at most
// daysBack days ago) from the live counters. A snapshot taken today
// cannot anchor a period, so with no older row in range (a client newer
// than the history) the live counters are reported as-is; a panel-side
// counter reset makes the raw difference negative, which is clamped to
// zero rather than shown as garbage.
func (h *Historian) delta(ctx context.Context, email string, cur Usage, daysBack int) (Usage, error) {
	now := h.now().In(h.loc)
	minDate := now.AddDate(0, 0, -daysBack).Format(dateLayout)
	base, err := h.state.OldestSnapshotSince(ctx, email, minDate)
	if err == store.ErrNotFound {
		return cur, nil
	}
	if err != nil {
		return Usage{}, err
	}
	if base.Date == now.Format(dateLayout) {
		return cur, nil
	}
	return Usage{
		Up:   clamp(cur.Up - base.Up),
		Down: clamp(cur.Down - base.Down),
	}, nil
}

func clamp(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
