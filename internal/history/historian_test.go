package history

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/blikh/xui-stars-bot/internal/store"
	"github.com/blikh/xui-stars-bot/internal/xui"
)

func newHistorian(t *testing.T) (*Historian, *store.Store, *sql.DB) {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	panelPath := filepath.Join(dir, "x-ui.db")
	db, err := sql.Open("sqlite", panelPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	const ddl = `
CREATE TABLE inbounds (id INTEGER PRIMARY KEY, port INTEGER, settings TEXT, stream_settings TEXT);
CREATE TABLE client_traffics (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  inbound_id INTEGER, enable INTEGER, email TEXT UNIQUE,
  up INTEGER DEFAULT 0, down INTEGER DEFAULT 0,
  expiry_time INTEGER DEFAULT 0, total INTEGER DEFAULT 0,
  reset INTEGER DEFAULT 0, all_time INTEGER DEFAULT 0, last_online INTEGER DEFAULT 0
);
CREATE TABLE settings (id INTEGER PRIMARY KEY AUTOINCREMENT, key TEXT, value TEXT);
INSERT INTO inbounds (id, port, settings, stream_settings) VALUES (1, 443, '{"clients":[]}', '{}');
INSERT INTO client_traffics (inbound_id, enable, email, up, down) VALUES (1, 1, 'tg_111', 500, 9500);`
	if _, err := db.Exec(ddl); err != nil {
		t.Fatal(err)
	}

	panel, err := xui.Open(panelPath, 1, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { panel.Close() })

	state, err := store.Open(filepath.Join(dir, "bot.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { state.Close() })

	h := New(panel, state, time.UTC, logger)
	h.now = func() time.Time { return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC) }
	return h, state, db
}

func TestSnapshotWritesTodaysRow(t *testing.T) {
	h, state, _ := newHistorian(t)
	ctx := context.Background()

	if err := h.Snapshot(ctx); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	snap, err := state.SnapshotOn(ctx, "tg_111", "2026-08-29")
	if err != nil {
		t.Fatalf("SnapshotOn: %v", err)
	}
	if snap.Up != 500 || snap.Down != 9500 {
		t.Fatalf("snapshot: %+v", snap)
	}
}

func TestSnapshotOverwritesSameDay(t *testing.T) {
	h, state, db := newHistorian(t)
	ctx := context.Background()

	if err := h.Snapshot(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`UPDATE client_traffics SET down = 20000 WHERE email = 'tg_111'`); err != nil {
		t.Fatal(err)
	}
	if err := h.Snapshot(ctx); err != nil {
		t.Fatal(err)
	}
	snap, err := state.SnapshotOn(ctx, "tg_111", "2026-08-29")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Down != 20000 {
		t.Fatalf("same-day snapshot not overwritten: %+v", snap)
	}
}

func TestReportDeltas(t *testing.T) {
	h, state, _ := newHistorian(t)
	ctx := context.Background()

	// Baselines: a month ago, a week ago, yesterday.
	seed := []store.Snapshot{
		{Email: "tg_111", Date: "2026-07-30", Up: 0, Down: 1000},
		{Email: "tg_111", Date: "2026-08-22", Up: 100, Down: 4000},
		{Email: "tg_111", Date: "2026-08-28", Up: 400, Down: 9000},
	}
	for _, s := range seed {
		if err := state.UpsertSnapshot(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	// Live counters are up=500 down=9500.
	r, err := h.Report(ctx, "tg_111")
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if r.Today.Up != 100 || r.Today.Down != 500 {
		t.Errorf("today: %+v", r.Today)
	}
	if r.Week.Up != 400 || r.Week.Down != 5500 {
		t.Errorf("week: %+v", r.Week)
	}
	if r.Month.Up != 500 || r.Month.Down != 8500 {
		t.Errorf("month: %+v", r.Month)
	}
	if r.Month.Total() != 9000 {
		t.Errorf("month total: %d", r.Month.Total())
	}
}

func TestReportClampsCounterReset(t *testing.T) {
	h, state, db := newHistorian(t)
	ctx := context.Background()

	if err := state.UpsertSnapshot(ctx, store.Snapshot{
		Email: "tg_111", Date: "2026-08-28", Up: 9000, Down: 90000,
	}); err != nil {
		t.Fatal(err)
	}
	// The panel counters were reset below the baseline.
	if _, err := db.Exec(`UPDATE client_traffics SET up = 10, down = 20 WHERE email = 'tg_111'`); err != nil {
		t.Fatal(err)
	}

	r, err := h.Report(ctx, "tg_111")
	if err != nil {
		t.Fatal(err)
	}
	if r.Today.Up != 0 || r.Today.Down != 0 {
		t.Fatalf("reset not clamped: %+v", r.Today)
	}
}

func TestReportIgnoresSameDaySnapshot(t *testing.T) {
	h, state, _ := newHistorian(t)
	ctx := context.Background()

	// Only today's own hourly snapshot exists. It must not become the
	// baseline of any period; all periods fall back to the live counters.
	if err := state.UpsertSnapshot(ctx, store.Snapshot{
		Email: "tg_111", Date: "2026-08-29", Up: 300, Down: 5000,
	}); err != nil {
		t.Fatal(err)
	}

	r, err := h.Report(ctx, "tg_111")
	if err != nil {
		t.Fatal(err)
	}
	for name, u := range map[string]Usage{"today": r.Today, "week": r.Week, "month": r.Month} {
		if u.Up != 500 || u.Down != 9500 {
			t.Errorf("%s baselined on today's snapshot: %+v", name, u)
		}
	}
}

func TestReportWithoutHistory(t *testing.T) {
	h, _, _ := newHistorian(t)
	r, err := h.Report(context.Background(), "tg_111")
	if err != nil {
		t.Fatal(err)
	}
	// No baseline at all: the lifetime counters stand in.
	if r.Today.Up != 500 || r.Today.Down != 9500 {
		t.Fatalf("fallback: %+v", r.Today)
	}
}
