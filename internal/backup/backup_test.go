package backup

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testRunner(t *testing.T, retain int) (*Runner, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "backups")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(dir, retain, logger), dir
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunCopiesBothDatabases(t *testing.T) {
	r, dir := testRunner(t, 20)
	src := t.TempDir()
	bot := writeFile(t, filepath.Join(src, "bot.db"), "bot-bytes")
	panel := writeFile(t, filepath.Join(src, "x-ui.db"), "panel-bytes")
	r.now = func() time.Time { return time.Date(2026, 8, 29, 3, 0, 0, 0, time.UTC) }

	created, err := r.Run(bot, panel)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("created: %v", created)
	}
	want := filepath.Join(dir, "bot_data_2026-08-29_03-00-00.db")
	if created[0] != want {
		t.Fatalf("name: got %s, want %s", created[0], want)
	}
	data, err := os.ReadFile(want)
	if err != nil || string(data) != "bot-bytes" {
		t.Fatalf("content: %q err=%v", data, err)
	}
}

func TestRunSurvivesMissingPanelDB(t *testing.T) {
	r, _ := testRunner(t, 20)
	src := t.TempDir()
	bot := writeFile(t, filepath.Join(src, "bot.db"), "x")

	created, err := r.Run(bot, filepath.Join(src, "nope.db"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created: %v", created)
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	r, dir := testRunner(t, 3)
	src := t.TempDir()
	bot := writeFile(t, filepath.Join(src, "bot.db"), "x")

	base := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		r.now = func() time.Time { return at }
		if _, err := r.Run(bot, ""); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var kept []string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".db" {
			kept = append(kept, e.Name())
		}
	}
	if len(kept) != 3 {
		t.Fatalf("kept %d files: %v", len(kept), kept)
	}
	// The oldest two were removed.
	for i := 0; i < 2; i++ {
		name := fmt.Sprintf("bot_data_2026-08-29_0%d-00-00.db", i)
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Fatalf("%s still present", name)
		}
	}
}
