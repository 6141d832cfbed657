package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bot.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "123:abc"
  admin_id: 42
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Panel.InboundID != 1 {
		t.Errorf("inbound id: got %d, want 1", cfg.Panel.InboundID)
	}
	if cfg.Panel.ServiceName != "x-ui" {
		t.Errorf("service name: got %q", cfg.Panel.ServiceName)
	}
	if cfg.Watcher.WindowSeconds != 60 {
		t.Errorf("window: got %d, want 60", cfg.Watcher.WindowSeconds)
	}
	if cfg.Backup.Retain != 20 {
		t.Errorf("retain: got %d, want 20", cfg.Backup.Retain)
	}
	if cfg.Referral.BonusDays != 7 {
		t.Errorf("bonus days: got %d, want 7", cfg.Referral.BonusDays)
	}
	if cfg.Location() == nil {
		t.Error("Location returned nil")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BOT_TOKEN", "999:env")
	t.Setenv("ADMIN_ID", "77")
	t.Setenv("HOST_IP", "203.0.113.5")
	t.Setenv("REF_BONUS_DAYS", "14")
	t.Setenv("SNI", "example.org")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "999:env" {
		t.Errorf("token: got %q", cfg.Telegram.Token)
	}
	if cfg.Telegram.AdminID != 77 {
		t.Errorf("admin id: got %d", cfg.Telegram.AdminID)
	}
	if cfg.Panel.HostIP != "203.0.113.5" {
		t.Errorf("host ip: got %q", cfg.Panel.HostIP)
	}
	if cfg.Referral.BonusDays != 14 {
		t.Errorf("bonus days: got %d", cfg.Referral.BonusDays)
	}
	if cfg.Reality.SNI != "example.org" {
		t.Errorf("sni: got %q", cfg.Reality.SNI)
	}
}

func TestLoadMissingToken(t *testing.T) {
	if _, err := Load(writeConfig(t, "log_level: debug\n")); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestEnvParseError(t *testing.T) {
	t.Setenv("BOT_TOKEN", "x")
	t.Setenv("ADMIN_ID", "not-a-number")
	if _, err := Load(""); err == nil {
		t.Fatal("expected parse error for ADMIN_ID")
	}
}
