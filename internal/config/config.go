package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
	Timezone string `yaml:"timezone"`

	Telegram          TelegramConfig      `yaml:"telegram"`
	Panel             PanelConfig         `yaml:"panel"`
	Reality           RealityConfig       `yaml:"reality"`
	Watcher           WatcherConfig       `yaml:"watcher"`
	Backup            BackupConfig        `yaml:"backup"`
	Referral          ReferralConfig      `yaml:"referral"`
	Trial             TrialConfig         `yaml:"trial"`
	ObservabilityHTTP ObservabilityConfig `yaml:"observability_http"`

	loc *time.Location
}

type TelegramConfig struct {
	Token   string `yaml:"token"`
	AdminID int64  `yaml:"admin_id"`
}

// PanelConfig points at the external X-UI installation: its SQLite
// control-plane database, the inbound row we own clients in, and the
// systemd unit to restart after settings mutations.
type PanelConfig struct {
	DBPath      string `yaml:"db_path"`
	BotDBPath   string `yaml:"bot_db_path"`
	InboundID   int64  `yaml:"inbound_id"`
	ServiceName string `yaml:"service_name"`
	HostIP      string `yaml:"host_ip"`
	HostPort    int    `yaml:"host_port"`
}

// RealityConfig carries the VLESS/Reality parameters rendered into
// connection URIs. Values here are defaults; the live inbound row
// overrides them at startup when present.
type RealityConfig struct {
	PublicKey string `yaml:"public_key"`
	SNI       string `yaml:"sni"`
	ShortID   string `yaml:"short_id"`
}

type WatcherConfig struct {
	AccessLogPath string `yaml:"access_log_path"`
	GeoIPPath     string `yaml:"geoip_path"` // mmdb file; empty enables the HTTP fallback
	WindowSeconds int    `yaml:"window_seconds"`
	LookbackHours int    `yaml:"lookback_hours"`
}

type BackupConfig struct {
	Dir    string `yaml:"dir"`
	Retain int    `yaml:"retain"`
}

type ReferralConfig struct {
	BonusDays    int `yaml:"bonus_days"`
	CashbackPct  int `yaml:"cashback_pct"`
}

type TrialConfig struct {
	Days int `yaml:"days"`
}

type ObservabilityConfig struct {
	Addr    string `yaml:"addr"`
	Metrics bool   `yaml:"metrics"`
	Pprof   bool   `yaml:"pprof"`
}

// Load reads the optional YAML config file and applies environment
// overrides. A missing file is not an error: the engine can run from
// environment variables alone.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		case os.IsNotExist(err):
			// env-only run
		default:
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Europe/Moscow"
	}
	if cfg.Panel.DBPath == "" {
		cfg.Panel.DBPath = "/etc/x-ui/x-ui.db"
	}
	if cfg.Panel.BotDBPath == "" {
		cfg.Panel.BotDBPath = "bot_data.db"
	}
	if cfg.Panel.InboundID == 0 {
		cfg.Panel.InboundID = 1
	}
	if cfg.Panel.ServiceName == "" {
		cfg.Panel.ServiceName = "x-ui"
	}
	if cfg.Panel.HostPort == 0 {
		cfg.Panel.HostPort = 443
	}
	if cfg.Watcher.AccessLogPath == "" {
		cfg.Watcher.AccessLogPath = "/usr/local/x-ui/access.log"
	}
	if cfg.Watcher.WindowSeconds == 0 {
		cfg.Watcher.WindowSeconds = 60
	}
	if cfg.Watcher.LookbackHours == 0 {
		cfg.Watcher.LookbackHours = 1
	}
	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = "backups"
	}
	if cfg.Backup.Retain == 0 {
		cfg.Backup.Retain = 20
	}
	if cfg.Referral.BonusDays == 0 {
		cfg.Referral.BonusDays = 7
	}
	if cfg.Referral.CashbackPct == 0 {
		cfg.Referral.CashbackPct = 10
	}
	if cfg.Trial.Days == 0 {
		cfg.Trial.Days = 3
	}

	if cfg.Telegram.Token == "" {
		return nil, fmt.Errorf("telegram token is required (BOT_TOKEN)")
	}
	if cfg.Telegram.AdminID == 0 {
		return nil, fmt.Errorf("admin id is required (ADMIN_ID)")
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", cfg.Timezone, err)
	}
	cfg.loc = loc

	return &cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt64 := func(dst *int64, key string) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing %s=%q: %w", key, v, err)
		}
		*dst = n
		return nil
	}
	setInt := func(dst *int, key string) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing %s=%q: %w", key, v, err)
		}
		*dst = n
		return nil
	}

	setString(&c.Telegram.Token, "BOT_TOKEN")
	setString(&c.Panel.DBPath, "DB_PATH")
	setString(&c.Panel.BotDBPath, "BOT_DB_PATH")
	setString(&c.Panel.HostIP, "HOST_IP")
	setString(&c.Reality.PublicKey, "PUBLIC_KEY")
	setString(&c.Reality.SNI, "SNI")
	setString(&c.Reality.ShortID, "SID")
	setString(&c.LogFile, "BOT_LOG_FILE")
	setString(&c.Watcher.AccessLogPath, "ACCESS_LOG_PATH")

	if err := setInt64(&c.Telegram.AdminID, "ADMIN_ID"); err != nil {
		return err
	}
	if err := setInt64(&c.Panel.InboundID, "INBOUND_ID"); err != nil {
		return err
	}
	if err := setInt(&c.Panel.HostPort, "HOST_PORT"); err != nil {
		return err
	}
	if err := setInt(&c.Referral.BonusDays, "REF_BONUS_DAYS"); err != nil {
		return err
	}
	return nil
}

// Location returns the operator timezone used for date bucketing.
func (c *Config) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

func (c *Config) ParseLogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
