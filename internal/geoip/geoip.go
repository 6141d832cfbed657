// Package geoip resolves client IP addresses to ISO country codes from
// a local MaxMind MMDB file. The database is optional: a nil *DB is a
// valid receiver and resolves everything to the empty string.
package geoip

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/oschwald/maxminddb-golang/v2"
)

// countryRecord is a minimal struct for fast MMDB decoding.
type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// DB wraps one country MMDB with thread-safe reload support, so the
// operator can swap the file on disk without restarting the engine.
type DB struct {
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	reader *maxminddb.Reader
}

// Open loads the MMDB at path. An empty path returns a nil DB, which
// callers may use directly.
func Open(path string, logger *slog.Logger) (*DB, error) {
	if path == "" {
		return nil, nil
	}
	db := &DB{path: path, logger: logger}
	if err := db.load(); err != nil {
		return nil, err
	}
	return db, nil
}

func (db *DB) load() error {
	reader, err := maxminddb.Open(db.path)
	if err != nil {
		return fmt.Errorf("geoip: opening %s: %w", db.path, err)
	}

	db.mu.Lock()
	old := db.reader
	db.reader = reader
	db.mu.Unlock()
	if old != nil {
		old.Close()
	}

	db.logger.Info("geoip database loaded",
		"path", db.path, "type", reader.Metadata.DatabaseType)
	return nil
}

// LookupCountry returns the ISO country code for addr, or "" when the
// address is unknown or no database is loaded.
func (db *DB) LookupCountry(addr netip.Addr) string {
	if db == nil {
		return ""
	}
	db.mu.RLock()
	defer db.mu.RUnlock()

	var record countryRecord
	if err := db.reader.Lookup(addr).Decode(&record); err != nil {
		return ""
	}
	return record.Country.ISOCode
}

// StartRefresh re-reads the database file every interval until ctx is
// cancelled. A failed reload keeps the previous reader.
func (db *DB) StartRefresh(ctx context.Context, interval time.Duration) {
	if db == nil || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.load(); err != nil {
					db.logger.Error("geoip reload failed", "err", err)
				}
			}
		}
	}()
}

// Close releases the mmap held by the reader.
func (db *DB) Close() error {
	if db == nil {
		return nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.reader != nil {
		return db.reader.Close()
	}
	return nil
}
