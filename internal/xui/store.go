package xui

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	_ "modernc.org/sqlite"
)

var (
	// ErrInboundUnavailable means the inbound row could not be read or
	// its settings JSON did not parse; no mutator was invoked.
	ErrInboundUnavailable = errors.New("xui: inbound unavailable")
	// ErrStoreWrite means the write transaction failed; no daemon
	// restart should be issued.
	ErrStoreWrite = errors.New("xui: store write failed")
	// ErrClientNotFound means no client matched the lookup key.
	ErrClientNotFound = errors.New("xui: client not found")
)

// RenameHook is invoked for every email rename before the panel
// transaction commits, so derived engine-side tables can be relabeled
// first. Returning an error aborts the whole mutation.
type RenameHook func(ctx context.Context, oldEmail, newEmail string) error

// Store owns all access to the panel's SQLite database. The database
// file belongs to the x-ui daemon; the store assumes no concurrent
// panel writer during its transactions and serializes its own mutators
// behind a single process-wide mutex.
type Store struct {
	db        *sql.DB
	inboundID int64
	logger    *slog.Logger

	mu       sync.Mutex // held across read-modify-write of the inbound row
	onRename RenameHook
}

// Open opens the panel database. Only busy_timeout is set: journal mode
// is the panel's choice and must not be changed under it.
func Open(path string, inboundID int64, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("xui: open %q: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("xui: busy_timeout: %w", err)
	}
	return &Store{db: db, inboundID: inboundID, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// SetRenameHook installs the engine-side relabel callback.
func (s *Store) SetRenameHook(h RenameHook) { s.onRename = h }

// ReadInbound returns a consistent snapshot of the inbound row. It may
// run outside the writer mutex: SQLite replaces the settings column
// atomically, so readers never observe a half-written JSON document.
func (s *Store) ReadInbound(ctx context.Context) (*Inbound, error) {
	var (
		port           int
		settingsJSON   string
		streamSettings string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT port, settings, stream_settings FROM inbounds WHERE id = ?`,
		s.inboundID,
	).Scan(&port, &settingsJSON, &streamSettings)
	if err != nil {
		return nil, fmt.Errorf("%w: reading inbound %d: %v", ErrInboundUnavailable, s.inboundID, err)
	}

	inb := &Inbound{ID: s.inboundID, Port: port}
	if err := json.Unmarshal([]byte(settingsJSON), &inb.Settings); err != nil {
		return nil, fmt.Errorf("%w: parsing settings: %v", ErrInboundUnavailable, err)
	}
	if streamSettings != "" {
		if err := json.Unmarshal([]byte(streamSettings), &inb.Stream); err != nil {
			return nil, fmt.Errorf("%w: parsing stream settings: %v", ErrInboundUnavailable, err)
		}
	}
	return inb, nil
}

// MutationResult describes what a committed mutation did to the client
// set, derived by diffing the settings before and after the mutator.
type MutationResult struct {
	Changed bool
	Created []Client
	Deleted []string          // emails of removed clients
	Renamed map[string]string // old email -> new email
}

// WithInboundLock runs mutator on the parsed settings under the
// process-wide writer mutex and persists the result together with its
// client_traffics side effects in one transaction. The mutator returns
// whether it changed anything; returning false skips the write.
func (s *Store) WithInboundLock(ctx context.Context, mutator func(settings *Settings) (bool, error)) (*MutationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inb, err := s.ReadInbound(ctx)
	if err != nil {
		return nil, err
	}

	before := snapshotClients(inb.Settings.Clients)

	changed, err := mutator(&inb.Settings)
	if err != nil {
		return nil, err
	}
	res := &MutationResult{Changed: changed, Renamed: map[string]string{}}
	if !changed {
		return res, nil
	}

	after := inb.Settings.Clients
	for _, c := range after {
		prevEmail, existed := before[c.ID]
		switch {
		case !existed:
			res.Created = append(res.Created, c)
		case prevEmail != c.Email:
			res.Renamed[prevEmail] = c.Email
		}
	}
	afterIDs := make(map[string]struct{}, len(after))
	for _, c := range after {
		afterIDs[c.ID] = struct{}{}
	}
	for id, email := range before {
		if _, ok := afterIDs[id]; !ok {
			res.Deleted = append(res.Deleted, email)
		}
	}

	// Engine-side tables first: a crash after this point but before the
	// panel commit is repaired by the startup consistency check.
	if s.onRename != nil {
		for oldEmail, newEmail := range res.Renamed {
			if err := s.onRename(ctx, oldEmail, newEmail); err != nil {
				return nil, fmt.Errorf("%w: rename hook %s -> %s: %v", ErrStoreWrite, oldEmail, newEmail, err)
			}
		}
	}

	if err := s.persist(ctx, &inb.Settings, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) persist(ctx context.Context, settings *Settings, res *MutationResult) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshaling settings: %v", ErrStoreWrite, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrStoreWrite, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE inbounds SET settings = ? WHERE id = ?`, string(data), s.inboundID); err != nil {
		return fmt.Errorf("%w: updating inbound settings: %v", ErrStoreWrite, err)
	}

	for oldEmail, newEmail := range res.Renamed {
		if _, err := tx.ExecContext(ctx,
			`UPDATE client_traffics SET email = ? WHERE email = ? AND inbound_id = ?`,
			newEmail, oldEmail, s.inboundID); err != nil {
			return fmt.Errorf("%w: renaming traffic row %s: %v", ErrStoreWrite, oldEmail, err)
		}
	}
	for _, email := range res.Deleted {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM client_traffics WHERE email = ? AND inbound_id = ?`,
			email, s.inboundID); err != nil {
			return fmt.Errorf("%w: deleting traffic row %s: %v", ErrStoreWrite, email, err)
		}
	}
	for _, c := range res.Created {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO client_traffics
			 (inbound_id, enable, email, up, down, expiry_time, total, reset, all_time, last_online)
			 VALUES (?, 1, ?, 0, 0, ?, 0, 0, 0, 0)`,
			s.inboundID, c.Email, c.ExpiryTime); err != nil {
			return fmt.Errorf("%w: inserting traffic row %s: %v", ErrStoreWrite, c.Email, err)
		}
	}

	// Keep the denormalized columns the panel also reads in sync.
	for _, c := range settings.Clients {
		if _, err := tx.ExecContext(ctx,
			`UPDATE client_traffics SET enable = ?, expiry_time = ? WHERE email = ? AND inbound_id = ?`,
			c.Enable, c.ExpiryTime, c.Email, s.inboundID); err != nil {
			return fmt.Errorf("%w: syncing traffic row %s: %v", ErrStoreWrite, c.Email, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrStoreWrite, err)
	}
	return nil
}

func snapshotClients(clients []Client) map[string]string {
	m := make(map[string]string, len(clients))
	for _, c := range clients {
		m[c.ID] = c.Email
	}
	return m
}

// TrafficRows returns all counter rows of the inbound.
func (s *Store) TrafficRows(ctx context.Context) ([]TrafficRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT inbound_id, enable, email, up, down, expiry_time, total, reset, all_time, last_online
		 FROM client_traffics WHERE inbound_id = ?`, s.inboundID)
	if err != nil {
		return nil, fmt.Errorf("xui: query traffic rows: %w", err)
	}
	defer rows.Close()

	var out []TrafficRow
	for rows.Next() {
		var r TrafficRow
		if err := rows.Scan(&r.InboundID, &r.Enable, &r.Email, &r.Up, &r.Down,
			&r.ExpiryTime, &r.Total, &r.Reset, &r.AllTime, &r.LastOnline); err != nil {
			return nil, fmt.Errorf("xui: scan traffic row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("xui: iterate traffic rows: %w", err)
	}
	return out, nil
}

// TrafficByEmail returns the counter row for one client.
func (s *Store) TrafficByEmail(ctx context.Context, email string) (*TrafficRow, error) {
	var r TrafficRow
	err := s.db.QueryRowContext(ctx,
		`SELECT inbound_id, enable, email, up, down, expiry_time, total, reset, all_time, last_online
		 FROM client_traffics WHERE email = ? AND inbound_id = ?`, email, s.inboundID).
		Scan(&r.InboundID, &r.Enable, &r.Email, &r.Up, &r.Down,
			&r.ExpiryTime, &r.Total, &r.Reset, &r.AllTime, &r.LastOnline)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: traffic row %s", ErrClientNotFound, email)
	}
	if err != nil {
		return nil, fmt.Errorf("xui: query traffic row %s: %w", email, err)
	}
	return &r, nil
}

// ReadPanelSettings reads the subscription-URL configuration from the
// panel's key/value settings table. Missing keys keep zero values.
func (s *Store) ReadPanelSettings(ctx context.Context) (*PanelSettings, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM settings WHERE key IN
		 ('subEnable','subPort','subPath','webPort','webBasePath','webCertFile','subCertFile')`)
	if err != nil {
		return nil, fmt.Errorf("%w: reading panel settings: %v", ErrInboundUnavailable, err)
	}
	defer rows.Close()

	ps := &PanelSettings{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("%w: scanning panel settings: %v", ErrInboundUnavailable, err)
		}
		switch key {
		case "subEnable":
			ps.SubEnable = value == "true" || value == "1"
		case "subPort":
			ps.SubPort, _ = strconv.Atoi(value)
		case "subPath":
			ps.SubPath = value
		case "webPort":
			ps.WebPort, _ = strconv.Atoi(value)
		case "webBasePath":
			ps.WebBasePath = value
		case "webCertFile":
			ps.WebCertFile = value
		case "subCertFile":
			ps.SubCertFile = value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating panel settings: %v", ErrInboundUnavailable, err)
	}
	return ps, nil
}

// ClientEmails returns the email set of the current client list, used
// by the startup consistency check.
func (s *Store) ClientEmails(ctx context.Context) (map[string]struct{}, error) {
	inb, err := s.ReadInbound(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(inb.Settings.Clients))
	for _, c := range inb.Settings.Clients {
		out[c.Email] = struct{}{}
	}
	return out, nil
}
