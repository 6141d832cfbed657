package xui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TgID is the Telegram user id stored on a panel client. The panel
// serializes it as a number, a quoted string, or omits it entirely for
// manually created clients, so decoding has to accept all three. A zero
// value marshals back to an absent field, keeping rows the engine never
// bound untouched by a read-modify-write round-trip.
type TgID int64

func (t *TgID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		*t = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("tgId %q: %w", s, err)
	}
	*t = TgID(n)
	return nil
}

func (t TgID) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(t), 10)), nil
}

// Client is one entry of the inbound's `settings.clients` array.
// Fields the engine never touches are still declared so a
// read-modify-write round-trip preserves them.
type Client struct {
	ID         string `json:"id"`
	Flow       string `json:"flow,omitempty"`
	Email      string `json:"email"`
	LimitIP    int    `json:"limitIp"`
	TotalGB    int64  `json:"totalGB"`
	ExpiryTime int64  `json:"expiryTime"`
	Enable     bool   `json:"enable"`
	TgID       TgID   `json:"tgId,omitempty"`
	SubID      string `json:"subId"`
	Comment    string `json:"comment,omitempty"`
	Reset      int    `json:"reset"`
	CreatedAt  int64  `json:"created_at,omitempty"`
	UpdatedAt  int64  `json:"updated_at,omitempty"`
}

// Unlimited reports whether the client has no expiry (expiryTime == 0).
func (c *Client) Unlimited() bool { return c.ExpiryTime == 0 }

// Settings is the parsed `inbounds.settings` JSON column.
type Settings struct {
	Clients    []Client        `json:"clients"`
	Decryption string          `json:"decryption,omitempty"`
	Fallbacks  json.RawMessage `json:"fallbacks,omitempty"`
}

// FindByTgID returns the client bound to the Telegram user, matching
// either the tgId field or the conventional tg_{id} email.
func (s *Settings) FindByTgID(tgID int64) *Client {
	email := EmailForTgID(tgID)
	for i := range s.Clients {
		if int64(s.Clients[i].TgID) == tgID || s.Clients[i].Email == email {
			return &s.Clients[i]
		}
	}
	return nil
}

// FindByID returns the client with the given UUID.
func (s *Settings) FindByID(id string) *Client {
	for i := range s.Clients {
		if s.Clients[i].ID == id {
			return &s.Clients[i]
		}
	}
	return nil
}

// EmailForTgID builds the conventional client email for a Telegram user.
func EmailForTgID(tgID int64) string {
	return fmt.Sprintf("tg_%d", tgID)
}

// StreamSettings is the parsed `inbounds.stream_settings` column,
// declared only as deep as the Reality parameters the engine renders.
type StreamSettings struct {
	Network  string           `json:"network"`
	Security string           `json:"security"`
	Reality  *RealitySettings `json:"realitySettings,omitempty"`
}

// RealitySettings holds the server-side Reality block. The public key,
// fingerprint and spiderX live in the nested client-facing `settings`.
type RealitySettings struct {
	Dest        string              `json:"dest,omitempty"`
	ServerNames []string            `json:"serverNames,omitempty"`
	ShortIDs    []string            `json:"shortIds,omitempty"`
	Settings    RealityClientParams `json:"settings"`
}

type RealityClientParams struct {
	PublicKey   string `json:"publicKey"`
	Fingerprint string `json:"fingerprint,omitempty"`
	SpiderX     string `json:"spiderX,omitempty"`
}

// TrafficRow mirrors one `client_traffics` row.
type TrafficRow struct {
	InboundID  int64
	Enable     bool
	Email      string
	Up         int64
	Down       int64
	ExpiryTime int64
	Total      int64
	Reset      int
	AllTime    int64
	LastOnline int64
}

// PanelSettings is the subscription-URL configuration from the panel's
// key/value `settings` table.
type PanelSettings struct {
	SubEnable   bool
	SubPort     int
	SubPath     string
	WebPort     int
	WebBasePath string
	WebCertFile string
	SubCertFile string
}

// Inbound is a point-in-time snapshot of the row identified by the
// configured inbound id.
type Inbound struct {
	ID       int64
	Port     int
	Settings Settings
	Stream   StreamSettings
}
