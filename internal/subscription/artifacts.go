package subscription

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/blikh/xui-stars-bot/internal/xui"
)

// Endpoint carries the connection parameters that are not stored in the
// panel database: the public address and the Reality fallbacks used
// when the live inbound row does not override them.
type Endpoint struct {
	HostIP    string
	HostPort  int
	PublicKey string
	SNI       string
	ShortID   string
}

// SetEndpoint installs the rendering parameters.
func (m *Manager) SetEndpoint(e Endpoint) { m.endpoint = e }

// Artifacts is everything a user needs to connect: the vless:// URI and
// the subscription URL served by the panel.
type Artifacts struct {
	Client          xui.Client
	URI             string
	SubscriptionURL string
}

// RenderArtifacts builds the connection URI and subscription URL for
// the client bound to tgID. Both formats are bit-exact contracts
// consumed by client apps; field order must not change.
func (m *Manager) RenderArtifacts(ctx context.Context, tgID int64) (*Artifacts, error) {
	inb, err := m.panel.ReadInbound(ctx)
	if err != nil {
		return nil, err
	}
	c := inb.Settings.FindByTgID(tgID)
	if c == nil {
		return nil, fmt.Errorf("%w: tgId %d", xui.ErrClientNotFound, tgID)
	}

	ps, err := m.panel.ReadPanelSettings(ctx)
	if err != nil {
		return nil, err
	}

	return &Artifacts{
		Client:          *c,
		URI:             m.renderURI(c, inb),
		SubscriptionURL: m.renderSubURL(c, ps),
	}, nil
}

func (m *Manager) renderURI(c *xui.Client, inb *xui.Inbound) string {
	pbk := m.endpoint.PublicKey
	sni := m.endpoint.SNI
	sid := m.endpoint.ShortID
	spx := "/"

	if r := inb.Stream.Reality; r != nil {
		if r.Settings.PublicKey != "" {
			pbk = r.Settings.PublicKey
		}
		if len(r.ServerNames) > 0 && r.ServerNames[0] != "" {
			sni = r.ServerNames[0]
		}
		if len(r.ShortIDs) > 0 && r.ShortIDs[0] != "" {
			sid = r.ShortIDs[0]
		}
		if r.Settings.SpiderX != "" {
			spx = r.Settings.SpiderX
		}
	}

	port := inb.Port
	if port == 0 {
		port = m.endpoint.HostPort
	}

	var b strings.Builder
	fmt.Fprintf(&b, "vless://%s@%s:%d?type=tcp&encryption=none&security=reality&pbk=%s&fp=chrome&sni=%s&sid=%s&spx=%s",
		c.ID, m.endpoint.HostIP, port, pbk, sni, sid, url.QueryEscape(spx))
	if c.Flow != "" {
		fmt.Fprintf(&b, "&flow=%s", c.Flow)
	}
	fmt.Fprintf(&b, "#%s", c.Email)
	return b.String()
}

// renderSubURL builds the subscription URL: https iff the corresponding
// certificate is configured, subPort when subscriptions are enabled and
// webPort (prefixed with webBasePath) otherwise, terminated with the
// client's subId or, when absent, its UUID.
func (m *Manager) renderSubURL(c *xui.Client, ps *xui.PanelSettings) string {
	var (
		scheme = "http"
		port   int
		path   string
	)
	if ps.SubEnable {
		if ps.SubCertFile != "" {
			scheme = "https"
		}
		port = ps.SubPort
		path = joinPath("/", ps.SubPath)
	} else {
		if ps.WebCertFile != "" {
			scheme = "https"
		}
		port = ps.WebPort
		path = joinPath(joinPath("/", ps.WebBasePath), ps.SubPath)
	}

	id := c.SubID
	if id == "" {
		id = c.ID
	}
	return fmt.Sprintf("%s://%s:%d%s%s", scheme, m.endpoint.HostIP, port, path, id)
}

// joinPath concatenates URL path segments with exactly one slash at
// every seam and a trailing slash.
func joinPath(base, seg string) string {
	base = strings.TrimSuffix(base, "/")
	seg = strings.Trim(seg, "/")
	if seg == "" {
		return base + "/"
	}
	return base + "/" + seg + "/"
}
