package watcher

import (
	"net/netip"
	"sort"
	"strings"
	"time"
)

// Detector keeps a per-client sliding window of source addresses and
// flags clients seen from more than one IP within the window, which on
// a single-device plan means a shared subscription.
type Detector struct {
	window  time.Duration
	seen    map[string][]Event // per email, oldest first
}

func NewDetector(window time.Duration) *Detector {
	return &Detector{
		window: window,
		seen:   make(map[string][]Event),
	}
}

// Observe records one connection and returns the distinct IPs active in
// the client's window. Two or more means the event is suspicious.
func (d *Detector) Observe(e Event) []netip.Addr {
	events := append(d.seen[e.Email], e)

	cutoff := e.Time.Add(-d.window)
	i := 0
	for i < len(events) && events[i].Time.Before(cutoff) {
		i++
	}
	events = events[i:]
	d.seen[e.Email] = events

	uniq := make(map[netip.Addr]struct{}, len(events))
	for _, ev := range events {
		uniq[ev.IP] = struct{}{}
	}
	ips := make([]netip.Addr, 0, len(uniq))
	for ip := range uniq {
		ips = append(ips, ip)
	}
	sort.Slice(ips, func(i, j int) bool { return ips[i].Less(ips[j]) })
	return ips
}

// Forget drops a client's window, used when the client is deleted.
func (d *Detector) Forget(email string) {
	delete(d.seen, email)
}

// FormatIPList renders "🇩🇪 1.2.3.4, 🇫🇷 5.6.7.8" for operator alerts.
func FormatIPList(ips []netip.Addr, country func(netip.Addr) string) string {
	parts := make([]string, 0, len(ips))
	for _, ip := range ips {
		parts = append(parts, FlagEmoji(country(ip))+" "+ip.String())
	}
	return strings.Join(parts, ", ")
}
