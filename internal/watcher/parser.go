package watcher

import (
	"net/netip"
	"regexp"
	"strings"
	"time"
)

// Event is one accepted connection from the proxy access log.
type Event struct {
	Time  time.Time
	IP    netip.Addr
	Email string
}

// accessRe matches xray access-log lines:
//
//	2026/08/29 12:00:01.123456 from tcp:203.0.113.5:51544 accepted tcp:example.com:443 [inbound -> direct] email: tg_111
//
// The fractional seconds, the transport prefix on the source address
// and the routing suffix all vary between versions, so only the stable
// parts are anchored.
var accessRe = regexp.MustCompile(
	`^(\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2})(?:\.\d+)? from (?:tcp:|udp:)?(\[[0-9a-fA-F:.]+\]|[0-9a-fA-F:.]+):\d+ accepted .*email: (\S+)`)

const timeLayout = "2006/01/02 15:04:05"

// ParseLine extracts an Event from one log line. The second return is
// false for lines that are not accepted-connection records (errors,
// DNS noise, rejected handshakes).
func ParseLine(line string, loc *time.Location) (Event, bool) {
	m := accessRe.FindStringSubmatch(line)
	if m == nil {
		return Event{}, false
	}
	ts, err := time.ParseInLocation(timeLayout, m[1], loc)
	if err != nil {
		return Event{}, false
	}
	host := strings.Trim(m[2], "[]")
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return Event{}, false
	}
	return Event{Time: ts, IP: ip, Email: m[3]}, true
}
