package watcher

import (
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestParseLine(t *testing.T) {
	cases := []struct {
		line  string
		email string
		ip    string
		ok    bool
	}{
		{
			line:  "2026/08/29 12:00:01 from tcp:203.0.113.5:51544 accepted tcp:example.com:443 [inbound -> direct] email: tg_111",
			email: "tg_111", ip: "203.0.113.5", ok: true,
		},
		{
			line:  "2026/08/29 12:00:01.123456 from 198.51.100.7:40000 accepted udp:1.1.1.1:53 [inbound -> direct] email: tg_222",
			email: "tg_222", ip: "198.51.100.7", ok: true,
		},
		{
			line:  "2026/08/29 12:00:01 from tcp:[2001:db8::1]:51544 accepted tcp:example.com:443 email: tg_333",
			email: "tg_333", ip: "2001:db8::1", ok: true,
		},
		{line: "2026/08/29 12:00:01 [Warning] core: connection closed", ok: false},
		{line: "", ok: false},
	}
	for _, tc := range cases {
		e, ok := ParseLine(tc.line, time.UTC)
		if ok != tc.ok {
			t.Errorf("%q: ok=%v, want %v", tc.line, ok, tc.ok)
			continue
		}
		if !ok {
			continue
		}
		if e.Email != tc.email || e.IP != netip.MustParseAddr(tc.ip) {
			t.Errorf("%q: got %+v", tc.line, e)
		}
		if e.Time.Hour() != 12 || e.Time.Year() != 2026 {
			t.Errorf("%q: time %v", tc.line, e.Time)
		}
	}
}

func TestDetectorWindow(t *testing.T) {
	d := NewDetector(60 * time.Second)
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	ipA := netip.MustParseAddr("203.0.113.5")
	ipB := netip.MustParseAddr("198.51.100.7")

	ev := func(at time.Time, ip netip.Addr) Event {
		return Event{Time: at, IP: ip, Email: "tg_111"}
	}

	if got := d.Observe(ev(base, ipA)); len(got) != 1 {
		t.Fatalf("first event: %v", got)
	}
	// Same IP again: still one.
	if got := d.Observe(ev(base.Add(10*time.Second), ipA)); len(got) != 1 {
		t.Fatalf("repeat IP: %v", got)
	}
	// Second IP inside the window: flagged, sorted order.
	got := d.Observe(ev(base.Add(30*time.Second), ipB))
	if len(got) != 2 || got[0] != ipB || got[1] != ipA {
		t.Fatalf("two IPs: %v", got)
	}
	// Past the window the old IP ages out.
	if got := d.Observe(ev(base.Add(2*time.Minute), ipB)); len(got) != 1 {
		t.Fatalf("aged out: %v", got)
	}

	d.Forget("tg_111")
	if got := d.Observe(ev(base.Add(3*time.Minute), ipA)); len(got) != 1 {
		t.Fatalf("after forget: %v", got)
	}
}

func TestDetectorIsolatesClients(t *testing.T) {
	d := NewDetector(time.Minute)
	at := time.Now()
	d.Observe(Event{Time: at, IP: netip.MustParseAddr("203.0.113.5"), Email: "tg_111"})
	got := d.Observe(Event{Time: at, IP: netip.MustParseAddr("198.51.100.7"), Email: "tg_222"})
	if len(got) != 1 {
		t.Fatalf("cross-client leak: %v", got)
	}
}

func TestFlagEmoji(t *testing.T) {
	cases := map[string]string{
		"DE": "🇩🇪",
		"ru": "🇷🇺",
		"":   "🌐",
		"X1": "🌐",
		"USA": "🌐",
	}
	for in, want := range cases {
		if got := FlagEmoji(in); got != want {
			t.Errorf("FlagEmoji(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatIPList(t *testing.T) {
	ips := []netip.Addr{
		netip.MustParseAddr("203.0.113.5"),
		netip.MustParseAddr("198.51.100.7"),
	}
	got := FormatIPList(ips, func(ip netip.Addr) string {
		if ip.String() == "203.0.113.5" {
			return "DE"
		}
		return ""
	})
	want := "🇩🇪 203.0.113.5, 🌐 198.51.100.7"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestTailerReadsAppendedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "access.log")
	if err := os.WriteFile(path, []byte("old line\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tl := NewTailer(path, testLogger())
	t.Cleanup(tl.closeFile)

	// Cold start seeks past existing content.
	if err := tl.open(true); err != nil {
		t.Fatal(err)
	}
	var lines []string
	tl.drain(func(l string) { lines = append(lines, l) })
	if len(lines) != 0 {
		t.Fatalf("replayed history: %v", lines)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("first\nsecond\npartial"); err != nil {
		t.Fatal(err)
	}
	tl.drain(func(l string) { lines = append(lines, l) })
	if len(lines) != 2 || lines[0] != "first" || lines[1] != "second" {
		t.Fatalf("lines: %v", lines)
	}

	// Completing the partial line makes it visible whole.
	if _, err := f.WriteString(" done\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()
	tl.drain(func(l string) { lines = append(lines, l) })
	if len(lines) != 3 || lines[2] != "partial done" {
		t.Fatalf("partial line: %v", lines)
	}
}

func TestTailerDetectsTruncation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "access.log")
	if err := os.WriteFile(path, []byte("aaaa\nbbbb\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tl := NewTailer(path, testLogger())
	t.Cleanup(tl.closeFile)
	if err := tl.open(true); err != nil {
		t.Fatal(err)
	}

	// Rotation: the file is replaced with a shorter one.
	if err := os.WriteFile(path, []byte("cc\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tl.checkRotation()
	if tl.file != nil {
		t.Fatal("rotation not detected")
	}

	// Reopen from the start of the new file.
	if err := tl.open(false); err != nil {
		t.Fatal(err)
	}
	var lines []string
	tl.drain(func(l string) { lines = append(lines, l) })
	if len(lines) != 1 || lines[0] != "cc" {
		t.Fatalf("lines after rotation: %v", lines)
	}
}
