package bot

import (
	"testing"
	"time"
)

func TestParseIDList(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"111 222 333", 3},
		{"111,222\n333; 444", 4},
		{"abc, -5, 0", 0},
		{"  777  ", 1},
		{"", 0},
	}
	for _, tc := range cases {
		if got := parseIDList(tc.in); len(got) != tc.want {
			t.Errorf("parseIDList(%q) = %v, want %d ids", tc.in, got, tc.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	cases := map[int64]string{
		512:             "512 Б",
		2048:            "2.0 КБ",
		5 * 1024 * 1024: "5.0 МБ",
		3 << 30:         "3.0 ГБ",
	}
	for in, want := range cases {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestIsAdminCallback(t *testing.T) {
	for data, want := range map[string]bool{
		"uext_111_7":  true,
		"urebind_x":   true,
		"udel_x":      true,
		"ushow_111":   true,
		"menu_main":   false,
		"buy_1_month": false,
		"vote_1_0":    false,
	} {
		if got := isAdminCallback(data); got != want {
			t.Errorf("isAdminCallback(%q) = %v, want %v", data, got, want)
		}
	}
}

func TestFormatExpiry(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	b := &Bot{loc: time.UTC, now: func() time.Time { return now }}

	if got := b.formatExpiry(0); got != "⏳ Срок действия: безлимитная" {
		t.Errorf("unlimited: %q", got)
	}
	future := now.Add(48 * time.Hour).UnixMilli()
	if got := b.formatExpiry(future); got != "⏳ Действует до: 31.08.2026 12:00" {
		t.Errorf("future: %q", got)
	}
	past := now.Add(-time.Hour).UnixMilli()
	if got := b.formatExpiry(past); got != "⏳ Срок действия: истекла 29.08.2026 11:00" {
		t.Errorf("past: %q", got)
	}
}

func TestSessionsResetKeepsPendingPlan(t *testing.T) {
	s := newSessions()
	sess := s.get(1)
	sess.slot = slotAwaitingPromo
	sess.pendingPlanID = "1_month"
	sess.rebindUID = "uuid"

	s.reset(1)
	sess = s.get(1)
	if sess.slot != slotNone || sess.rebindUID != "" {
		t.Fatalf("session not reset: %+v", sess)
	}
	if sess.pendingPlanID != "1_month" {
		t.Fatal("pending invoice forgotten on menu navigation")
	}
}
