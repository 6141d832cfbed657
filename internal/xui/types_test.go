package xui

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestTgIDDecodesAllPanelForms(t *testing.T) {
	cases := []struct {
		raw  string
		want TgID
	}{
		{`{"id":"u","email":"a","tgId":42}`, 42},
		{`{"id":"u","email":"a","tgId":"42"}`, 42},
		{`{"id":"u","email":"a","tgId":""}`, 0},
		{`{"id":"u","email":"a"}`, 0},
	}
	for _, tc := range cases {
		var c Client
		if err := json.Unmarshal([]byte(tc.raw), &c); err != nil {
			t.Fatalf("unmarshal %s: %v", tc.raw, err)
		}
		if c.TgID != tc.want {
			t.Errorf("tgId from %s: got %d, want %d", tc.raw, c.TgID, tc.want)
		}
	}
}

func TestClientRoundTripOmitsUnsetTgID(t *testing.T) {
	var c Client
	if err := json.Unmarshal([]byte(`{"id":"u","email":"foreign","enable":true}`), &c); err != nil {
		t.Fatal(err)
	}
	out, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(out), "tgId") {
		t.Fatalf("unset tgId materialized on round-trip: %s", out)
	}

	c.TgID = 42
	out, err = json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), `"tgId":42`) {
		t.Fatalf("bound tgId not serialized as a number: %s", out)
	}
}
