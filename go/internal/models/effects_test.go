package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestDecodeEffectsKnownAndUnknownKeys(t *testing.T) {
	raw := []byte(`{"cloak_until":"2026-10-16T12:00:05Z","reveal_until":1792152000000,"shield_charges":2,"decoy":{"lat":1}}`)

	e, err := DecodeEffects(raw)
	if err != nil {
		t.Fatalf("DecodeEffects() error = %v", err)
	}
	if e.CloakUntil == nil || !e.CloakUntil.Equal(time.Date(2026, 10, 16, 12, 0, 5, 0, time.UTC)) {
		t.Fatalf("CloakUntil = %v, want 2026-10-16T12:00:05Z", e.CloakUntil)
	}
	if e.RevealUntil == nil || e.RevealUntil.UnixMilli() != 1792152000000 {
		t.Fatalf("RevealUntil = %v, want unix ms 1792152000000", e.RevealUntil)
	}
	if e.ShieldCharges != 2 {
		t.Fatalf("ShieldCharges = %d, want 2", e.ShieldCharges)
	}

	out, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(out), `"decoy":{"lat":1}`) {
		t.Fatalf("unknown key dropped on re-encode: %s", out)
	}
}

func TestDecodeEffectsEmpty(t *testing.T) {
	for _, raw := range []string{"", "null", "  ", "{}"} {
		e, err := DecodeEffects([]byte(raw))
		if err != nil {
			t.Fatalf("DecodeEffects(%q) error = %v", raw, err)
		}
		if e.CloakUntil != nil || e.RevealUntil != nil || e.ShieldCharges != 0 {
			t.Fatalf("DecodeEffects(%q) = %+v, want zero", raw, e)
		}
	}
}

func TestDecodeEffectsRejectsMalformed(t *testing.T) {
	cases := []string{
		`[1,2]`,
		`{"cloak_until":"yesterday"}`,
		`{"shield_charges":"two"}`,
	}
	for _, raw := range cases {
		if _, err := DecodeEffects([]byte(raw)); err == nil {
			t.Fatalf("DecodeEffects(%s) expected error", raw)
		}
	}
}

func TestEffectsTimedChecks(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	until := now.Add(3 * time.Second)
	e := Effects{CloakUntil: &until}

	if !e.Cloaked(now) {
		t.Fatal("Cloaked(now) = false, want true")
	}
	if e.Cloaked(until) {
		t.Fatal("Cloaked(until) = true, want false")
	}
	if e.Revealed(now) {
		t.Fatal("Revealed(now) = true, want false")
	}
}

func TestEffectsEqual(t *testing.T) {
	a, _ := DecodeEffects([]byte(`{"shield_charges":1,"x":true}`))
	b, _ := DecodeEffects([]byte(`{"x":true,"shield_charges":1}`))
	c, _ := DecodeEffects([]byte(`{"shield_charges":2}`))

	if !a.Equal(b) {
		t.Fatal("a.Equal(b) = false, want true")
	}
	if a.Equal(c) {
		t.Fatal("a.Equal(c) = true, want false")
	}
}

func TestCoordinateValid(t *testing.T) {
	tests := []struct {
		c    Coordinate
		want bool
	}{
		{Coordinate{Lat: 31.23, Lng: 121.47}, true},
		{Coordinate{}, false},
		{Coordinate{Lat: 91, Lng: 0.1}, false},
		{Coordinate{Lat: 10, Lng: -181}, false},
	}
	for _, tt := range tests {
		if got := tt.c.Valid(); got != tt.want {
			t.Fatalf("%+v.Valid() = %v, want %v", tt.c, got, tt.want)
		}
	}
}
