package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Effects is the typed view of the player's effects blob (jsonb on the server).
// Keys the engine does not know are preserved so a local push never erases them.
type Effects struct {
	CloakUntil    *time.Time `json:"cloak_until,omitempty"`
	RevealUntil   *time.Time `json:"reveal_until,omitempty"`
	ShieldCharges int        `json:"shield_charges,omitempty"`

	extra map[string]json.RawMessage
}

const (
	effectCloakUntil    = "cloak_until"
	effectRevealUntil   = "reveal_until"
	effectShieldCharges = "shield_charges"
)

// DecodeEffects decodes a raw effects blob. Empty and null blobs decode to zero Effects.
func DecodeEffects(raw []byte) (Effects, error) {
	var e Effects
	if err := e.UnmarshalJSON(raw); err != nil {
		return Effects{}, err
	}
	return e, nil
}

// Cloaked reports whether a cloak effect is running at now.
func (e Effects) Cloaked(now time.Time) bool {
	return e.CloakUntil != nil && now.Before(*e.CloakUntil)
}

// Revealed reports whether a reveal effect is running at now.
func (e Effects) Revealed(now time.Time) bool {
	return e.RevealUntil != nil && now.Before(*e.RevealUntil)
}

// Shielded reports whether the player still has shield charges.
func (e Effects) Shielded() bool {
	return e.ShieldCharges > 0
}

// Equal reports whether two effect blobs encode the same values.
func (e Effects) Equal(other Effects) bool {
	a, errA := e.MarshalJSON()
	b, errB := other.MarshalJSON()
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Effects) UnmarshalJSON(data []byte) error {
	*e = Effects{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("failed to decode effects: %w", err)
	}

	for key, value := range fields {
		switch key {
		case effectCloakUntil:
			t, err := decodeEffectTime(value)
			if err != nil {
				return fmt.Errorf("failed to decode %s: %w", key, err)
			}
			e.CloakUntil = t
		case effectRevealUntil:
			t, err := decodeEffectTime(value)
			if err != nil {
				return fmt.Errorf("failed to decode %s: %w", key, err)
			}
			e.RevealUntil = t
		case effectShieldCharges:
			if bytes.Equal(value, []byte("null")) {
				continue
			}
			if err := json.Unmarshal(value, &e.ShieldCharges); err != nil {
				return fmt.Errorf("failed to decode %s: %w", key, err)
			}
		default:
			if e.extra == nil {
				e.extra = make(map[string]json.RawMessage)
			}
			e.extra[key] = value
		}
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (e Effects) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.extra)+3)
	for key, value := range e.extra {
		out[key] = value
	}
	if e.CloakUntil != nil {
		out[effectCloakUntil] = e.CloakUntil.UTC().Format(time.RFC3339Nano)
	}
	if e.RevealUntil != nil {
		out[effectRevealUntil] = e.RevealUntil.UTC().Format(time.RFC3339Nano)
	}
	if e.ShieldCharges != 0 {
		out[effectShieldCharges] = e.ShieldCharges
	}
	return json.Marshal(out)
}

// decodeEffectTime accepts RFC3339 strings or unix milliseconds.
func decodeEffectTime(raw json.RawMessage) (*time.Time, error) {
	if bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, err
		}
		return &t, nil
	}

	var ms int64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return nil, fmt.Errorf("expected RFC3339 string or unix millis: %w", err)
	}
	t := time.UnixMilli(ms).UTC()
	return &t, nil
}
