package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Tables the engine subscribes to
const (
	TablePlayerStates = "player_states"
	TableRooms        = "rooms"
	TableGameEvents   = "game_events"
)

// Op is the kind of row change
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// ParseOp normalizes a transport's change type
func ParseOp(s string) (Op, error) {
	switch Op(strings.ToUpper(strings.TrimSpace(s))) {
	case OpInsert:
		return OpInsert, nil
	case OpUpdate:
		return OpUpdate, nil
	case OpDelete:
		return OpDelete, nil
	}
	return "", fmt.Errorf("unknown change type %q", s)
}

// UnmarshalJSON accepts any casing of the change type
func (o *Op) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	op, err := ParseOp(s)
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// Change is one row change as delivered by a transport. Record holds the new
// row for inserts and updates; OldRecord holds the old row (or its key) for deletes.
type Change struct {
	Table           string          `json:"table"`
	Op              Op              `json:"type"`
	Record          json.RawMessage `json:"record,omitempty"`
	OldRecord       json.RawMessage `json:"old_record,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// DecodeChange parses a change envelope
func DecodeChange(data []byte) (Change, error) {
	var c Change
	if err := json.Unmarshal(data, &c); err != nil {
		return Change{}, fmt.Errorf("unmarshal change envelope: %w", err)
	}
	if c.Table == "" {
		return Change{}, fmt.Errorf("change envelope missing table")
	}
	return c, nil
}

// Filter selects the rows of one table whose Column equals Value
type Filter struct {
	Table  string
	Column string
	Value  string
}

// String renders the filter the way realtime servers expect it: column=eq.value
func (f Filter) String() string {
	return fmt.Sprintf("%s=eq.%s", f.Column, f.Value)
}

// Matches reports whether the change belongs to this filter. Records that do
// not carry the filter column (delete keys without it) are let through.
func (f Filter) Matches(c Change) bool {
	if c.Table != f.Table {
		return false
	}
	if f.Column == "" {
		return true
	}

	raw := c.Record
	if c.Op == OpDelete || len(raw) == 0 {
		raw = c.OldRecord
	}
	if len(raw) == 0 {
		return true
	}

	var row map[string]json.RawMessage
	if err := json.Unmarshal(raw, &row); err != nil {
		// let the adapter's decoder report it
		return true
	}
	value, ok := row[f.Column]
	if !ok {
		return true
	}
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return strings.Trim(string(value), `"`) == f.Value
	}
	return s == f.Value
}

// Transport is the subscribe primitive of a realtime backend
type Transport interface {
	// Subscribe returns once the subscription is live on the server side,
	// so that nothing committed after it returns can be missed.
	Subscribe(ctx context.Context, filter Filter) (Subscription, error)
	Name() string
}

// Subscription is a live filtered change feed. The Changes channel is closed
// when the subscription ends, either through Close or a transport failure.
type Subscription interface {
	Changes() <-chan Change
	Close() error
}
