package gamestate

import (
	"time"

	"github.com/mcdev12/geotag/go/internal/models"
)

// Field is a local player field that can be protected by a mutation window.
// Position is never protected.
type Field string

const (
	FieldRole    Field = "role"
	FieldStatus  Field = "status"
	FieldEffects Field = "effects"
)

var protectableFields = []Field{FieldRole, FieldStatus, FieldEffects}

// mutationWindow protects one field of the local player after a local write
type mutationWindow struct {
	writtenAt time.Time
	duration  time.Duration
}

func (w mutationWindow) active(now time.Time) bool {
	return now.Sub(w.writtenAt) < w.duration
}

// windowArena holds at most one window per field. Expired windows are left in
// place and simply stop matching; a new write overwrites them.
type windowArena map[Field]mutationWindow

func (a windowArena) open(f Field, now time.Time, d time.Duration) {
	a[f] = mutationWindow{writtenAt: now, duration: d}
}

func (a windowArena) active(f Field, now time.Time) bool {
	w, ok := a[f]
	return ok && w.active(now)
}

func (a windowArena) anyActive(now time.Time) bool {
	for _, w := range a {
		if w.active(now) {
			return true
		}
	}
	return false
}

func (a windowArena) clear() {
	for f := range a {
		delete(a, f)
	}
}

// mergeAround takes incoming as the base and keeps the local value of every
// field whose window is still active.
func (a windowArena) mergeAround(local, incoming models.PlayerState, now time.Time) (models.PlayerState, []Field) {
	merged := incoming
	var kept []Field
	for _, f := range protectableFields {
		if !a.active(f, now) {
			continue
		}
		copyField(&merged, local, f)
		kept = append(kept, f)
	}
	return merged, kept
}

func copyField(dst *models.PlayerState, src models.PlayerState, f Field) {
	switch f {
	case FieldRole:
		dst.Role = src.Role
	case FieldStatus:
		dst.Status = src.Status
	case FieldEffects:
		dst.Effects = src.Effects
	}
}

// Edit is a typed local write of one protectable field
type Edit struct {
	field   Field
	role    models.Role
	status  models.PlayerStatus
	effects models.Effects
}

// SetRole edits the local role
func SetRole(role models.Role) Edit { return Edit{field: FieldRole, role: role} }

// SetStatus edits the local status
func SetStatus(status models.PlayerStatus) Edit { return Edit{field: FieldStatus, status: status} }

// SetEffects replaces the local effects
func SetEffects(effects models.Effects) Edit { return Edit{field: FieldEffects, effects: effects} }

// Field returns the field the edit writes
func (e Edit) Field() Field { return e.field }

func (e Edit) validate() error {
	switch e.field {
	case FieldRole:
		if !e.role.Valid() {
			return ErrInvalidValue
		}
	case FieldStatus:
		if !e.status.Valid() {
			return ErrInvalidValue
		}
	case FieldEffects:
	default:
		return ErrInvalidValue
	}
	return nil
}

func (e Edit) apply(p *models.PlayerState) {
	switch e.field {
	case FieldRole:
		p.Role = e.role
	case FieldStatus:
		p.Status = e.status
	case FieldEffects:
		p.Effects = e.effects
	}
}
