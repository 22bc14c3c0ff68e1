package gamestate

import (
	"sort"

	"github.com/google/uuid"
	"github.com/mcdev12/geotag/go/internal/geo"
	"github.com/mcdev12/geotag/go/internal/models"
)

// DerivedPlayer is the UI-facing projection of one player with a position
type DerivedPlayer struct {
	models.PlayerState
	Position    models.Coordinate
	DisplayName string
	IsLocal     bool
	Stale       bool
	Exposed     bool
	// DistanceFromCenter is zero when there is no safe zone.
	DistanceFromCenter float64
}

// DerivedPlayers projects every player with a valid coordinate. Players whose
// profile is not cached yet get a placeholder name and one profile request.
func (r *Reconciler) DerivedPlayers() []DerivedPlayer {
	v := r.View()
	staleAfter := r.config.StaleAfter

	out := make([]DerivedPlayer, 0, len(v.Players))
	var missing []uuid.UUID

	for _, p := range v.Players {
		pos, ok := p.Position()
		if !ok {
			continue
		}

		d := DerivedPlayer{
			PlayerState: p,
			Position:    pos,
			IsLocal:     p.UserID == v.Identity,
			Stale:       v.Now.Sub(p.UpdatedAt) > staleAfter,
		}
		if v.SafeZone != nil {
			d.DistanceFromCenter = geo.Distance(pos, v.SafeZone.Center)
			d.Exposed = d.DistanceFromCenter > v.SafeZone.Radius
		}

		if profile, ok := r.lookupProfile(p.UserID); ok && profile.DisplayName != "" {
			d.DisplayName = profile.DisplayName
		} else {
			d.DisplayName = placeholderName(p.UserID)
			if !ok {
				missing = append(missing, p.UserID)
			}
		}
		out = append(out, d)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].IsLocal != out[j].IsLocal {
			return out[i].IsLocal
		}
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].UserID.String() < out[j].UserID.String()
	})

	if len(missing) > 0 && r.profiles != nil {
		r.profiles.Request(missing)
	}
	return out
}

func (r *Reconciler) lookupProfile(userID uuid.UUID) (models.Profile, bool) {
	if r.profiles == nil {
		return models.Profile{}, false
	}
	return r.profiles.Lookup(userID)
}

func placeholderName(userID uuid.UUID) string {
	return "Player " + userID.String()[:8]
}
