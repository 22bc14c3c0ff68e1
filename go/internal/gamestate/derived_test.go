package gamestate

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/geotag/go/internal/geo"
	"github.com/mcdev12/geotag/go/internal/models"
)

type fakeProfiles struct {
	mu        sync.Mutex
	known     map[uuid.UUID]models.Profile
	requested [][]uuid.UUID
}

func (p *fakeProfiles) Lookup(id uuid.UUID) (models.Profile, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prof, ok := p.known[id]
	return prof, ok
}

func (p *fakeProfiles) Request(ids []uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requested = append(p.requested, ids)
}

func TestDerivedPlayers(t *testing.T) {
	clock := clockwork.NewFakeClock()
	me, alice, bob, ghost, unnamed := uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()
	profiles := &fakeProfiles{known: map[uuid.UUID]models.Profile{
		me:    {UserID: me, DisplayName: "Zed"},
		alice: {UserID: alice, DisplayName: "Alice"},
		bob:   {UserID: bob, DisplayName: "Bob"},
	}}

	r := NewReconciler(DefaultConfig(), clock, Deps{Profiles: profiles, Regions: []models.Region{testRegion}})
	roomID := uuid.New()
	r.SetIdentity(me)
	r.BeginRoom(roomID)
	r.ApplyRoomUpdate(models.Room{ID: roomID, Status: models.RoomStatusPlaying, RegionID: testRegion.ID, UpdatedAt: clock.Now()})

	now := clock.Now()
	at := func(id uuid.UUID, c models.Coordinate, updated time.Time) models.PlayerState {
		p := models.PlayerState{RoomID: roomID, UserID: id, Role: models.RoleRunner, Status: models.PlayerStatusActive, UpdatedAt: updated}
		p.SetPosition(c)
		return p
	}

	inside := geo.Offset(testRegion.Center, 100, 0)
	outside := geo.Offset(testRegion.Center, 900, 0)

	r.ApplyAuthoritative(at(me, inside, now))
	r.ApplyAuthoritative(at(bob, inside, now))
	r.ApplyAuthoritative(at(alice, outside, now.Add(-time.Minute)))
	r.ApplyAuthoritative(at(unnamed, inside, now))
	r.ApplyAuthoritative(models.PlayerState{RoomID: roomID, UserID: ghost, Role: models.RoleRunner, Status: models.PlayerStatusActive, UpdatedAt: now})

	got := r.DerivedPlayers()
	if len(got) != 4 {
		t.Fatalf("DerivedPlayers() len = %d, want 4 (player without position excluded)", len(got))
	}
	if !got[0].IsLocal || got[0].DisplayName != "Zed" {
		t.Fatalf("first = %+v, want local player", got[0])
	}
	if got[1].UserID != alice || got[2].UserID != bob {
		t.Fatalf("order = %s, %s; want alice then bob", got[1].DisplayName, got[2].DisplayName)
	}
	if got[3].UserID != unnamed || got[3].DisplayName != placeholderName(unnamed) {
		t.Fatalf("last = %+v, want placeholder for unknown profile", got[3])
	}

	if !got[1].Stale || got[2].Stale {
		t.Fatal("staleness not derived from UpdatedAt")
	}
	if !got[1].Exposed || got[2].Exposed {
		t.Fatal("exposure not derived from safe zone radius")
	}

	profiles.mu.Lock()
	defer profiles.mu.Unlock()
	if len(profiles.requested) != 1 || len(profiles.requested[0]) != 1 || profiles.requested[0][0] != unnamed {
		t.Fatalf("profile requests = %v, want one request for the unknown player", profiles.requested)
	}
}

func TestDerivedPlayersWithoutZone(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := NewReconciler(DefaultConfig(), clock, Deps{})
	roomID, me := uuid.New(), uuid.New()
	r.SetIdentity(me)
	r.BeginRoom(roomID)
	if err := r.SetLocalPosition(testRegion.Center); err != nil {
		t.Fatal(err)
	}

	got := r.DerivedPlayers()
	if len(got) != 1 || got[0].Exposed || got[0].DistanceFromCenter != 0 {
		t.Fatalf("DerivedPlayers() = %+v", got)
	}
}
