package session

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/geotag/go/internal/gamestate"
	"github.com/mcdev12/geotag/go/internal/models"
	"github.com/mcdev12/geotag/go/internal/overlay"
	"github.com/rs/zerolog/log"
)

const (
	bannerRemoteWrite = "Connection problem. Your changes may be delayed."
	bannerStreamLost  = "Live updates interrupted."
	bannerJoinFailed  = "Couldn't connect to the room."
)

// eventLog remembers the last n game event ids; delivery is at-least-once.
type eventLog struct {
	ids  map[uuid.UUID]struct{}
	ring []uuid.UUID
	next int
}

func newEventLog(n int) *eventLog {
	return &eventLog{ids: make(map[uuid.UUID]struct{}, n), ring: make([]uuid.UUID, n)}
}

// add reports whether id is new
func (l *eventLog) add(id uuid.UUID) bool {
	if _, ok := l.ids[id]; ok {
		return false
	}
	if old := l.ring[l.next]; old != uuid.Nil {
		delete(l.ids, old)
	}
	l.ring[l.next] = id
	l.ids[id] = struct{}{}
	l.next = (l.next + 1) % len(l.ring)
	return true
}

func (l *eventLog) reset() {
	clear(l.ids)
	clear(l.ring)
	l.next = 0
}

func (s *Session) handleGameEvent(ev models.GameEvent) {
	s.mu.Lock()
	fresh := s.seen.add(ev.ID)
	s.mu.Unlock()
	if !fresh {
		return
	}

	req, ok := s.overlayFor(ev)
	if !ok {
		return
	}
	s.overlays.Present(req)
}

func (s *Session) overlayFor(ev models.GameEvent) (overlay.Request, bool) {
	switch ev.Kind {
	case models.GameEventCapture:
		switch {
		case ev.TargetID != nil && *ev.TargetID == s.userID:
			return overlay.NewRequest(overlay.KindCaught, "You were tagged!", overlay.PriorityCapture, 0), true
		case ev.ActorID != nil && *ev.ActorID == s.userID:
			// the hunter already saw the judgment result
			return overlay.Request{}, false
		}
		return overlay.NewRequest(overlay.KindAlert, messageOr(ev.Message, "A runner was tagged."), overlay.PriorityAlert, 0), true
	case models.GameEventAlert:
		return overlay.NewRequest(overlay.KindAlert, ev.Message, overlay.PriorityAlert, 0), true
	case models.GameEventReveal:
		return overlay.NewRequest(overlay.KindReveal, messageOr(ev.Message, "Runners revealed!"), overlay.PriorityAlert, 0), true
	case models.GameEventZone:
		return overlay.NewRequest(overlay.KindZone, messageOr(ev.Message, "The zone is shrinking."), overlay.PriorityAlert, 0), true
	}
	log.Debug().Str("kind", string(ev.Kind)).Msg("ignoring unknown game event kind")
	return overlay.Request{}, false
}

func messageOr(msg, fallback string) string {
	if msg == "" {
		return fallback
	}
	return msg
}

func (s *Session) onPhaseChange(c gamestate.PhaseChange) {
	if c.From == c.To {
		if c.ZoneCreated {
			s.zone.Start()
		}
		return
	}

	log.Info().
		Str("from", string(c.From)).
		Str("to", string(c.To)).
		Msg("phase changed")

	s.capture.Reset()

	if c.From == gamestate.PhasePlaying {
		s.zone.Stop()
	}

	switch c.To {
	case gamestate.PhaseSetup:
		s.beat.Stop()
		s.zone.Stop()
	case gamestate.PhaseLobby:
		if c.From == gamestate.PhaseSetup {
			s.beat.Start(s.ctx)
		}
	case gamestate.PhasePlaying:
		if c.From == gamestate.PhaseSetup {
			s.beat.Start(s.ctx)
		}
		s.zone.Start()
	case gamestate.PhaseGameOver:
		if c.From == gamestate.PhaseSetup {
			s.beat.Start(s.ctx)
			// joined an already finished game
			return
		}
		s.presentGameOver(c.Room)
	}
}

func (s *Session) presentGameOver(room *models.Room) {
	if room == nil {
		return
	}
	local, ok := s.state.LocalPlayer()
	if !ok || room.Winner == nil {
		s.overlays.Present(overlay.NewRequest(overlay.KindAlert, "Game over.", overlay.PriorityGameOver, 0))
		return
	}

	winner := *room.Winner
	var mine string
	switch local.Role {
	case models.RoleHunter:
		mine = models.WinnerHunters
	case models.RoleRunner:
		mine = models.WinnerRunners
	default:
		s.overlays.Present(overlay.NewRequest(overlay.KindAlert, fmt.Sprintf("Game over. The %s win.", winner), overlay.PriorityGameOver, 0))
		return
	}

	if winner == mine {
		s.overlays.Present(overlay.NewRequest(overlay.KindVictory, "Victory!", overlay.PriorityGameOver, 0))
		return
	}
	s.overlays.Present(overlay.NewRequest(overlay.KindDefeat, "Defeat.", overlay.PriorityGameOver, 0))
}

func (s *Session) onRemoteError(op string, err error) {
	s.recordError(op, err)
	s.banner(bannerRemoteWrite)
}

func (s *Session) onHeartbeatError(err error) {
	s.recordError("heartbeat", err)
	s.banner(bannerRemoteWrite)
}

func (s *Session) streamFailed(err error) {
	s.mu.Lock()
	wasLive := s.gen != nil && s.health.streamLive
	s.health.streamLive = false
	s.mu.Unlock()

	s.recordError("stream", err)
	if wasLive {
		s.banner(bannerStreamLost)
		return
	}
	s.banner(bannerJoinFailed)
}

func (s *Session) banner(msg string) {
	s.overlays.Present(overlay.NewRequest(overlay.KindConnectivity, msg, overlay.PriorityBanner, 0))
}
