package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/geotag/go/internal/gamestate"
	"github.com/mcdev12/geotag/go/internal/geo"
	"github.com/mcdev12/geotag/go/internal/models"
	"github.com/mcdev12/geotag/go/internal/overlay"
)

var origin = models.Coordinate{Lat: 48.8584, Lng: 2.2945}

type fakeState struct {
	mu   sync.Mutex
	view gamestate.View
}

func (s *fakeState) View() gamestate.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.view
	v.Players = append([]models.PlayerState(nil), s.view.Players...)
	return v
}

// world is a hunter at origin plus runners placed by distance north of it
type world struct {
	state  *fakeState
	me     uuid.UUID
	roomID uuid.UUID
}

func newWorld() *world {
	w := &world{state: &fakeState{}, me: uuid.New(), roomID: uuid.New()}
	hunter := models.PlayerState{RoomID: w.roomID, UserID: w.me, Role: models.RoleHunter, Status: models.PlayerStatusActive}
	hunter.SetPosition(origin)
	w.state.view = gamestate.View{
		Phase:    gamestate.PhasePlaying,
		Room:     &models.Room{ID: w.roomID, Status: models.RoomStatusPlaying},
		Identity: w.me,
		Local:    &hunter,
		Players:  []models.PlayerState{hunter},
	}
	return w
}

func (w *world) addRunner(meters float64) uuid.UUID {
	id := uuid.New()
	p := models.PlayerState{RoomID: w.roomID, UserID: id, Role: models.RoleRunner, Status: models.PlayerStatusActive}
	p.SetPosition(geo.Offset(origin, meters, 0))
	w.state.mu.Lock()
	defer w.state.mu.Unlock()
	w.state.view.Players = append(w.state.view.Players, p)
	return id
}

func (w *world) move(id uuid.UUID, meters float64) {
	w.state.mu.Lock()
	defer w.state.mu.Unlock()
	for i := range w.state.view.Players {
		if w.state.view.Players[i].UserID == id {
			w.state.view.Players[i].SetPosition(geo.Offset(origin, meters, 0))
		}
	}
}

func (w *world) setStatus(id uuid.UUID, status models.PlayerStatus) {
	w.state.mu.Lock()
	defer w.state.mu.Unlock()
	for i := range w.state.view.Players {
		if w.state.view.Players[i].UserID == id {
			w.state.view.Players[i].Status = status
		}
	}
}

func (w *world) setPhase(p gamestate.Phase) {
	w.state.mu.Lock()
	defer w.state.mu.Unlock()
	w.state.view.Phase = p
}

type fakeJudge struct {
	mu      sync.Mutex
	calls   int
	result  models.CaptureResult
	err     error
	release chan struct{}
}

func (j *fakeJudge) JudgeCapture(ctx context.Context, roomID, targetID uuid.UUID) (models.CaptureResult, error) {
	j.mu.Lock()
	j.calls++
	release := j.release
	j.mu.Unlock()
	if release != nil {
		<-release
	}
	return j.result, j.err
}

func (j *fakeJudge) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.calls
}

type fakePresenter struct {
	mu   sync.Mutex
	reqs []overlay.Request
}

func (p *fakePresenter) Present(req overlay.Request) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	return true
}

func (p *fakePresenter) last() (overlay.Request, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.reqs) == 0 {
		return overlay.Request{}, false
	}
	return p.reqs[len(p.reqs)-1], true
}

type fakeFeedback struct {
	mu      sync.Mutex
	targets []uuid.UUID
}

func (f *fakeFeedback) CaptureSucceeded(target uuid.UUID, _ models.CaptureResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
}

func newArbiter(w *world, judge *fakeJudge) (*Arbiter, *clockwork.FakeClock, *fakePresenter, *fakeFeedback) {
	clock := clockwork.NewFakeClock()
	presenter := &fakePresenter{}
	feedback := &fakeFeedback{}
	a := NewArbiter(DefaultConfig(), clock, Deps{
		State:     w.state,
		Judge:     judge,
		Feedback:  feedback,
		Presenter: presenter,
	})
	return a, clock, presenter, feedback
}

func TestHysteresisOscillation(t *testing.T) {
	w := newWorld()
	runner := w.addRunner(14)
	a, _, _, _ := newArbiter(w, &fakeJudge{})

	if c := a.Evaluate(); c.State != StateInRange || c.Target != runner {
		t.Fatalf("at 14 m: %+v, want inRange", c)
	}
	for i := 0; i < 5; i++ {
		w.move(runner, 17)
		if c := a.Evaluate(); c.State != StateInRange {
			t.Fatalf("cycle %d at 17 m: state %s, want inRange (within hide threshold)", i, c.State)
		}
		w.move(runner, 14)
		if c := a.Evaluate(); c.State != StateInRange {
			t.Fatalf("cycle %d at 14 m: state %s, want inRange", i, c.State)
		}
	}

	w.move(runner, 18.5)
	if c := a.Evaluate(); c.State != StateIdle || c.Distance != nil {
		t.Fatalf("at 18.5 m: %+v, want idle without distance", c)
	}
	for i := 0; i < 3; i++ {
		w.move(runner, 17)
		if c := a.Evaluate(); c.State != StateIdle {
			t.Fatalf("re-approach at 17 m: state %s, want idle until 15 m", c.State)
		}
		w.move(runner, 16)
		if c := a.Evaluate(); c.State != StateIdle {
			t.Fatalf("re-approach at 16 m: state %s, want idle", c.State)
		}
	}
	w.move(runner, 14.9)
	if c := a.Evaluate(); c.State != StateInRange {
		t.Fatalf("at 14.9 m: state %s, want inRange", c.State)
	}
}

func TestNearestRunnerWins(t *testing.T) {
	w := newWorld()
	w.addRunner(12)
	near := w.addRunner(6)
	caught := w.addRunner(2)
	w.setStatus(caught, models.PlayerStatusCaught)
	a, _, _, _ := newArbiter(w, &fakeJudge{})

	c := a.Evaluate()
	if c.State != StateInRange || c.Target != near {
		t.Fatalf("Evaluate() = %+v, want nearest active runner", c)
	}
	if c.Distance == nil || *c.Distance < 5.9 || *c.Distance > 6.1 {
		t.Fatalf("distance = %v, want ~6 m", c.Distance)
	}
}

func TestLockWinsUntilExpiry(t *testing.T) {
	w := newWorld()
	far := w.addRunner(40)
	near := w.addRunner(5)
	a, clock, _, _ := newArbiter(w, &fakeJudge{})

	c, err := a.Lock(far)
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if c.State != StateLocked || c.Target != far {
		t.Fatalf("Lock() = %+v, want locked on far runner", c)
	}

	clock.Advance(DefaultConfig().LockDuration - time.Millisecond)
	if c := a.Evaluate(); c.State != StateLocked || c.Target != far {
		t.Fatalf("before expiry: %+v, want lock to win over the closer runner", c)
	}

	clock.Advance(time.Millisecond)
	if c := a.Evaluate(); c.State != StateInRange || c.Target != near {
		t.Fatalf("after expiry: %+v, want nearest runner", c)
	}
}

func TestLockDroppedWhenTargetInvalid(t *testing.T) {
	w := newWorld()
	target := w.addRunner(40)
	a, _, _, _ := newArbiter(w, &fakeJudge{})

	if _, err := a.Lock(target); err != nil {
		t.Fatal(err)
	}
	w.setStatus(target, models.PlayerStatusCaught)
	if c := a.Evaluate(); c.State != StateIdle {
		t.Fatalf("Evaluate() = %+v, want idle once target is caught", c)
	}
}

func TestIdleWhenNotHuntingOrNotPlaying(t *testing.T) {
	w := newWorld()
	w.addRunner(5)
	a, _, _, _ := newArbiter(w, &fakeJudge{})

	w.setPhase(gamestate.PhaseLobby)
	if c := a.Evaluate(); c.State != StateIdle {
		t.Fatalf("lobby: %+v", c)
	}

	w.setPhase(gamestate.PhasePlaying)
	w.state.mu.Lock()
	runnerSelf := *w.state.view.Local
	runnerSelf.Role = models.RoleRunner
	w.state.view.Local = &runnerSelf
	w.state.mu.Unlock()
	if c := a.Evaluate(); c.State != StateIdle {
		t.Fatalf("runner: %+v", c)
	}
}

func TestAttemptPreconditions(t *testing.T) {
	w := newWorld()
	runner := w.addRunner(5)
	judge := &fakeJudge{}
	a, _, _, _ := newArbiter(w, judge)

	if _, err := a.Attempt(context.Background(), uuid.New()); !errors.Is(err, ErrTargetUnavailable) {
		t.Fatalf("unknown target: err = %v", err)
	}
	if _, err := a.Attempt(context.Background(), w.me); !errors.Is(err, ErrTargetUnavailable) {
		t.Fatalf("self target: err = %v", err)
	}

	w.setPhase(gamestate.PhaseLobby)
	if _, err := a.Attempt(context.Background(), runner); !errors.Is(err, ErrNotPlaying) {
		t.Fatalf("lobby: err = %v", err)
	}
	w.setPhase(gamestate.PhasePlaying)

	w.state.mu.Lock()
	w.state.view.Identity = uuid.Nil
	w.state.mu.Unlock()
	if _, err := a.Attempt(context.Background(), runner); !errors.Is(err, gamestate.ErrNoIdentity) {
		t.Fatalf("no identity: err = %v", err)
	}

	if n := judge.count(); n != 0 {
		t.Fatalf("judge called %d times on failed preconditions", n)
	}
}

func TestAttemptSuccess(t *testing.T) {
	w := newWorld()
	runner := w.addRunner(5)
	remaining := 2
	judge := &fakeJudge{result: models.CaptureResult{OK: true, RemainingRunners: &remaining}}
	a, _, presenter, feedback := newArbiter(w, judge)

	out, err := a.Attempt(context.Background(), runner)
	if err != nil {
		t.Fatalf("Attempt() error = %v", err)
	}
	if !out.OK || out.Message != "Tagged! 2 runners left." {
		t.Fatalf("Attempt() = %+v", out)
	}
	if len(feedback.targets) != 1 || feedback.targets[0] != runner {
		t.Fatal("feedback side effect not triggered")
	}
	req, _ := presenter.last()
	if req.Kind != overlay.KindCaptureSuccess || req.Priority != overlay.PriorityCapture {
		t.Fatalf("overlay = %+v", req)
	}
	// no local caught write: the state still says active
	for _, p := range w.state.View().Players {
		if p.UserID == runner && p.Status != models.PlayerStatusActive {
			t.Fatal("target status changed locally")
		}
	}
}

func TestAttemptRejectionMapsReason(t *testing.T) {
	w := newWorld()
	runner := w.addRunner(5)
	reason := models.CaptureReasonTooFar
	dist := 23.4
	judge := &fakeJudge{result: models.CaptureResult{OK: false, Reason: &reason, DistanceMeters: &dist}}
	a, _, presenter, feedback := newArbiter(w, judge)

	out, err := a.Attempt(context.Background(), runner)
	if err != nil {
		t.Fatalf("Attempt() error = %v", err)
	}
	if out.OK || out.Message != "Too far away (23 m). Get closer to tag them." {
		t.Fatalf("Attempt() = %+v", out)
	}
	req, _ := presenter.last()
	if req.Kind != overlay.KindCaptureRejected || req.Message != out.Message {
		t.Fatalf("overlay = %+v", req)
	}
	if len(feedback.targets) != 0 {
		t.Fatal("feedback on rejection")
	}
	if judge.count() != 1 {
		t.Fatal("rejection retried")
	}
}

func TestAttemptJudgeError(t *testing.T) {
	w := newWorld()
	runner := w.addRunner(5)
	judge := &fakeJudge{err: errors.New("timeout")}
	a, _, presenter, _ := newArbiter(w, judge)

	if _, err := a.Attempt(context.Background(), runner); err == nil {
		t.Fatal("Attempt() expected error")
	}
	req, _ := presenter.last()
	if req.Kind != overlay.KindError {
		t.Fatalf("overlay kind = %s, want error", req.Kind)
	}
}

func TestConcurrentAttemptRejected(t *testing.T) {
	w := newWorld()
	runner := w.addRunner(5)
	judge := &fakeJudge{release: make(chan struct{}), result: models.CaptureResult{OK: true}}
	a, _, _, _ := newArbiter(w, judge)

	done := make(chan error, 1)
	go func() {
		_, err := a.Attempt(context.Background(), runner)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for judge.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first attempt never reached the judge")
		}
		time.Sleep(2 * time.Millisecond)
	}

	if _, err := a.Attempt(context.Background(), runner); !errors.Is(err, ErrAttemptInFlight) {
		t.Fatalf("second attempt err = %v, want ErrAttemptInFlight", err)
	}
	close(judge.release)
	if err := <-done; err != nil {
		t.Fatalf("first attempt err = %v", err)
	}
}

func TestRejectionMessages(t *testing.T) {
	cloaked := models.CaptureReasonTargetCloaked
	unknown := models.CaptureReason("solar_flare")

	tests := []struct {
		name   string
		result models.CaptureResult
		want   string
	}{
		{"cloaked", models.CaptureResult{Reason: &cloaked}, "Target is cloaked."},
		{"unknown reason", models.CaptureResult{Reason: &unknown}, fallbackRejection},
		{"no reason", models.CaptureResult{}, fallbackRejection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RejectionMessage(tt.result); got != tt.want {
				t.Fatalf("RejectionMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}
