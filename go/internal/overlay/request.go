package overlay

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind identifies what a transient notification is about
type Kind string

const (
	KindCaptureSuccess  Kind = "capture_success"
	KindCaptureRejected Kind = "capture_rejected"
	KindCaught          Kind = "caught"
	KindVictory         Kind = "victory"
	KindDefeat          Kind = "defeat"
	KindAlert           Kind = "alert"
	KindReveal          Kind = "reveal"
	KindZone            Kind = "zone"
	KindConnectivity    Kind = "connectivity"
	KindError           Kind = "error"
)

// Priority orders overlay requests. Higher wins.
type Priority int

// PriorityNone is the current priority of an empty slot; every real priority beats it.
const PriorityNone Priority = math.MinInt

const (
	PriorityBanner          Priority = 10
	PriorityAlert           Priority = 40
	PriorityCaptureRejected Priority = 60
	PriorityError           Priority = 70
	PriorityCapture         Priority = 80
	PriorityGameOver        Priority = 100
)

// Request is a single overlay presentation request. It is immutable once issued.
type Request struct {
	ID       string        `json:"id"`
	Kind     Kind          `json:"kind"`
	Message  string        `json:"message"`
	Priority Priority      `json:"priority"`
	TTL      time.Duration `json:"ttl"`
}

// NewRequest builds a request with a fresh sortable id.
func NewRequest(kind Kind, message string, priority Priority, ttl time.Duration) Request {
	return Request{
		ID:       newID(),
		Kind:     kind,
		Message:  message,
		Priority: priority,
		TTL:      ttl,
	}
}

var (
	idEntropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	idEntropyMu sync.Mutex
)

func newID() string {
	idEntropyMu.Lock()
	defer idEntropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), idEntropy).String()
}
