package pipeline

import (
	"log"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sunny-osprey/osprey/internal/event"
	"github.com/sunny-osprey/osprey/internal/metrics"
)

// RejectReason says why an event produced no incident. Rejected events are
// logged only; no record is kept, so memory stays bounded to work actually
// processed.
type RejectReason string

const (
	RejectNone      RejectReason = ""
	RejectLifecycle RejectReason = "lifecycle"
	RejectCamera    RejectReason = "camera"
	RejectDuplicate RejectReason = "duplicate"
)

// Admitter gates raw activity events: lifecycle check, camera allow-set,
// then dedup. The dedup check and insert happen under one lock so two
// concurrent deliveries of the same id cannot both pass.
type Admitter struct {
	allowed map[string]struct{}

	mu    sync.Mutex
	seen  *lru.Cache[string, time.Time]
	ttl   time.Duration
	clock func() time.Time
}

// NewAdmitter builds the gate. An empty allowedCameras set admits every
// camera. maxKeys bounds the dedup cache; ttl is the re-admission window.
func NewAdmitter(allowedCameras []string, maxKeys int, ttl time.Duration) *Admitter {
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	allowed := make(map[string]struct{}, len(allowedCameras))
	for _, c := range allowedCameras {
		allowed[c] = struct{}{}
	}

	seen, _ := lru.New[string, time.Time](maxKeys)
	return &Admitter{
		allowed: allowed,
		seen:    seen,
		ttl:     ttl,
		clock:   time.Now,
	}
}

// Admit decides whether evt becomes an incident. On acceptance the event id
// is recorded atomically with the decision.
func (a *Admitter) Admit(evt *event.ActivityEvent) (bool, RejectReason) {
	if !evt.IsFinal() {
		metrics.EventsTotal.WithLabelValues("rejected_lifecycle").Inc()
		return false, RejectLifecycle
	}

	if len(a.allowed) > 0 {
		if _, ok := a.allowed[evt.Camera()]; !ok {
			log.Printf("[Admitter] Skipping event %s from camera %q (not in allow-set)", evt.EventID(), evt.Camera())
			metrics.EventsTotal.WithLabelValues("rejected_camera").Inc()
			return false, RejectCamera
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	id := evt.EventID()
	if addedAt, ok := a.seen.Get(id); ok && a.clock().Sub(addedAt) < a.ttl {
		metrics.EventsTotal.WithLabelValues("rejected_duplicate").Inc()
		return false, RejectDuplicate
	}
	a.seen.Add(id, a.clock())

	metrics.EventsTotal.WithLabelValues("admitted").Inc()
	return true, RejectNone
}
