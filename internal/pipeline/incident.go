package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/sunny-osprey/osprey/internal/frames"
	"github.com/sunny-osprey/osprey/internal/inference"
)

// Stage is the lifecycle position of an Incident. Transitions are strictly
// forward; a terminal stage is never left.
type Stage int

const (
	StageReceived Stage = iota
	StageAdmitted
	StageClipReady
	StageSampled
	StageClassifying
	StageClassified
	StageDispatched
	StageRejected
	StageFailed
	StageSuppressed
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageAdmitted:
		return "admitted"
	case StageClipReady:
		return "clip_ready"
	case StageSampled:
		return "sampled"
	case StageClassifying:
		return "classifying"
	case StageClassified:
		return "classified"
	case StageDispatched:
		return "dispatched"
	case StageRejected:
		return "rejected"
	case StageFailed:
		return "failed"
	case StageSuppressed:
		return "suppressed"
	}
	return "unknown"
}

// Terminal reports whether no further transition is allowed.
func (s Stage) Terminal() bool {
	switch s {
	case StageDispatched, StageRejected, StageFailed, StageSuppressed:
		return true
	}
	return false
}

// FailReason classifies terminal failures for logs and metrics.
type FailReason string

const (
	ReasonTransientIO      FailReason = "transient_io"
	ReasonPermanentInput   FailReason = "permanent_input"
	ReasonOverload         FailReason = "overload"
	ReasonInvalidOutput    FailReason = "invalid_output"
	ReasonInferenceTimeout FailReason = "inference_timeout"
	ReasonAllChannelsFail  FailReason = "all_channels_failed"
	ReasonCancelled        FailReason = "cancelled"
)

// Incident tracks one camera event from admission through its final alert
// outcome. It is owned exclusively by the pipeline; collaborators only ever
// see read-only projections of it.
type Incident struct {
	mu sync.Mutex

	ID      string
	Camera  string
	ClipRef string

	stage      Stage
	failReason FailReason

	Frames []frames.Frame
	Result *inference.Classification

	ClipPath string // temp file, cleaned up at terminal stage

	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewIncident(id, camera string) *Incident {
	now := time.Now()
	return &Incident{
		ID:        id,
		Camera:    camera,
		ClipRef:   id, // the event id doubles as the clip locator
		stage:     StageReceived,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Advance moves the incident forward to next. Backward or post-terminal
// transitions are programming errors and rejected.
func (i *Incident) Advance(next Stage) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.stage.Terminal() {
		return fmt.Errorf("incident %s: stage %s is terminal, cannot advance to %s", i.ID, i.stage, next)
	}
	if next <= i.stage && !next.Terminal() {
		return fmt.Errorf("incident %s: backward transition %s -> %s", i.ID, i.stage, next)
	}
	i.stage = next
	i.UpdatedAt = time.Now()
	return nil
}

// Fail marks the incident terminally failed with the given reason.
// Failing an already-terminal incident is a no-op.
func (i *Incident) Fail(reason FailReason) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.stage.Terminal() {
		return
	}
	i.stage = StageFailed
	i.failReason = reason
	i.UpdatedAt = time.Now()
}

// Suppress marks a classified incident that policy decided not to alert on.
func (i *Incident) Suppress() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.stage.Terminal() {
		return
	}
	i.stage = StageSuppressed
	i.UpdatedAt = time.Now()
}

func (i *Incident) Stage() Stage {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stage
}

func (i *Incident) FailReason() FailReason {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.failReason
}
