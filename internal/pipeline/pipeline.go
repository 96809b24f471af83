package pipeline

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/sunny-osprey/osprey/internal/alert"
	"github.com/sunny-osprey/osprey/internal/clip"
	"github.com/sunny-osprey/osprey/internal/event"
	"github.com/sunny-osprey/osprey/internal/frames"
	"github.com/sunny-osprey/osprey/internal/inference"
	"github.com/sunny-osprey/osprey/internal/metrics"
	"github.com/sunny-osprey/osprey/internal/retry"
)

// ClipAcquirer downloads an event's clip to local disk.
type ClipAcquirer interface {
	Acquire(ctx context.Context, eventID string) (*clip.Handle, error)
}

// FrameSampler turns a clip file into the bounded frame sequence.
type FrameSampler interface {
	Sample(ctx context.Context, clipPath string) ([]frames.Frame, error)
}

// Classifier is the serialized inference entry point.
type Classifier interface {
	Classify(ctx context.Context, systemPrompt, userPrompt string, fs []frames.Frame) (string, error)
}

// AlertSink fans a verdict out to the configured channels.
type AlertSink interface {
	Dispatch(ctx context.Context, n alert.Notification) (alert.Outcome, map[string]alert.DispatchRecord)
}

// PromptSource supplies the current (system, user) prompt pair.
type PromptSource interface {
	Prompts() (string, string)
}

// Config tunes the orchestrator.
type Config struct {
	Workers     int    // bound on concurrent incidents in the acquire/sample phase
	ClipBaseURL string // public base for clip links embedded in alerts
}

// Pipeline drives each admitted event through its stages: clip acquisition,
// frame sampling, gated classification, validation, and alert fan-out.
// Admission runs synchronously on the consumer's delivery goroutine; all
// later work happens on a bounded pool so a slow recorder cannot stall
// intake.
type Pipeline struct {
	admitter  *Admitter
	clips     ClipAcquirer
	sampler   FrameSampler
	gate      Classifier
	validator inference.Validator
	prompts   PromptSource
	alerts    AlertSink
	cfg       Config

	ctx     context.Context
	cancel  context.CancelFunc
	closing chan struct{}
	sem     chan struct{}

	// closeMu orders Submit's wg.Add against Stop's wg.Wait: an Add either
	// completes before closing is closed or the submitter sees it closed.
	closeMu sync.Mutex
	wg      sync.WaitGroup
}

func New(admitter *Admitter, clips ClipAcquirer, sampler FrameSampler, gate Classifier, prompts PromptSource, alerts AlertSink, cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		admitter: admitter,
		clips:    clips,
		sampler:  sampler,
		gate:     gate,
		prompts:  prompts,
		alerts:   alerts,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		closing:  make(chan struct{}),
		sem:      make(chan struct{}, cfg.Workers),
	}
}

// HandleEvent is the consumer's entry point.
func (p *Pipeline) HandleEvent(evt *event.ActivityEvent) {
	p.Submit(evt)
}

// Submit admits evt and, if accepted, processes it asynchronously. Admission
// is decided inline so the dedup insert happens before the next delivery is
// looked at. Returns the incident, or nil if the event was rejected.
func (p *Pipeline) Submit(evt *event.ActivityEvent) *Incident {
	select {
	case <-p.closing:
		return nil
	default:
	}

	ok, reason := p.admitter.Admit(evt)
	if !ok {
		if reason == RejectDuplicate {
			log.Printf("[Pipeline] Duplicate event %s suppressed", evt.EventID())
		}
		return nil
	}

	inc := NewIncident(evt.EventID(), evt.Camera())
	inc.Advance(StageAdmitted)
	log.Printf("[Pipeline] Admitted event %s from camera %s", inc.ID, inc.Camera)

	p.closeMu.Lock()
	select {
	case <-p.closing:
		p.closeMu.Unlock()
		inc.Fail(ReasonCancelled)
		return inc
	default:
	}
	p.wg.Add(1)
	p.closeMu.Unlock()
	go func() {
		defer p.wg.Done()
		p.sem <- struct{}{}
		defer func() { <-p.sem }()
		p.process(inc)
	}()
	return inc
}

// process walks one incident through its remaining stages. Every exit path
// leaves the incident terminal and the temp clip removed.
func (p *Pipeline) process(inc *Incident) {
	defer func() {
		st := inc.Stage()
		if st == StageFailed {
			metrics.StageFailuresTotal.WithLabelValues(string(inc.FailReason())).Inc()
		}
		metrics.IncidentsCompletedTotal.WithLabelValues(st.String()).Inc()
	}()

	// An incident that was still waiting for a worker slot when shutdown
	// began is abandoned, not started.
	select {
	case <-p.closing:
		inc.Fail(ReasonCancelled)
		return
	default:
	}

	handle, err := p.clips.Acquire(p.ctx, inc.ClipRef)
	if err != nil {
		inc.Fail(acquireFailReason(err))
		log.Printf("[Pipeline] Clip acquisition failed for %s: %v (%s)", inc.ID, err, inc.FailReason())
		return
	}
	defer handle.Cleanup()
	inc.ClipPath = handle.Path
	inc.Advance(StageClipReady)

	fs, err := p.sampler.Sample(p.ctx, handle.Path)
	if err != nil {
		// An unreadable or frameless clip cannot be fixed by retrying.
		inc.Fail(ReasonPermanentInput)
		log.Printf("[Pipeline] Frame sampling failed for %s: %v", inc.ID, err)
		return
	}
	inc.Frames = fs
	inc.Advance(StageSampled)

	inc.Advance(StageClassifying)
	result, reason := p.classify(inc)
	if result == nil {
		inc.Fail(reason)
		log.Printf("[Pipeline] Classification failed for %s (%s)", inc.ID, reason)
		return
	}
	inc.Result = result
	inc.Advance(StageClassified)
	log.Printf("[Pipeline] Event %s classified: suspicious=%v", inc.ID, result.Suspicious)

	p.dispatch(inc)
}

// classify runs the gate call plus validation, with exactly one
// re-submission on malformed output. The retry goes back through the gate
// queue like any other request.
func (p *Pipeline) classify(inc *Incident) (*inference.Classification, FailReason) {
	system, user := p.prompts.Prompts()

	for attempt := 0; attempt < 2; attempt++ {
		raw, err := p.gate.Classify(p.ctx, system, user, inc.Frames)
		if err != nil {
			return nil, classifyFailReason(err)
		}

		result, err := p.validator.Validate(raw)
		if err == nil {
			return result, ""
		}
		if attempt == 0 {
			log.Printf("[Pipeline] Invalid verdict for %s, re-submitting once: %v", inc.ID, err)
			continue
		}
		log.Printf("[Pipeline] Verdict still invalid for %s: %v", inc.ID, err)
	}
	return nil, ReasonInvalidOutput
}

func (p *Pipeline) dispatch(inc *Incident) {
	n := alert.Notification{
		EventID:     inc.ID,
		Camera:      inc.Camera,
		Suspicious:  inc.Result.Suspicious,
		Description: inc.Result.Description,
		ClipPath:    inc.ClipPath,
	}
	if p.cfg.ClipBaseURL != "" {
		n.ClipURL = p.cfg.ClipBaseURL + "?event_id=" + inc.ID
	}

	switch outcome, _ := p.alerts.Dispatch(p.ctx, n); outcome {
	case alert.OutcomeSuppressed:
		inc.Suppress()
	case alert.OutcomeDispatched:
		inc.Advance(StageDispatched)
	case alert.OutcomeAllFailed:
		inc.Fail(ReasonAllChannelsFail)
	}
}

func acquireFailReason(err error) FailReason {
	switch {
	case errors.Is(err, retry.ErrPermanent):
		return ReasonPermanentInput
	case errors.Is(err, context.Canceled):
		return ReasonCancelled
	default:
		return ReasonTransientIO
	}
}

func classifyFailReason(err error) FailReason {
	switch {
	case errors.Is(err, inference.ErrOverload):
		return ReasonOverload
	case errors.Is(err, inference.ErrInferenceTimeout):
		return ReasonInferenceTimeout
	case errors.Is(err, inference.ErrGateClosed), errors.Is(err, context.Canceled):
		return ReasonCancelled
	default:
		return ReasonTransientIO
	}
}

// Stop refuses new events, then waits for in-flight incidents to settle.
// The gate is stopped separately by the caller, which unblocks any incident
// still waiting on a queued classification; an incident whose inference
// already ran still completes its dispatch before Stop returns.
func (p *Pipeline) Stop() {
	p.closeMu.Lock()
	select {
	case <-p.closing:
	default:
		close(p.closing)
	}
	p.closeMu.Unlock()

	p.wg.Wait()
	p.cancel()
}
