package inference

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/sunny-osprey/osprey/internal/frames"
	"github.com/sunny-osprey/osprey/internal/metrics"
)

var (
	// ErrOverload means the gate queue was full. The request was rejected
	// outright, never queued, and must not be retried.
	ErrOverload = errors.New("inference gate overloaded")

	// ErrInferenceTimeout means the call exceeded the per-call ceiling.
	// A truncated generation is not parseable, so there is no salvage.
	ErrInferenceTimeout = errors.New("inference call timed out")

	// ErrGateClosed means the gate was stopped before the request ran.
	ErrGateClosed = errors.New("inference gate closed")
)

// GateConfig sizes the scarce-resource coordinator.
type GateConfig struct {
	Concurrency int           // worker count C, one engine instance each
	QueueDepth  int           // max queued requests beyond the workers
	CallTimeout time.Duration // per-call ceiling
}

// Gate serializes access to the inference engine. A bounded queue feeds
// exactly C workers; each worker holds exclusive use of one engine call at
// a time, reflecting a physically single accelerator. When the queue is
// full, new requests are rejected immediately rather than queued further.
type Gate struct {
	engine    Engine
	cfg       GateConfig
	maxTokens int

	queue chan *gateRequest
	stop  chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool

	// observeCall records (start, end) of every engine call. Test hook for
	// verifying non-overlap at C=1; nil in production.
	observeCall func(start, end time.Time)
}

type gateRequest struct {
	ctx          context.Context
	systemPrompt string
	userPrompt   string
	frames       []frames.Frame
	resp         chan gateResult
}

type gateResult struct {
	raw string
	err error
}

func NewGate(engine Engine, cfg GateConfig, maxTokens int) *Gate {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 8
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 120 * time.Second
	}
	if maxTokens <= 0 {
		maxTokens = 500
	}

	g := &Gate{
		engine:    engine,
		cfg:       cfg,
		maxTokens: maxTokens,
		queue:     make(chan *gateRequest, cfg.QueueDepth),
		stop:      make(chan struct{}),
	}
	for i := 0; i < cfg.Concurrency; i++ {
		g.wg.Add(1)
		go g.worker(i)
	}
	return g
}

// Classify submits frames for inference and blocks until the verdict text
// is available or the request fails. A full queue rejects immediately with
// ErrOverload. The validator's re-submission re-enters through here as
// well, competing fairly with new incidents.
func (g *Gate) Classify(ctx context.Context, systemPrompt, userPrompt string, fs []frames.Frame) (string, error) {
	req := &gateRequest{
		ctx:          ctx,
		systemPrompt: systemPrompt,
		userPrompt:   userPrompt,
		frames:       fs,
		resp:         make(chan gateResult, 1),
	}

	// The enqueue happens under the same lock as the closed check: Stop
	// flips closed before it drains, so no send can land mid-drain.
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return "", ErrGateClosed
	}
	select {
	case g.queue <- req:
		g.mu.Unlock()
		metrics.GateQueueDepth.Set(float64(len(g.queue)))
	default:
		g.mu.Unlock()
		metrics.GateRejectedTotal.Inc()
		return "", ErrOverload
	}

	select {
	case res := <-req.resp:
		return res.raw, res.err
	case <-ctx.Done():
		// The worker may still run the call; the buffered resp channel
		// keeps it from leaking.
		return "", ctx.Err()
	}
}

func (g *Gate) worker(id int) {
	defer g.wg.Done()
	for {
		// Stop takes priority over queued work so a drain abandons the
		// queue instead of racing it.
		select {
		case <-g.stop:
			return
		default:
		}

		select {
		case <-g.stop:
			return
		case req := <-g.queue:
			metrics.GateQueueDepth.Set(float64(len(g.queue)))
			// The submitter may have given up while the request sat in
			// the queue; don't spend an engine call on it.
			if req.ctx.Err() != nil {
				req.resp <- gateResult{err: req.ctx.Err()}
				continue
			}
			raw, err := g.runCall(req)
			req.resp <- gateResult{raw: raw, err: err}
		}
	}
}

// runCall executes one engine call under the timeout ceiling, with a single
// retry only for transient engine unavailability. Timeouts and malformed
// output never retry here.
func (g *Gate) runCall(req *gateRequest) (string, error) {
	raw, err := g.callOnce(req)
	if errors.Is(err, ErrEngineUnavailable) {
		log.Printf("[Gate] Engine transiently unavailable, retrying once")
		raw, err = g.callOnce(req)
	}
	return raw, err
}

func (g *Gate) callOnce(req *gateRequest) (string, error) {
	// Deadline derives from Background, not the submitter's context: an
	// in-flight call at shutdown is allowed to finish.
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	raw, err := g.engine.Infer(ctx, req.systemPrompt, req.userPrompt, req.frames, g.maxTokens)
	end := time.Now()

	metrics.InferenceLatency.Observe(end.Sub(start).Seconds())
	if g.observeCall != nil {
		g.observeCall(start, end)
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", ErrInferenceTimeout
		}
		return "", err
	}
	return raw, nil
}

// Stop drains the gate: new submissions are rejected, queued-but-unstarted
// requests are abandoned with ErrGateClosed, and in-flight calls finish.
func (g *Gate) Stop() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.mu.Unlock()

	close(g.stop)
	g.wg.Wait()

	// The queue channel is never closed; closing it would let a racing
	// Classify panic on its send. Everything enqueued before closed
	// flipped is abandoned here.
	for {
		select {
		case req := <-g.queue:
			req.resp <- gateResult{err: ErrGateClosed}
		default:
			metrics.GateQueueDepth.Set(0)
			return
		}
	}
}
