package alert

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/sunny-osprey/osprey/internal/metrics"
	"github.com/sunny-osprey/osprey/internal/retry"
)

// Outcome is the incident-level result of a dispatch.
type Outcome int

const (
	// OutcomeSuppressed: policy decided not to alert; zero external calls.
	OutcomeSuppressed Outcome = iota
	// OutcomeDispatched: at least one channel delivered.
	OutcomeDispatched
	// OutcomeAllFailed: every configured channel exhausted its retries.
	OutcomeAllFailed
)

// DispatcherConfig tunes fan-out behavior.
type DispatcherConfig struct {
	SendAllActivities bool
	MaxConcurrent     int // cap on simultaneous channel sends per incident
	MaxAttempts       int // per-channel send attempts
	BaseDelay         time.Duration
	MaxDelay          time.Duration
}

// Dispatcher fans a classified incident out to every configured channel.
// Channels are independent: one channel's failure never blocks or retries
// another's send.
type Dispatcher struct {
	channels []Channel
	store    RecordStore
	cfg      DispatcherConfig
	policy   retry.Policy
}

func NewDispatcher(channels []Channel, store RecordStore, cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Dispatcher{
		channels: channels,
		store:    store,
		cfg:      cfg,
		policy: retry.Policy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BaseDelay,
			MaxDelay:    cfg.MaxDelay,
			Jitter:      500 * time.Millisecond,
		},
	}
}

// Dispatch applies the policy gate, then sends concurrently to every
// channel with per-channel retry and idempotent delivery tracking.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) (Outcome, map[string]DispatchRecord) {
	records := make(map[string]DispatchRecord, len(d.channels))

	if !d.cfg.SendAllActivities && !n.Suspicious {
		log.Printf("[Dispatcher] Suppressing non-suspicious incident %s", n.EventID)
		return OutcomeSuppressed, records
	}

	if len(d.channels) == 0 {
		return OutcomeAllFailed, records
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, d.cfg.MaxConcurrent)
	)

	for _, ch := range d.channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			rec := d.sendToChannel(ctx, ch, n)
			mu.Lock()
			records[ch.Name()] = rec
			mu.Unlock()
		}(ch)
	}
	wg.Wait()

	for _, rec := range records {
		if rec.Status == StatusSent {
			return OutcomeDispatched, records
		}
	}
	return OutcomeAllFailed, records
}

func (d *Dispatcher) sendToChannel(ctx context.Context, ch Channel, n Notification) DispatchRecord {
	// Idempotency: a record already Sent is never resent, even if the
	// pipeline restarted or a higher level retried.
	if existing, err := d.store.Get(ctx, n.EventID, ch.Name()); err != nil {
		log.Printf("[Dispatcher] Record lookup failed for %s/%s: %v", n.EventID, ch.Name(), err)
	} else if existing != nil && existing.Status == StatusSent {
		metrics.DispatchTotal.WithLabelValues(ch.Name(), "skipped_already_sent").Inc()
		return *existing
	}

	rec := DispatchRecord{Status: StatusPending}
	err := d.policy.Do(ctx, func() error {
		rec.Attempts++
		return ch.Send(ctx, n)
	})

	if err != nil {
		rec.Status = StatusFailed
		log.Printf("[Dispatcher] Channel %s failed for %s after %d attempts: %v", ch.Name(), n.EventID, rec.Attempts, err)
	} else {
		rec.Status = StatusSent
		log.Printf("[Dispatcher] Channel %s delivered %s", ch.Name(), n.EventID)
	}
	metrics.DispatchTotal.WithLabelValues(ch.Name(), string(rec.Status)).Inc()

	if putErr := d.store.Put(ctx, n.EventID, ch.Name(), rec); putErr != nil {
		log.Printf("[Dispatcher] Record save failed for %s/%s: %v", n.EventID, ch.Name(), putErr)
	}
	return rec
}
