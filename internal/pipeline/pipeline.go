// Package pipeline relays page-visit event records to the configured backend
// with create-then-update semantics and bounded retry.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/visitrail/visitrail/pkg/retry"
)

// UpdatePolicy names what happens to updates issued before the create for
// their session has completed.
type UpdatePolicy string

// DropUnkeyedUpdates drops such updates instead of queuing them. This is the
// default loss-tolerant behavior: an early click update is worth less than
// the complexity of a queue that must survive create failure.
const DropUnkeyedUpdates UpdatePolicy = "drop"

// Pipeline owns the record-id gate per session and schedules deliveries off
// the caller goroutine. All failure handling is swallow-and-degrade: after
// retry exhaustion an event is gone, with nothing but a debug log and a
// counter to show for it.
type Pipeline struct {
	backend Backend
	retrier *retry.Retrier
	breaker *gobreaker.CircuitBreaker
	policy  UpdatePolicy
	log     *zap.Logger

	mu      sync.Mutex
	records map[string]string // session id -> backend record id

	wg sync.WaitGroup
}

// New builds a pipeline around the selected backend adapter. A nil backend
// (not configured) disables delivery; every record call becomes a silent
// skip.
func New(backend Backend, retrier *retry.Retrier, log *zap.Logger) *Pipeline {
	return &Pipeline{
		backend: backend,
		retrier: retrier,
		policy:  DropUnkeyedUpdates,
		log:     log.With(zap.String("module", "pipeline")),
		records: map[string]string{},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "event-backend",
			Timeout: time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// RecordCreate schedules the initial page-view create for a session. The
// backend-assigned record id is captured for the remainder of the session.
func (p *Pipeline) RecordCreate(sessionID string, fields Record) {
	if p.backend == nil {
		eventsDropped.WithLabelValues("not_configured").Inc()
		return
	}
	p.wg.Add(1)
	go p.deliver("create", sessionID, "", fields, false)
}

// RecordUpdate schedules a partial update against the session's record. An
// update issued before the create completed has no record id and is dropped
// per the configured policy.
func (p *Pipeline) RecordUpdate(sessionID string, fields Record) {
	if p.backend == nil {
		eventsDropped.WithLabelValues("not_configured").Inc()
		return
	}
	recordID, ok := p.RecordID(sessionID)
	if !ok {
		p.log.Debug("dropping update before create completed",
			zap.String("session_id", sessionID),
			zap.String("policy", string(p.policy)),
		)
		eventsDropped.WithLabelValues("unkeyed").Inc()
		return
	}
	p.wg.Add(1)
	go p.deliver("update", sessionID, recordID, fields, true)
}

// FlushFinal sends the page-exit update synchronously, exactly once, with no
// retry. It is the teardown path: the caller is about to go away, so the
// attempt either lands or it does not.
func (p *Pipeline) FlushFinal(ctx context.Context, sessionID string, fields Record) {
	if p.backend == nil {
		return
	}
	recordID, ok := p.RecordID(sessionID)
	if !ok {
		eventsDropped.WithLabelValues("unkeyed").Inc()
		return
	}
	if _, err := p.backend.Send(ctx, fields, recordID, true); err != nil {
		p.log.Debug("final flush failed", zap.String("session_id", sessionID), zap.Error(err))
		eventsDropped.WithLabelValues("exit_flush").Inc()
		return
	}
	eventsDelivered.WithLabelValues("final").Inc()
}

// RecordID returns the backend record id captured for a session, if the
// create has completed.
func (p *Pipeline) RecordID(sessionID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.records[sessionID]
	return id, ok
}

// Forget releases the record-id gate for a finished session.
func (p *Pipeline) Forget(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.records, sessionID)
}

// Wait blocks until all scheduled deliveries have finished. Used on shutdown
// and in tests.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) deliver(eventType, sessionID, recordID string, fields Record, update bool) {
	defer p.wg.Done()

	if p.breaker.State() == gobreaker.StateOpen {
		p.log.Debug("delivery breaker open, dropping event",
			zap.String("type", eventType),
			zap.String("session_id", sessionID),
		)
		eventsDropped.WithLabelValues("breaker_open").Inc()
		return
	}

	var assignedID string
	attempt := 0
	err := p.retrier.Do(func() error {
		attempt++
		if attempt > 1 {
			deliveryRetries.Inc()
		}
		result, err := p.breaker.Execute(func() (interface{}, error) {
			return p.backend.Send(context.Background(), fields, recordID, update)
		})
		if err != nil {
			return err
		}
		assignedID, _ = result.(string)
		return nil
	})
	if err != nil {
		p.log.Debug("event delivery abandoned",
			zap.String("type", eventType),
			zap.String("session_id", sessionID),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		eventsDropped.WithLabelValues("exhausted").Inc()
		return
	}

	if !update && assignedID != "" {
		p.mu.Lock()
		p.records[sessionID] = assignedID
		p.mu.Unlock()
	}
	eventsDelivered.WithLabelValues(eventType).Inc()
}
