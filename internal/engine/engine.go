// Package engine runs gate discovery and deduplication for events and
// answers access decisions from the learned bindings.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/gatekeep/internal/config"
	"github.com/alfredjeanlab/gatekeep/internal/events"
	"github.com/alfredjeanlab/gatekeep/internal/idgen"
	"github.com/alfredjeanlab/gatekeep/internal/lock"
	"github.com/alfredjeanlab/gatekeep/internal/model"
	"github.com/alfredjeanlab/gatekeep/internal/store"
	"github.com/alfredjeanlab/gatekeep/internal/telemetry"
	"github.com/alfredjeanlab/gatekeep/internal/virtualgate"
)

// Engine holds the dependencies of every gate job. It keeps no per-event
// state besides the virtual-gate cooldown; everything else lives in the store.
type Engine struct {
	store     store.Store
	locker    lock.Locker
	publisher events.Publisher
	tuning    config.Tuning
	logger    *slog.Logger
	now       func() time.Time
	newID     idgen.Func
	inst      *telemetry.Instruments
	cooldown  *virtualgate.Cooldown
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocker sets the per-event job lock. The default is an in-process lock.
func WithLocker(l lock.Locker) Option { return func(e *Engine) { e.locker = l } }

// WithPublisher sets where domain events go. The default drops them.
func WithPublisher(p events.Publisher) Option { return func(e *Engine) { e.publisher = p } }

// WithTuning replaces the default thresholds.
func WithTuning(t config.Tuning) Option { return func(e *Engine) { e.tuning = t } }

// WithLogger sets the logger for job summaries and publish failures.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithClock sets the clock used for gate timestamps and the cooldown.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithIDs sets the gate ID generator.
func WithIDs(f idgen.Func) Option { return func(e *Engine) { e.newID = f } }

// WithInstruments records job spans and gate counters on in.
func WithInstruments(in *telemetry.Instruments) Option { return func(e *Engine) { e.inst = in } }

// New builds an engine over s.
func New(s store.Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:     s,
		locker:    lock.NewLocal(),
		publisher: &events.NoopPublisher{},
		tuning:    config.DefaultTuning(),
		logger:    slog.Default(),
		now:       time.Now,
		newID:     idgen.Gate,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.tuning.Validate(); err != nil {
		return nil, fmt.Errorf("engine tuning: %w", err)
	}
	if e.inst == nil {
		in, err := telemetry.NewInstruments(nil, nil)
		if err != nil {
			return nil, fmt.Errorf("engine instruments: %w", err)
		}
		e.inst = in
	}
	e.cooldown = virtualgate.NewCooldown(e.tuning.VirtualGate.Cooldown, e.now)
	return e, nil
}

// Tuning returns the thresholds the engine runs with.
func (e *Engine) Tuning() config.Tuning { return e.tuning }

// withEventLock runs fn while holding the job lock for eventID.
func (e *Engine) withEventLock(ctx context.Context, eventID string, fn func(context.Context) error) error {
	unlock, err := e.locker.TryLock(ctx, eventID)
	if err != nil {
		return err
	}
	defer func() {
		// Release even when ctx is already cancelled.
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("failed to release event lock", "event_id", eventID, "err", err)
		}
	}()
	return fn(ctx)
}

// pendingEvent is a domain event produced inside a transaction and emitted
// only after it commits.
type pendingEvent struct {
	topic   string
	eventID string
	gateID  string
	event   any
}

func (e *Engine) emit(ctx context.Context, pending []pendingEvent) {
	for _, p := range pending {
		e.recordAndPublish(ctx, p.topic, p.eventID, p.gateID, p.event)
	}
}

// recordAndPublish persists an event to the store and publishes it.
// Both operations are best-effort; failures are logged but do not fail the job.
func (e *Engine) recordAndPublish(ctx context.Context, topic, eventID, gateID string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		e.logger.Warn("failed to marshal event", "topic", topic, "event_id", eventID, "err", err)
		return
	}
	if err := e.store.RecordEvent(ctx, &model.Event{
		Topic:   topic,
		EventID: eventID,
		GateID:  gateID,
		Payload: payload,
	}); err != nil {
		e.logger.Warn("failed to record event", "topic", topic, "event_id", eventID, "err", err)
	}
	if err := e.publisher.Publish(ctx, topic, event); err != nil {
		e.logger.Warn("failed to publish event", "topic", topic, "event_id", eventID, "err", err)
	}
}

func requireEvent(eventID string) error {
	if eventID == "" {
		return fmt.Errorf("event id is required: %w", model.ErrInvalidArgument)
	}
	return nil
}
