package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alfredjeanlab/gatekeep/internal/events"
	"github.com/alfredjeanlab/gatekeep/internal/model"
)

// Discoverer runs discovery for one event.
type Discoverer interface {
	RunDiscovery(ctx context.Context, eventID string) (model.DiscoveryReport, error)
}

// Trigger runs discovery when the scanning subsystem announces new
// check-ins, so gates are learned between scheduler ticks.
type Trigger struct {
	runner Discoverer
	logger *slog.Logger
}

// NewTrigger returns a trigger that runs discovery through r.
func NewTrigger(r Discoverer, logger *slog.Logger) *Trigger {
	return &Trigger{runner: r, logger: logger}
}

// Start listens for check-in announcements on the event bus. It blocks until
// ctx is cancelled or the subscription closes.
func (t *Trigger) Start(ctx context.Context, sub events.Subscriber) error {
	ch, cancel, err := sub.Subscribe(events.TopicCheckinsRecorded)
	if err != nil {
		return fmt.Errorf("trigger: subscribe: %w", err)
	}
	defer cancel()

	t.logger.Info("trigger: subscriber started", "topic", events.TopicCheckinsRecorded)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("trigger: subscriber stopping")
			return nil
		case raw, ok := <-ch:
			if !ok {
				t.logger.Info("trigger: subscription channel closed")
				return nil
			}
			pending, open := t.drain(ch, t.collect(nil, raw))
			for _, id := range pending {
				t.handle(ctx, id)
			}
			if !open {
				t.logger.Info("trigger: subscription channel closed")
				return nil
			}
		}
	}
}

// drain takes every announcement already queued so a burst of scans for
// one event runs discovery once.
func (t *Trigger) drain(ch <-chan []byte, pending []string) ([]string, bool) {
	for {
		select {
		case raw, ok := <-ch:
			if !ok {
				return pending, false
			}
			pending = t.collect(pending, raw)
		default:
			return pending, true
		}
	}
}

func (t *Trigger) collect(pending []string, raw []byte) []string {
	msg, err := events.DecodeCheckinsRecorded(raw)
	if err != nil {
		t.logger.Warn("trigger: bad payload", "err", err)
		return pending
	}
	for _, id := range pending {
		if id == msg.EventID {
			return pending
		}
	}
	return append(pending, msg.EventID)
}

func (t *Trigger) handle(ctx context.Context, eventID string) {
	report, err := t.runner.RunDiscovery(ctx, eventID)
	switch {
	case errors.Is(err, model.ErrConcurrentModification):
		// Still unlinked, so the next scheduler run picks them up.
		t.logger.Debug("trigger: event busy", "event_id", eventID)
	case err != nil:
		t.logger.Error("trigger: discovery failed", "event_id", eventID, "err", err)
	case report.Skipped != "":
		t.logger.Debug("trigger: discovery skipped", "event_id", eventID, "reason", report.Skipped)
	default:
		t.logger.Info("trigger: discovery completed", "event_id", eventID,
			"gates_created", report.GatesCreated, "checkins_linked", report.CheckinsLinked)
	}
}
