package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/paulmach/orb"

	"github.com/alfredjeanlab/gatekeep/internal/binding"
	"github.com/alfredjeanlab/gatekeep/internal/confidence"
	"github.com/alfredjeanlab/gatekeep/internal/events"
	"github.com/alfredjeanlab/gatekeep/internal/geo"
	"github.com/alfredjeanlab/gatekeep/internal/model"
	"github.com/alfredjeanlab/gatekeep/internal/store"
)

// ListGates returns the gates of an event, oldest first.
func (e *Engine) ListGates(ctx context.Context, eventID string) ([]*model.Gate, error) {
	if err := requireEvent(eventID); err != nil {
		return nil, err
	}
	return e.store.ListGates(ctx, eventID)
}

// GetGate returns one gate of an event.
func (e *Engine) GetGate(ctx context.Context, eventID, gateID string) (*model.Gate, error) {
	g, err := e.store.GetGate(ctx, gateID)
	if err != nil {
		return nil, err
	}
	if g.EventID != eventID {
		return nil, fmt.Errorf("gate %s in event %s: %w", gateID, eventID, model.ErrNotFound)
	}
	return g, nil
}

// ListBindings returns the bindings of an event, narrowed to one gate when
// gateID is set.
func (e *Engine) ListBindings(ctx context.Context, eventID, gateID string) ([]*model.GateBinding, error) {
	if err := requireEvent(eventID); err != nil {
		return nil, err
	}
	return e.store.ListBindings(ctx, eventID, gateID)
}

// History returns recorded domain events of an event after afterID.
func (e *Engine) History(ctx context.Context, eventID string, afterID int64, limit int) ([]*model.Event, error) {
	if err := requireEvent(eventID); err != nil {
		return nil, err
	}
	return e.store.ListEvents(ctx, eventID, afterID, limit)
}

// EvaluateCheckin decides whether a scan of category at gateID is allowed.
func (e *Engine) EvaluateCheckin(ctx context.Context, eventID, gateID, category string, policy binding.Policy) (model.Decision, error) {
	if err := requireEvent(eventID); err != nil {
		return model.Decision{}, err
	}
	if gateID == "" || category == "" {
		return model.Decision{}, fmt.Errorf("gate id and category are required: %w", model.ErrInvalidArgument)
	}
	if _, err := e.GetGate(ctx, eventID, gateID); err != nil {
		return model.Decision{}, err
	}
	b, err := e.store.GetBinding(ctx, gateID, category)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return model.Decision{}, fmt.Errorf("evaluate: %w", err)
	}
	return binding.Evaluate(b, gateID, category, policy), nil
}

// ApplyRecommendation re-verifies a binding from its stored state and raises
// its status when the recommendation is a promotion. It never lowers a
// status. The returned flag reports whether anything changed.
func (e *Engine) ApplyRecommendation(ctx context.Context, eventID, gateID, category string) (*model.GateBinding, bool, error) {
	if err := requireEvent(eventID); err != nil {
		return nil, false, err
	}
	var (
		result  *model.GateBinding
		applied bool
		pending []pendingEvent
	)
	err := e.withEventLock(ctx, eventID, func(ctx context.Context) error {
		if _, err := e.GetGate(ctx, eventID, gateID); err != nil {
			return err
		}
		b, err := e.store.GetBinding(ctx, gateID, category)
		if err != nil {
			return err
		}
		result = b
		rec := e.tuning.Binding.Reverify(b.SampleCount, b.Confidence, b.Status)
		if !rec.IsPromotion() {
			return nil
		}
		from := b.Status
		b.Status = rec.RecommendedStatus
		if err := e.store.UpsertBinding(ctx, b); err != nil {
			return fmt.Errorf("apply recommendation: %w", err)
		}
		applied = true
		pending = append(pending, pendingEvent{
			topic: events.TopicBindingStatusChanged, eventID: eventID, gateID: gateID,
			event: events.BindingStatusChanged{Binding: b, From: from, To: b.Status, Reason: "recommendation"},
		})
		e.inst.Transition(ctx, from.String(), b.Status.String())
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	e.emit(ctx, pending)
	return result, applied, nil
}

// nearestGate returns the gate of kind closest to p within radius.
func nearestGate(gates []*model.Gate, kind model.GateKind, p orb.Point, radius float64) *model.Gate {
	var (
		best     *model.Gate
		bestDist = radius
	)
	for _, g := range gates {
		if g.Kind != kind || !g.HasLocation() {
			continue
		}
		if d := geo.Distance(g.Point(), p); d <= bestDist {
			best, bestDist = g, d
		}
	}
	return best
}

// bindingChanges tallies what recomputeBindings did.
type bindingChanges struct {
	created int
	updated int
	pending []pendingEvent
}

// recomputeBindings derives every binding of gate from the check-ins linked
// to it. Categories below the binding threshold get no row. When fixed is
// positive it is used as the confidence instead of the Wilson bound.
func (e *Engine) recomputeBindings(ctx context.Context, tx store.Store, gate *model.Gate, fixed float64) (bindingChanges, error) {
	var ch bindingChanges

	counts, err := tx.CountCheckinsByCategory(ctx, gate.ID)
	if err != nil {
		return ch, fmt.Errorf("counting check-ins of %s: %w", gate.ID, err)
	}
	existing, err := tx.ListBindings(ctx, gate.EventID, gate.ID)
	if err != nil {
		return ch, fmt.Errorf("listing bindings of %s: %w", gate.ID, err)
	}
	prevByCategory := make(map[string]*model.GateBinding, len(existing))
	for _, b := range existing {
		prevByCategory[b.Category] = b
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	categories := slices.Sorted(maps.Keys(counts))
	for _, b := range existing {
		if _, ok := counts[b.Category]; !ok {
			categories = append(categories, b.Category)
		}
	}

	th := e.tuning.Binding
	for _, cat := range categories {
		prev := prevByCategory[cat]
		linked := counts[cat]
		if prev == nil && linked < th.MinScansForBinding {
			continue
		}
		samples := linked
		if prev != nil {
			samples = max(samples, prev.SampleCount)
		}
		other := total - linked

		conf := fixed
		if conf <= 0 {
			conf = confidence.BindingRatio(samples, other, e.tuning.Z)
		}
		beta := confidence.NewBeta(samples, other).Mean()

		current := model.StatusUnbound
		if prev != nil {
			current = prev.Status
		}
		next := th.Next(current, samples, conf)

		if prev != nil && prev.Status == next && prev.SampleCount == samples &&
			prev.Confidence == conf && prev.BetaMean == beta {
			continue
		}

		b := &model.GateBinding{
			GateID:      gate.ID,
			EventID:     gate.EventID,
			Category:    cat,
			Status:      next,
			Confidence:  conf,
			SampleCount: samples,
			BetaMean:    beta,
		}
		if err := model.ValidateBinding(b); err != nil {
			return ch, err
		}
		if err := tx.UpsertBinding(ctx, b); err != nil {
			return ch, fmt.Errorf("saving binding %s/%s: %w", gate.ID, cat, err)
		}

		if prev == nil {
			ch.created++
			ch.pending = append(ch.pending, pendingEvent{
				topic: events.TopicBindingCreated, eventID: gate.EventID, gateID: gate.ID,
				event: events.BindingCreated{Binding: b},
			})
		} else {
			ch.updated++
			if confidence.Degrading(prev.BetaMean, beta, e.tuning.DegradeTolerance) {
				ch.pending = append(ch.pending, pendingEvent{
					topic: events.TopicBindingDegrading, eventID: gate.EventID, gateID: gate.ID,
					event: events.BindingDegrading{Binding: b, PreviousMean: prev.BetaMean},
				})
			}
		}
		if next != current {
			e.inst.Transition(ctx, current.String(), next.String())
			ch.pending = append(ch.pending, pendingEvent{
				topic: events.TopicBindingStatusChanged, eventID: gate.EventID, gateID: gate.ID,
				event: events.BindingStatusChanged{Binding: b, From: current, To: next, Reason: "discovery"},
			})
		}
	}
	return ch, nil
}

func pointJSON(p orb.Point) []float64 {
	return []float64{p.Lon(), p.Lat()}
}
