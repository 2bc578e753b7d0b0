package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"

	"github.com/alfredjeanlab/gatekeep/internal/cluster"
	"github.com/alfredjeanlab/gatekeep/internal/events"
	"github.com/alfredjeanlab/gatekeep/internal/model"
	"github.com/alfredjeanlab/gatekeep/internal/store"
	"github.com/alfredjeanlab/gatekeep/internal/virtualgate"
)

// RunDiscovery clusters the unlinked check-ins of an event into gates and
// bindings. Too little data is not an error: the report says why the run
// was skipped. A concurrent job on the same event yields
// model.ErrConcurrentModification.
func (e *Engine) RunDiscovery(ctx context.Context, eventID string) (model.DiscoveryReport, error) {
	report := model.DiscoveryReport{EventID: eventID}
	if err := requireEvent(eventID); err != nil {
		return report, err
	}

	ctx, done := e.inst.TrackJob(ctx, "discovery", eventID)
	err := e.withEventLock(ctx, eventID, func(ctx context.Context) error {
		return e.discover(ctx, &report)
	})
	done(err)
	if err != nil {
		return report, fmt.Errorf("discovery for %s: %w", eventID, err)
	}
	e.logger.Info("discovery finished",
		"event_id", eventID,
		"epsilon_m", report.Epsilon,
		"clusters", report.ClustersFound,
		"gates_created", report.GatesCreated,
		"bindings_created", report.BindingsCreated,
		"linked", report.CheckinsLinked,
		"deferred", report.Deferred,
		"skipped", report.Skipped,
	)
	return report, nil
}

func (e *Engine) discover(ctx context.Context, report *model.DiscoveryReport) error {
	checkins, err := e.store.ListUnlinkedCheckins(ctx, model.CheckinFilter{
		EventID: report.EventID,
		Limit:   e.tuning.DiscoveryBatch,
	})
	if err != nil {
		return fmt.Errorf("listing check-ins: %w", err)
	}
	report.CheckinsRead = len(checkins)

	cfg := e.tuning.Cluster
	usable, _ := cluster.Filter(checkins, cfg.MaxAccuracyMeters)
	if len(usable) < cfg.ColdStartMinimum {
		report.NoisePoints = len(usable)
		report.Skipped = fmt.Sprintf("%s: %d usable check-ins, need %d",
			model.ErrInsufficientData, len(usable), cfg.ColdStartMinimum)
		return nil
	}

	gates, err := e.store.ListGates(ctx, report.EventID)
	if err != nil {
		return fmt.Errorf("listing gates: %w", err)
	}

	// A venue that already has physical gates is never reinterpreted as a
	// registration desk because one batch happens to be concentrated.
	if vg := e.tuning.VirtualGate; vg.Enabled && !hasKind(gates, model.GateKindPhysical) {
		points := make([]orb.Point, len(usable))
		for i, c := range usable {
			points[i] = c.Point()
		}
		if det, ok := virtualgate.Detect(points, vg.RadiusMeters, vg.Fraction); ok {
			return e.discoverVirtual(ctx, report, gates, usable, det)
		}
	}

	res, err := cluster.Run(checkins, cfg)
	if errors.Is(err, model.ErrInsufficientData) {
		report.NoisePoints = len(res.Noise)
		report.Skipped = err.Error()
		return nil
	}
	if err != nil {
		return err
	}
	report.Epsilon = res.Epsilon
	report.ClustersFound = len(res.Clusters)
	report.NoisePoints = len(res.Noise)

	for i := range res.Clusters {
		c := &res.Clusters[i]
		gate, err := e.applyCluster(ctx, report, gates, c)
		if err != nil {
			return err
		}
		if !containsGate(gates, gate.ID) {
			gates = append(gates, gate)
		}
	}
	return nil
}

// applyCluster attaches one cluster to the nearest existing physical gate
// within epsilon, or to a new gate, in a single transaction.
func (e *Engine) applyCluster(ctx context.Context, report *model.DiscoveryReport, gates []*model.Gate, c *cluster.Cluster) (*model.Gate, error) {
	var (
		gate    *model.Gate
		pending []pendingEvent
		created bool
		linked  int
		ch      bindingChanges
	)
	err := e.store.RunInTransaction(ctx, func(tx store.Store) error {
		gate, created = nearestGate(gates, model.GateKindPhysical, c.Centroid, c.Epsilon), false
		if gate == nil {
			g, err := e.createGate(ctx, tx, report.EventID, c.DominantCategory()+" Gate", model.GateKindPhysical, c.Centroid)
			if err != nil {
				return err
			}
			gate, created = g, true
			pending = append(pending, pendingEvent{
				topic: events.TopicGateCreated, eventID: report.EventID, gateID: g.ID,
				event: events.GateCreated{Gate: g, Category: c.DominantCategory()},
			})
		}

		ids := make([]string, len(c.Members))
		for i, m := range c.Members {
			ids[i] = m.ID
		}
		n, err := tx.LinkCheckins(ctx, gate.ID, ids)
		if err != nil {
			return fmt.Errorf("linking check-ins to %s: %w", gate.ID, err)
		}
		linked = n

		ch, err = e.recomputeBindings(ctx, tx, gate, 0)
		return err
	})
	if err != nil {
		return nil, err
	}

	if created {
		report.GatesCreated++
		e.inst.GateCreated(ctx, string(model.GateKindPhysical))
	} else {
		report.GatesUpdated++
	}
	report.CheckinsLinked += linked
	report.BindingsCreated += ch.created
	report.BindingsUpdated += ch.updated
	e.emit(ctx, append(pending, ch.pending...))
	return gate, nil
}

// discoverVirtual handles the single-registration-point case: one gate per
// category around the shared centroid, each bound to its own category only.
func (e *Engine) discoverVirtual(ctx context.Context, report *model.DiscoveryReport, gates []*model.Gate, usable []*model.Checkin, det virtualgate.Detection) error {
	report.Virtual = true
	cooling := e.cooldown.Remaining(report.EventID)

	members := make([]*model.Checkin, len(det.Members))
	for i, idx := range det.Members {
		members[i] = usable[idx]
	}
	plans := virtualgate.Plan(members, det.Centroid, e.tuning.VirtualGate)
	report.ClustersFound = len(plans)
	report.NoisePoints = len(usable) - len(members)

	byName := make(map[string]*model.Gate)
	for _, g := range gates {
		if g.Kind == model.GateKindVirtual {
			byName[g.Name] = g
		}
	}

	var (
		created  []*model.Gate
		pending  []pendingEvent
		ch       bindingChanges
		linked   int
		reused   int
		deferred int
	)
	err := e.store.RunInTransaction(ctx, func(tx store.Store) error {
		created, pending, ch = nil, nil, bindingChanges{}
		linked, reused, deferred = 0, 0, 0
		for _, p := range plans {
			gate := byName[p.Name]
			if gate == nil && cooling > 0 {
				// Existing virtual gates keep learning; new ones wait.
				deferred++
				continue
			}
			if gate == nil {
				g, err := e.createGate(ctx, tx, report.EventID, p.Name, model.GateKindVirtual, p.Location)
				if err != nil {
					return err
				}
				gate = g
				created = append(created, g)
			} else {
				reused++
			}

			ids := make([]string, len(p.Members))
			for i, m := range p.Members {
				ids[i] = m.ID
			}
			n, err := tx.LinkCheckins(ctx, gate.ID, ids)
			if err != nil {
				return fmt.Errorf("linking check-ins to %s: %w", gate.ID, err)
			}
			linked += n

			c, err := e.recomputeBindings(ctx, tx, gate, 1.0)
			if err != nil {
				return err
			}
			ch.created += c.created
			ch.updated += c.updated
			pending = append(pending, c.pending...)
		}
		return nil
	})
	if err != nil {
		return err
	}

	report.GatesCreated += len(created)
	report.GatesUpdated += reused
	report.CheckinsLinked += linked
	report.BindingsCreated += ch.created
	report.BindingsUpdated += ch.updated
	report.Deferred = deferred
	if deferred > 0 && linked == 0 {
		report.Skipped = fmt.Sprintf("virtual gate cooldown: %s remaining", cooling.Round(time.Second))
	}

	if len(created) > 0 {
		e.cooldown.Mark(report.EventID)
		for range created {
			e.inst.GateCreated(ctx, string(model.GateKindVirtual))
		}
		e.recordAndPublish(ctx, events.TopicVirtualGatesCreated, report.EventID, "",
			events.VirtualGatesCreated{EventID: report.EventID, Gates: created})
	}
	e.emit(ctx, pending)
	return nil
}

func (e *Engine) createGate(ctx context.Context, tx store.Store, eventID, name string, kind model.GateKind, p orb.Point) (*model.Gate, error) {
	id, err := e.newID()
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	g := &model.Gate{
		ID:        id,
		EventID:   eventID,
		Name:      name,
		Kind:      kind,
		CreatedAt: now,
		UpdatedAt: now,
	}
	g.SetPoint(p)
	if err := model.ValidateGate(g); err != nil {
		return nil, err
	}
	if err := tx.CreateGate(ctx, g); err != nil {
		return nil, fmt.Errorf("creating gate %s: %w", id, err)
	}
	return g, nil
}

func hasKind(gates []*model.Gate, kind model.GateKind) bool {
	for _, g := range gates {
		if g.Kind == kind {
			return true
		}
	}
	return false
}

func containsGate(gates []*model.Gate, id string) bool {
	for _, g := range gates {
		if g.ID == id {
			return true
		}
	}
	return false
}
