package engine

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/gatekeep/internal/dedup"
	"github.com/alfredjeanlab/gatekeep/internal/events"
	"github.com/alfredjeanlab/gatekeep/internal/model"
	"github.com/alfredjeanlab/gatekeep/internal/store"
)

// RunDeduplication merges duplicate gates of an event. Each duplicate
// cluster is merged in its own transaction; clusters merged before a
// failure stay merged.
func (e *Engine) RunDeduplication(ctx context.Context, eventID string) (model.DeduplicationReport, error) {
	report := model.DeduplicationReport{EventID: eventID}
	if err := requireEvent(eventID); err != nil {
		return report, err
	}

	ctx, done := e.inst.TrackJob(ctx, "deduplication", eventID)
	err := e.withEventLock(ctx, eventID, func(ctx context.Context) error {
		gates, err := e.store.ListGates(ctx, eventID)
		if err != nil {
			return fmt.Errorf("listing gates: %w", err)
		}
		bindings, err := e.store.ListBindings(ctx, eventID, "")
		if err != nil {
			return fmt.Errorf("listing bindings: %w", err)
		}
		plan, err := dedup.BuildPlan(gates, bindings, e.tuning.Dedup)
		if err != nil {
			return err
		}
		return e.executePlan(ctx, plan, &report)
	})
	done(err)
	if err != nil {
		return report, fmt.Errorf("deduplication for %s: %w", eventID, err)
	}
	e.logger.Info("deduplication finished",
		"event_id", eventID,
		"threshold_m", report.VenueThreshold,
		"clusters", report.ClustersFound,
		"gates_deleted", report.GatesDeleted,
		"relinked", report.CheckinsRelinked,
	)
	return report, nil
}

// MergeGates merges an explicit set of gates into the oldest of them,
// bypassing the name and distance criteria. Gates from different events
// are rejected with model.ErrAmbiguousMerge.
func (e *Engine) MergeGates(ctx context.Context, gateIDs []string) (model.DeduplicationReport, error) {
	if len(gateIDs) < 2 {
		return model.DeduplicationReport{}, fmt.Errorf("need at least two gates to merge: %w", model.ErrInvalidArgument)
	}
	gates := make([]*model.Gate, 0, len(gateIDs))
	for _, id := range gateIDs {
		g, err := e.store.GetGate(ctx, id)
		if err != nil {
			return model.DeduplicationReport{}, err
		}
		gates = append(gates, g)
	}
	eventID := gates[0].EventID
	for _, g := range gates {
		if !g.HasLocation() {
			return model.DeduplicationReport{}, fmt.Errorf("gate %s has no location: %w", g.ID, model.ErrInvalidArgument)
		}
		if g.EventID != eventID {
			return model.DeduplicationReport{}, fmt.Errorf("gates %s and %s belong to events %s and %s: %w",
				gates[0].ID, g.ID, eventID, g.EventID, model.ErrAmbiguousMerge)
		}
	}

	report := model.DeduplicationReport{EventID: eventID}
	ctx, done := e.inst.TrackJob(ctx, "merge", eventID)
	err := e.withEventLock(ctx, eventID, func(ctx context.Context) error {
		var bindings []*model.GateBinding
		for _, g := range gates {
			bs, err := e.store.ListBindings(ctx, eventID, g.ID)
			if err != nil {
				return fmt.Errorf("listing bindings of %s: %w", g.ID, err)
			}
			bindings = append(bindings, bs...)
		}
		c := dedup.ClusterOf(gates, bindings)
		plan := dedup.Plan{EventID: eventID, Clusters: []dedup.GateCluster{c}}
		return e.executePlan(ctx, plan, &report)
	})
	done(err)
	if err != nil {
		return report, fmt.Errorf("merge in %s: %w", eventID, err)
	}
	return report, nil
}

func (e *Engine) executePlan(ctx context.Context, plan dedup.Plan, report *model.DeduplicationReport) error {
	report.VenueThreshold = plan.Scale.Threshold
	report.ClustersFound = len(plan.Clusters)
	for i := range plan.Clusters {
		c := &plan.Clusters[i]
		relinked, err := e.mergeCluster(ctx, plan.EventID, c)
		if err != nil {
			return fmt.Errorf("merging into %s: %w", c.Primary.ID, err)
		}
		report.GatesDeleted += len(c.Duplicates)
		report.CheckinsRelinked += relinked

		for _, mb := range c.MergedBindings {
			rec := e.tuning.Binding.Reverify(mb.SampleCount, mb.Confidence, mb.Status)
			rec.GateID = c.Primary.ID
			rec.Category = mb.Category
			report.Recommendations = append(report.Recommendations, rec)
		}
	}
	return nil
}

// mergeCluster folds the duplicates of c into its primary atomically and
// returns how many check-ins were re-pointed.
func (e *Engine) mergeCluster(ctx context.Context, eventID string, c *dedup.GateCluster) (int, error) {
	dupIDs := c.DuplicateIDs()
	from := c.Primary.Point()

	var relinked int
	err := e.store.RunInTransaction(ctx, func(tx store.Store) error {
		primary := *c.Primary
		primary.SetPoint(c.AverageLocation)
		if err := tx.UpdateGate(ctx, &primary); err != nil {
			return fmt.Errorf("relocating primary: %w", err)
		}

		for i := range c.MergedBindings {
			mb := c.MergedBindings[i]
			mb.GateID = primary.ID
			if err := tx.UpsertBinding(ctx, &mb); err != nil {
				return fmt.Errorf("saving merged binding %s: %w", mb.Category, err)
			}
		}

		n, err := tx.RelinkCheckins(ctx, dupIDs, primary.ID)
		if err != nil {
			return fmt.Errorf("relinking check-ins: %w", err)
		}
		relinked = n

		for _, id := range dupIDs {
			if _, err := tx.DeleteBindings(ctx, id); err != nil {
				return fmt.Errorf("deleting bindings of %s: %w", id, err)
			}
			if err := tx.DeleteGate(ctx, id); err != nil {
				return fmt.Errorf("deleting gate %s: %w", id, err)
			}
		}

		return verifyMerge(ctx, tx, eventID, dupIDs)
	})
	if err != nil {
		return 0, err
	}

	e.inst.GatesMerged(ctx, len(dupIDs))
	e.recordAndPublish(ctx, events.TopicGatesMerged, eventID, c.Primary.ID, events.GatesMerged{
		EventID:          eventID,
		PrimaryID:        c.Primary.ID,
		DuplicateIDs:     dupIDs,
		CheckinsRelinked: relinked,
	})
	if from != c.AverageLocation {
		e.recordAndPublish(ctx, events.TopicGateRelocated, eventID, c.Primary.ID, events.GateRelocated{
			GateID: c.Primary.ID,
			From:   pointJSON(from),
			To:     pointJSON(c.AverageLocation),
		})
	}
	return relinked, nil
}

// verifyMerge fails the merge if any check-in still points at a deleted
// gate.
func verifyMerge(ctx context.Context, tx store.Store, eventID string, deleted []string) error {
	n, err := tx.CountCheckinsForGates(ctx, deleted)
	if err != nil {
		return fmt.Errorf("verifying merge: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("%d check-ins still reference deleted gates: %w", n, model.ErrIntegrityViolation)
	}
	orphans, err := tx.CountOrphanedCheckins(ctx, eventID)
	if err != nil {
		return fmt.Errorf("verifying merge: %w", err)
	}
	if orphans > 0 {
		return fmt.Errorf("%d check-ins of %s reference missing gates: %w", orphans, eventID, model.ErrIntegrityViolation)
	}
	return nil
}
