package dedup

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/paulmach/orb"

	"github.com/alfredjeanlab/gatekeep/internal/geo"
	"github.com/alfredjeanlab/gatekeep/internal/model"
)

// GateCluster is a set of gates to merge into its primary.
type GateCluster struct {
	Primary    *model.Gate
	Duplicates []*model.Gate
	// MergedBindings are the bindings the primary ends up with, one per
	// category: counts summed, the highest confidence and the highest status.
	MergedBindings    []model.GateBinding
	AverageLocation   orb.Point
	TotalSampleCount  int
	HighestConfidence float64
}

// Gates returns the primary followed by the duplicates.
func (c *GateCluster) Gates() []*model.Gate {
	return append([]*model.Gate{c.Primary}, c.Duplicates...)
}

// DuplicateIDs returns the identifiers of the duplicate gates.
func (c *GateCluster) DuplicateIDs() []string {
	ids := make([]string, len(c.Duplicates))
	for i, g := range c.Duplicates {
		ids[i] = g.ID
	}
	return ids
}

// Plan is the full deduplication plan for one event.
type Plan struct {
	EventID  string
	Scale    Scale
	Clusters []GateCluster
}

// BuildPlan finds every duplicate cluster among the gates of one event.
// bindings must cover those gates; others are ignored. Input spanning more
// than one event is rejected with model.ErrAmbiguousMerge.
func BuildPlan(gates []*model.Gate, bindings []*model.GateBinding, cfg Config) (Plan, error) {
	if len(gates) == 0 {
		return Plan{}, nil
	}
	eventID := gates[0].EventID
	for _, g := range gates {
		if g.EventID != eventID {
			return Plan{}, fmt.Errorf("gates %s and %s belong to events %s and %s: %w",
				gates[0].ID, g.ID, eventID, g.EventID, model.ErrAmbiguousMerge)
		}
	}
	byGate := make(map[string][]*model.GateBinding)
	for _, b := range bindings {
		if b.EventID != eventID {
			return Plan{}, fmt.Errorf("binding %s/%s belongs to event %s, not %s: %w",
				b.GateID, b.Category, b.EventID, eventID, model.ErrAmbiguousMerge)
		}
		byGate[b.GateID] = append(byGate[b.GateID], b)
	}

	plan := Plan{EventID: eventID, Scale: VenueScale(gates, cfg)}
	for _, group := range GroupByName(gates, cfg) {
		for _, members := range subClusters(group.Gates, plan.Scale.Threshold, cfg) {
			plan.Clusters = append(plan.Clusters, buildCluster(members, byGate))
		}
	}
	slices.SortFunc(plan.Clusters, func(a, b GateCluster) int {
		return compareGates(a.Primary, b.Primary)
	})
	return plan, nil
}

// subClusters links mergeable pairs with union-find and returns each
// connected set of two or more gates, in chronological order.
func subClusters(gates []*model.Gate, threshold float64, cfg Config) [][]*model.Gate {
	parent := make([]int, len(gates))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	for i := range gates {
		for j := i + 1; j < len(gates); j++ {
			if Mergeable(gates[i], gates[j], threshold, cfg) {
				ri, rj := find(i), find(j)
				if ri != rj {
					// the older root wins so the primary stays the root
					parent[max(ri, rj)] = min(ri, rj)
				}
			}
		}
	}

	sets := make(map[int][]*model.Gate)
	var roots []int
	for i, g := range gates {
		r := find(i)
		if _, ok := sets[r]; !ok {
			roots = append(roots, r)
		}
		sets[r] = append(sets[r], g)
	}
	var out [][]*model.Gate
	for _, r := range roots {
		if len(sets[r]) > 1 {
			out = append(out, sets[r])
		}
	}
	return out
}

// ClusterOf builds the merge cluster for an explicit set of located gates of
// one event, without applying the name or distance criteria.
func ClusterOf(gates []*model.Gate, bindings []*model.GateBinding) GateCluster {
	byGate := make(map[string][]*model.GateBinding)
	for _, b := range bindings {
		byGate[b.GateID] = append(byGate[b.GateID], b)
	}
	return buildCluster(slices.Clone(gates), byGate)
}

func buildCluster(members []*model.Gate, byGate map[string][]*model.GateBinding) GateCluster {
	slices.SortFunc(members, compareGates)
	primary := members[0]

	points := make([]orb.Point, 0, len(members))
	for _, g := range members {
		points = append(points, g.Point())
	}
	c := GateCluster{
		Primary:         primary,
		Duplicates:      members[1:],
		AverageLocation: geo.Centroid(points),
	}

	merged := make(map[string]*model.GateBinding)
	for _, g := range members {
		for _, b := range byGate[g.ID] {
			c.TotalSampleCount += b.SampleCount
			c.HighestConfidence = max(c.HighestConfidence, b.Confidence)

			m, ok := merged[b.Category]
			if !ok {
				m = &model.GateBinding{
					GateID:   primary.ID,
					EventID:  primary.EventID,
					Category: b.Category,
				}
				merged[b.Category] = m
			}
			m.SampleCount += b.SampleCount
			m.Confidence = max(m.Confidence, b.Confidence)
			m.BetaMean = max(m.BetaMean, b.BetaMean)
			m.Status = max(m.Status, b.Status)
		}
	}
	for _, m := range merged {
		c.MergedBindings = append(c.MergedBindings, *m)
	}
	slices.SortFunc(c.MergedBindings, func(a, b model.GateBinding) int {
		return cmp.Compare(a.Category, b.Category)
	})
	return c
}
