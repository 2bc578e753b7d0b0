package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredjeanlab/gatekeep/internal/events"
	"github.com/alfredjeanlab/gatekeep/internal/geo"
	"github.com/alfredjeanlab/gatekeep/internal/model"
	"github.com/alfredjeanlab/gatekeep/internal/store"
	"github.com/alfredjeanlab/gatekeep/internal/store/memory"
)

type seededGate struct {
	samples    int
	confidence float64
}

// seedStaffGates stores one "Staff Gate" per entry, all within a metre of
// origin, each with a probation binding and matching linked check-ins.
func seedStaffGates(t *testing.T, s *memory.Store, event string, specs []seededGate) []string {
	t.Helper()
	ctx := context.Background()
	var ids []string
	n := 0
	for i, sg := range specs {
		g := &model.Gate{
			ID:        fmt.Sprintf("%s-gate-%d", event, i+1),
			EventID:   event,
			Name:      "Staff Gate",
			Kind:      model.GateKindPhysical,
			CreatedAt: start.Add(time.Duration(i) * time.Minute),
		}
		g.SetPoint(geo.Offset(origin, float64(i)*72, 0.5))
		require.NoError(t, s.CreateGate(ctx, g))
		require.NoError(t, s.UpsertBinding(ctx, &model.GateBinding{
			GateID:      g.ID,
			EventID:     event,
			Category:    "Staff",
			Status:      model.StatusProbation,
			Confidence:  sg.confidence,
			SampleCount: sg.samples,
		}))
		for j := 0; j < sg.samples; j++ {
			s.AddCheckins(checkin(event, n, "Staff", g.Point(), g.ID))
			n++
		}
		ids = append(ids, g.ID)
	}
	return ids
}

var fiveStaffGates = []seededGate{
	{samples: 10, confidence: 0.70},
	{samples: 12, confidence: 0.72},
	{samples: 14, confidence: 0.76},
	{samples: 11, confidence: 0.71},
	{samples: 13, confidence: 0.73},
}

func TestRunDeduplication_FiveStaffGates(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	ids := seedStaffGates(t, h.store, "evt-1", fiveStaffGates)

	report, err := h.engine.RunDeduplication(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.ClustersFound)
	assert.Equal(t, 4, report.GatesDeleted)
	assert.Equal(t, 50, report.CheckinsRelinked)
	assert.Equal(t, 20.0, report.VenueThreshold)

	gates, err := h.engine.ListGates(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, gates, 1)
	assert.Equal(t, ids[0], gates[0].ID, "oldest gate is kept")
	assert.Equal(t, start, gates[0].UpdatedAt)

	b := bindingOf(t, h, ids[0], "Staff")
	assert.Equal(t, 60, b.SampleCount)
	assert.InDelta(t, 0.76, b.Confidence, 1e-12)
	assert.Equal(t, model.StatusProbation, b.Status, "merges never change status on their own")

	n, err := h.store.CountCheckinsForGates(ctx, ids[1:])
	require.NoError(t, err)
	assert.Zero(t, n)
	orphans, err := h.store.CountOrphanedCheckins(ctx, "evt-1")
	require.NoError(t, err)
	assert.Zero(t, orphans)

	require.Len(t, report.Recommendations, 1)
	rec := report.Recommendations[0]
	assert.Equal(t, ids[0], rec.GateID)
	assert.Equal(t, 60, rec.TotalSampleCount)
	assert.True(t, rec.QualifiesForEnforced)
	assert.Equal(t, model.StatusEnforced, rec.RecommendedStatus)

	assert.Contains(t, h.events.Topics(), events.TopicGatesMerged)
	assert.Contains(t, h.events.Topics(), events.TopicGateRelocated)

	// A second run finds nothing left to merge.
	again, err := h.engine.RunDeduplication(ctx, "evt-1")
	require.NoError(t, err)
	assert.Zero(t, again.ClustersFound)
}

func TestApplyRecommendation_PromotesOnly(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	ids := seedStaffGates(t, h.store, "evt-1", fiveStaffGates)
	_, err := h.engine.RunDeduplication(ctx, "evt-1")
	require.NoError(t, err)

	b, applied, err := h.engine.ApplyRecommendation(ctx, "evt-1", ids[0], "Staff")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, model.StatusEnforced, b.Status)
	assert.Equal(t, model.StatusEnforced, bindingOf(t, h, ids[0], "Staff").Status)

	_, applied, err = h.engine.ApplyRecommendation(ctx, "evt-1", ids[0], "Staff")
	require.NoError(t, err)
	assert.False(t, applied, "already enforced")

	_, _, err = h.engine.ApplyRecommendation(ctx, "evt-1", ids[0], "VIP")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestApplyRecommendation_NeverDemotes(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	ids := seedStaffGates(t, h.store, "evt-1", []seededGate{{samples: 30, confidence: 0.66}})
	b := bindingOf(t, h, ids[0], "Staff")
	b.Status = model.StatusEnforced // high-volume path holds
	require.NoError(t, h.store.UpsertBinding(ctx, b))

	got, applied, err := h.engine.ApplyRecommendation(ctx, "evt-1", ids[0], "Staff")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, model.StatusEnforced, got.Status)
}

// skipRelink drops RelinkCheckins inside transactions, leaving check-ins on
// gates the merge deletes.
type skipRelink struct{ store.Store }

func (s skipRelink) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return s.Store.RunInTransaction(ctx, func(tx store.Store) error {
		return fn(skipRelinkTx{tx})
	})
}

type skipRelinkTx struct{ store.Store }

func (skipRelinkTx) RelinkCheckins(context.Context, []string, string) (int, error) { return 0, nil }

func TestRunDeduplication_IntegrityViolationRollsBack(t *testing.T) {
	mem := memory.New()
	ids := seedStaffGates(t, mem, "evt-1", fiveStaffGates)
	h := newHarness(t, skipRelink{mem})
	ctx := context.Background()

	_, err := h.engine.RunDeduplication(ctx, "evt-1")
	require.ErrorIs(t, err, model.ErrIntegrityViolation)
	assert.False(t, model.Retryable(err))

	gates, err := mem.ListGates(ctx, "evt-1")
	require.NoError(t, err)
	assert.Len(t, gates, 5, "the failed merge must not delete anything")
	b, err := mem.GetBinding(ctx, ids[0], "Staff")
	require.NoError(t, err)
	assert.Equal(t, 10, b.SampleCount)
	assert.Empty(t, h.events.Events())
}

func TestMergeGates(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := seedStaffGates(t, h.store, "evt-1", []seededGate{{samples: 6, confidence: 0.5}, {samples: 7, confidence: 0.6}})
	other := seedStaffGates(t, h.store, "evt-2", []seededGate{{samples: 6, confidence: 0.5}})

	_, err := h.engine.MergeGates(ctx, []string{a[0], other[0]})
	assert.ErrorIs(t, err, model.ErrAmbiguousMerge)
	_, err = h.engine.MergeGates(ctx, []string{a[0]})
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	report, err := h.engine.MergeGates(ctx, []string{a[1], a[0]})
	require.NoError(t, err)
	assert.Equal(t, 1, report.GatesDeleted)
	assert.Equal(t, 13, bindingOf(t, h, a[0], "Staff").SampleCount)
}

func TestDiscoveryThenDeduplication_NoOrphans(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 15
	properties := gopter.NewProperties(params)

	properties.Property("every linked check-in resolves and counts are conserved", prop.ForAll(
		func(spacing float64, size int) bool {
			h := newHarness(t, nil)
			ctx := context.Background()
			h.store.AddCheckins(venue("evt-1", spacing, 5,
				gateSpec{"VIP", size}, gateSpec{"Staff", size}, gateSpec{"GA", size})...)

			if _, err := h.engine.RunDiscovery(ctx, "evt-1"); err != nil {
				return false
			}
			if _, err := h.engine.RunDeduplication(ctx, "evt-1"); err != nil {
				return false
			}
			gates, _ := h.engine.ListGates(ctx, "evt-1")
			orphans, _ := h.store.CountOrphanedCheckins(ctx, "evt-1")
			bindings, _ := h.engine.ListBindings(ctx, "evt-1", "")
			total := 0
			for _, b := range bindings {
				total += b.SampleCount
			}
			return len(gates) == 3 && orphans == 0 && total == 3*size
		},
		gen.Float64Range(80, 300),
		gen.IntRange(10, 25),
	))

	properties.TestingRun(t)
}
