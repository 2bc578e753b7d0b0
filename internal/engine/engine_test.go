package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredjeanlab/gatekeep/internal/binding"
	"github.com/alfredjeanlab/gatekeep/internal/config"
	"github.com/alfredjeanlab/gatekeep/internal/confidence"
	"github.com/alfredjeanlab/gatekeep/internal/events"
	"github.com/alfredjeanlab/gatekeep/internal/geo"
	"github.com/alfredjeanlab/gatekeep/internal/idgen"
	"github.com/alfredjeanlab/gatekeep/internal/lock"
	"github.com/alfredjeanlab/gatekeep/internal/model"
	"github.com/alfredjeanlab/gatekeep/internal/store"
	"github.com/alfredjeanlab/gatekeep/internal/store/memory"
)

var origin = orb.Point{-0.1276, 51.5072}

var start = time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type harness struct {
	engine *Engine
	store  *memory.Store
	events *events.RecordingPublisher
	clock  *clock
	locker *lock.Local
}

func newHarness(t *testing.T, s store.Store) *harness {
	t.Helper()
	h := &harness{
		events: &events.RecordingPublisher{},
		clock:  &clock{t: start},
		locker: lock.NewLocal(),
	}
	if s == nil {
		h.store = memory.New().WithClock(h.clock.now)
		s = h.store
	}
	e, err := New(s,
		WithPublisher(h.events),
		WithLocker(h.locker),
		WithClock(h.clock.now),
		WithIDs(idgen.Sequential("gt-")),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	h.engine = e
	return h
}

// ring spreads n points over three concentric circles around center.
func ring(center orb.Point, n int, radius float64) []orb.Point {
	out := make([]orb.Point, n)
	for i := range n {
		r := radius * float64(i%3+1) / 3
		out[i] = geo.Offset(center, float64(i)*137.5, r)
	}
	return out
}

type gateSpec struct {
	category string
	count    int
}

// venue lays gates out eastwards from origin, spacing metres apart, and
// returns their check-ins.
func venue(event string, spacing, jitter float64, gates ...gateSpec) []*model.Checkin {
	var out []*model.Checkin
	id := 0
	for g, spec := range gates {
		center := geo.Offset(origin, 90, spacing*float64(g))
		for _, p := range ring(center, spec.count, jitter) {
			out = append(out, checkin(event, id, spec.category, p, ""))
			id++
		}
	}
	return out
}

func checkin(event string, id int, category string, p orb.Point, gateID string) *model.Checkin {
	lat, lon := p.Lat(), p.Lon()
	return &model.Checkin{
		ID:          fmt.Sprintf("%s-c%04d", event, id),
		EventID:     event,
		WristbandID: fmt.Sprintf("wb-%04d", id),
		Category:    category,
		Latitude:    &lat,
		Longitude:   &lon,
		GateID:      gateID,
		Timestamp:   start.Add(time.Duration(id) * time.Second),
	}
}

func threeGates(event string) []*model.Checkin {
	return venue(event, 200, 5,
		gateSpec{"VIP", 15}, gateSpec{"Staff", 15}, gateSpec{"GA", 15})
}

func bindingOf(t *testing.T, h *harness, gateID, category string) *model.GateBinding {
	t.Helper()
	b, err := h.store.GetBinding(context.Background(), gateID, category)
	require.NoError(t, err)
	return b
}

func TestRunDiscovery_FifteenVIPScansEnforce(t *testing.T) {
	h := newHarness(t, nil)
	h.store.AddCheckins(threeGates("evt-1")...)

	report, err := h.engine.RunDiscovery(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Empty(t, report.Skipped)
	assert.False(t, report.Virtual)
	assert.Equal(t, 3, report.ClustersFound)
	assert.Equal(t, 3, report.GatesCreated)
	assert.Equal(t, 3, report.BindingsCreated)
	assert.Equal(t, 45, report.CheckinsLinked)
	assert.Greater(t, report.Epsilon, 80.0)

	gates, err := h.engine.ListGates(context.Background(), "evt-1")
	require.NoError(t, err)
	require.Len(t, gates, 3)
	// Clusters are ordered west to east, so ids follow the layout.
	assert.Equal(t, "VIP Gate", gates[0].Name)
	assert.Equal(t, "gt-0001", gates[0].ID)
	assert.Equal(t, model.GateKindPhysical, gates[0].Kind)
	assert.Less(t, geo.Distance(gates[0].Point(), origin), 1.0)

	vip := bindingOf(t, h, gates[0].ID, "VIP")
	assert.Equal(t, 15, vip.SampleCount)
	assert.InDelta(t, confidence.WilsonLowerBound(15, 15, confidence.DefaultZ), vip.Confidence, 1e-12)
	assert.GreaterOrEqual(t, vip.Confidence, 0.75)
	assert.Equal(t, model.StatusEnforced, vip.Status)

	assert.Contains(t, h.events.Topics(), events.TopicGateCreated)
	assert.Contains(t, h.events.Topics(), events.TopicBindingStatusChanged)
	history, err := h.engine.History(context.Background(), "evt-1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, history, len(h.events.Events()))
}

func TestRunDiscovery_ContradictingScansDemote(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.store.AddCheckins(threeGates("evt-1")...)
	_, err := h.engine.RunDiscovery(ctx, "evt-1")
	require.NoError(t, err)

	gates, err := h.engine.ListGates(ctx, "evt-1")
	require.NoError(t, err)
	vipGate := gates[0]
	before := bindingOf(t, h, vipGate.ID, "VIP")
	require.Equal(t, model.StatusEnforced, before.Status)
	require.Equal(t, 15, before.SampleCount)
	assert.InDelta(t, 16.0/17.0, before.BetaMean, 1e-12)
	seen := len(h.events.Events())

	// A second wave: Staff wristbands scanned at the VIP gate, plus GA scans
	// at the GA gate so the batch clears the cold-start minimum.
	var wave []*model.Checkin
	for i, p := range ring(origin, 15, 5) {
		wave = append(wave, checkin("evt-1", 1000+i, "Staff", p, ""))
	}
	for i, p := range ring(geo.Offset(origin, 90, 400), 15, 5) {
		wave = append(wave, checkin("evt-1", 1100+i, "GA", p, ""))
	}
	h.store.AddCheckins(wave...)

	report, err := h.engine.RunDiscovery(ctx, "evt-1")
	require.NoError(t, err)
	assert.Empty(t, report.Skipped)
	assert.Zero(t, report.GatesCreated)
	assert.Equal(t, 30, report.CheckinsLinked)

	after := bindingOf(t, h, vipGate.ID, "VIP")
	assert.Equal(t, model.StatusProbation, after.Status)
	assert.Equal(t, 15, after.SampleCount, "sample count never drops")
	assert.InDelta(t, confidence.WilsonLowerBound(15, 30, confidence.DefaultZ), after.Confidence, 1e-12)
	assert.Less(t, after.Confidence, 0.65)
	assert.InDelta(t, 0.5, after.BetaMean, 1e-12)

	var (
		degrading *events.BindingDegrading
		changed   *events.BindingStatusChanged
	)
	for _, ev := range h.events.Events()[seen:] {
		switch p := ev.Event.(type) {
		case events.BindingDegrading:
			if p.Binding.GateID == vipGate.ID && p.Binding.Category == "VIP" {
				degrading = &p
			}
		case events.BindingStatusChanged:
			if p.Binding.GateID == vipGate.ID && p.Binding.Category == "VIP" {
				changed = &p
			}
		}
	}
	require.NotNil(t, degrading, "no %s for the VIP binding", events.TopicBindingDegrading)
	assert.InDelta(t, 16.0/17.0, degrading.PreviousMean, 1e-12)
	assert.InDelta(t, 0.5, degrading.Binding.BetaMean, 1e-12)
	require.NotNil(t, changed, "no %s for the VIP binding", events.TopicBindingStatusChanged)
	assert.Equal(t, model.StatusEnforced, changed.From)
	assert.Equal(t, model.StatusProbation, changed.To)
	assert.Equal(t, "discovery", changed.Reason)
}

func TestRunDiscovery_StrictZKeepsProbation(t *testing.T) {
	s := memory.New()
	s.AddCheckins(threeGates("evt-1")...)
	tuning := config.DefaultTuning()
	tuning.Z = confidence.ZStrict
	e, err := New(s,
		WithTuning(tuning),
		WithIDs(idgen.Sequential("gt-")),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)

	_, err = e.RunDiscovery(context.Background(), "evt-1")
	require.NoError(t, err)

	b, err := s.GetBinding(context.Background(), "gt-0001", "VIP")
	require.NoError(t, err)
	assert.Equal(t, 15, b.SampleCount)
	assert.InDelta(t, confidence.WilsonLowerBound(15, 15, confidence.ZStrict), b.Confidence, 1e-12)
	assert.Equal(t, model.StatusProbation, b.Status)
}

func TestRunDiscovery_InsufficientData(t *testing.T) {
	h := newHarness(t, nil)
	h.store.AddCheckins(venue("evt-1", 200, 5, gateSpec{"VIP", 12})...)

	report, err := h.engine.RunDiscovery(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Contains(t, report.Skipped, model.ErrInsufficientData.Error())
	assert.Equal(t, 12, report.NoisePoints)

	gates, _ := h.engine.ListGates(context.Background(), "evt-1")
	assert.Empty(t, gates)
	assert.Empty(t, h.events.Events())
}

func TestRunDiscovery_Idempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.store.AddCheckins(threeGates("evt-1")...)
	ctx := context.Background()

	_, err := h.engine.RunDiscovery(ctx, "evt-1")
	require.NoError(t, err)
	gates1, _ := h.engine.ListGates(ctx, "evt-1")
	bindings1, _ := h.engine.ListBindings(ctx, "evt-1", "")

	report, err := h.engine.RunDiscovery(ctx, "evt-1")
	require.NoError(t, err)
	assert.NotEmpty(t, report.Skipped)
	gates2, _ := h.engine.ListGates(ctx, "evt-1")
	bindings2, _ := h.engine.ListBindings(ctx, "evt-1", "")
	assert.Equal(t, gates1, gates2)
	assert.Equal(t, bindings1, bindings2)
}

func TestRunDiscovery_DeterministicAcrossStores(t *testing.T) {
	run := func() ([]*model.Gate, []*model.GateBinding, model.DiscoveryReport) {
		h := newHarness(t, nil)
		h.store.AddCheckins(threeGates("evt-1")...)
		report, err := h.engine.RunDiscovery(context.Background(), "evt-1")
		require.NoError(t, err)
		gates, _ := h.engine.ListGates(context.Background(), "evt-1")
		bindings, _ := h.engine.ListBindings(context.Background(), "evt-1", "")
		return gates, bindings, report
	}
	g1, b1, r1 := run()
	g2, b2, r2 := run()
	assert.Equal(t, r1, r2)
	assert.Equal(t, g1, g2)
	assert.Equal(t, b1, b2)
}

func TestRunDiscovery_ReusesNearbyGate(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.store.AddCheckins(threeGates("evt-1")...)
	_, err := h.engine.RunDiscovery(ctx, "evt-1")
	require.NoError(t, err)

	// A second wave at the same three gates, offset in time and ids.
	var wave []*model.Checkin
	for i, c := range threeGates("evt-1") {
		c.ID = fmt.Sprintf("evt-1-w%04d", i)
		c.Timestamp = c.Timestamp.Add(time.Hour)
		wave = append(wave, c)
	}
	h.store.AddCheckins(wave...)

	report, err := h.engine.RunDiscovery(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, 0, report.GatesCreated)
	assert.Equal(t, 3, report.GatesUpdated)
	assert.Equal(t, 45, report.CheckinsLinked)

	gates, _ := h.engine.ListGates(ctx, "evt-1")
	require.Len(t, gates, 3)
	vip := bindingOf(t, h, gates[0].ID, "VIP")
	assert.Equal(t, 30, vip.SampleCount)
	assert.Equal(t, model.StatusEnforced, vip.Status)
}

func TestRunDiscovery_MixedCategoriesStayOnProbation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	checkins := threeGates("evt-1")
	// Half of the first gate's scans are Staff wristbands.
	for i := 0; i < 7; i++ {
		checkins[i*2].Category = "Staff"
	}
	h.store.AddCheckins(checkins...)

	_, err := h.engine.RunDiscovery(ctx, "evt-1")
	require.NoError(t, err)
	gates, _ := h.engine.ListGates(ctx, "evt-1")
	require.NotEmpty(t, gates)

	vip := bindingOf(t, h, gates[0].ID, "VIP")
	assert.Equal(t, 8, vip.SampleCount)
	assert.Less(t, vip.Confidence, 0.65)
	assert.Equal(t, model.StatusProbation, vip.Status)
	staff := bindingOf(t, h, gates[0].ID, "Staff")
	assert.Equal(t, model.StatusProbation, staff.Status)
}

func TestRunDiscovery_VirtualGates(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.store.AddCheckins(venue("evt-1", 5, 0.3,
		gateSpec{"VIP", 15}, gateSpec{"Staff", 15}, gateSpec{"GA", 15})...)

	report, err := h.engine.RunDiscovery(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, report.Virtual)
	assert.Equal(t, 3, report.GatesCreated)
	assert.Equal(t, 45, report.CheckinsLinked)

	gates, _ := h.engine.ListGates(ctx, "evt-1")
	require.Len(t, gates, 3)
	seen := map[orb.Point]bool{}
	for _, g := range gates {
		assert.Equal(t, model.GateKindVirtual, g.Kind)
		assert.False(t, seen[g.Point()], "virtual gates must have distinct coordinates")
		seen[g.Point()] = true

		bs, err := h.engine.ListBindings(ctx, "evt-1", g.ID)
		require.NoError(t, err)
		require.Len(t, bs, 1)
		assert.Equal(t, g.Name, bs[0].Category+" Virtual Gate")
		assert.Equal(t, 1.0, bs[0].Confidence)
		assert.Equal(t, model.StatusEnforced, bs[0].Status)
	}
	assert.Contains(t, h.events.Topics(), events.TopicVirtualGatesCreated)
}

func TestRunDiscovery_VirtualCooldown(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.store.AddCheckins(venue("evt-1", 5, 0.3,
		gateSpec{"VIP", 15}, gateSpec{"Staff", 15})...)
	_, err := h.engine.RunDiscovery(ctx, "evt-1")
	require.NoError(t, err)

	var press []*model.Checkin
	for i, p := range ring(origin, 22, 0.5) {
		press = append(press, checkin("evt-1", 500+i, "Press", p, ""))
	}
	h.store.AddCheckins(press...)

	h.clock.advance(time.Minute)
	report, err := h.engine.RunDiscovery(ctx, "evt-1")
	require.NoError(t, err)
	assert.Contains(t, report.Skipped, "cooldown")
	gates, _ := h.engine.ListGates(ctx, "evt-1")
	assert.Len(t, gates, 2)

	h.clock.advance(5 * time.Minute)
	report, err = h.engine.RunDiscovery(ctx, "evt-1")
	require.NoError(t, err)
	assert.Empty(t, report.Skipped)
	assert.Equal(t, 1, report.GatesCreated)
	gates, _ = h.engine.ListGates(ctx, "evt-1")
	assert.Len(t, gates, 3)
}

func TestRunDiscovery_CooldownStillLinksExistingVirtualGates(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.store.AddCheckins(venue("evt-1", 5, 0.3,
		gateSpec{"VIP", 15}, gateSpec{"Staff", 15})...)
	_, err := h.engine.RunDiscovery(ctx, "evt-1")
	require.NoError(t, err)
	gates, _ := h.engine.ListGates(ctx, "evt-1")
	require.Len(t, gates, 2)
	var vipGate *model.Gate
	for _, g := range gates {
		if g.Name == "VIP Virtual Gate" {
			vipGate = g
		}
	}
	require.NotNil(t, vipGate)

	var more []*model.Checkin
	for i, p := range ring(origin, 12, 0.5) {
		more = append(more, checkin("evt-1", 600+i, "VIP", p, ""))
	}
	for i, p := range ring(origin, 10, 0.5) {
		more = append(more, checkin("evt-1", 700+i, "Press", p, ""))
	}
	h.store.AddCheckins(more...)

	h.clock.advance(time.Minute)
	report, err := h.engine.RunDiscovery(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, report.Virtual)
	assert.Empty(t, report.Skipped)
	assert.Zero(t, report.GatesCreated)
	assert.Equal(t, 1, report.GatesUpdated)
	assert.Equal(t, 1, report.Deferred)
	assert.Equal(t, 12, report.CheckinsLinked)

	gates, _ = h.engine.ListGates(ctx, "evt-1")
	assert.Len(t, gates, 2)
	vip := bindingOf(t, h, vipGate.ID, "VIP")
	assert.Equal(t, 27, vip.SampleCount)
	assert.Equal(t, model.StatusEnforced, vip.Status)

	unlinked, err := h.store.ListUnlinkedCheckins(ctx, model.CheckinFilter{EventID: "evt-1"})
	require.NoError(t, err)
	assert.Len(t, unlinked, 10, "press scans wait for the cooldown")
}

func TestRunDiscovery_ConcurrentJobRejected(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.store.AddCheckins(threeGates("evt-1")...)

	unlock, err := h.locker.TryLock(ctx, "evt-1")
	require.NoError(t, err)

	_, err = h.engine.RunDiscovery(ctx, "evt-1")
	assert.ErrorIs(t, err, model.ErrConcurrentModification)
	assert.True(t, model.Retryable(err))
	_, err = h.engine.RunDeduplication(ctx, "evt-1")
	assert.ErrorIs(t, err, model.ErrConcurrentModification)

	// Other events are unaffected.
	h.store.AddCheckins(threeGates("evt-2")...)
	_, err = h.engine.RunDiscovery(ctx, "evt-2")
	assert.NoError(t, err)

	require.NoError(t, unlock(ctx))
	_, err = h.engine.RunDiscovery(ctx, "evt-1")
	assert.NoError(t, err)
}

func TestRunDiscovery_RequiresEvent(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.engine.RunDiscovery(context.Background(), "")
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestEvaluateCheckin(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.store.AddCheckins(threeGates("evt-1")...)
	_, err := h.engine.RunDiscovery(ctx, "evt-1")
	require.NoError(t, err)
	gates, _ := h.engine.ListGates(ctx, "evt-1")
	vipGate := gates[0].ID

	d, err := h.engine.EvaluateCheckin(ctx, "evt-1", vipGate, "VIP", binding.Policy{})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, model.StatusEnforced, d.Status)

	d, err = h.engine.EvaluateCheckin(ctx, "evt-1", vipGate, "GA", binding.Policy{})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "category mismatch")

	d, err = h.engine.EvaluateCheckin(ctx, "evt-1", vipGate, "GA", binding.Policy{AllowUnknown: true})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.True(t, d.LearningMode)

	_, err = h.engine.EvaluateCheckin(ctx, "evt-2", vipGate, "VIP", binding.Policy{})
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = h.engine.EvaluateCheckin(ctx, "evt-1", "gt-nope", "VIP", binding.Policy{})
	assert.ErrorIs(t, err, model.ErrNotFound)
}
