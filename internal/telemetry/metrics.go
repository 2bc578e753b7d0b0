package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Instruments are the engine's tracer and counters.
type Instruments struct {
	Tracer trace.Tracer

	jobs         metric.Int64Counter
	jobErrors    metric.Int64Counter
	jobDuration  metric.Float64Histogram
	gatesCreated metric.Int64Counter
	transitions  metric.Int64Counter
	gatesMerged  metric.Int64Counter
}

// NewInstruments creates instruments from the given providers. Nil
// providers fall back to the global ones.
func NewInstruments(tp trace.TracerProvider, mp metric.MeterProvider) (*Instruments, error) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(InstrumentationName)
	in := &Instruments{Tracer: tp.Tracer(InstrumentationName)}

	var err error
	if in.jobs, err = meter.Int64Counter("gatekeep.jobs",
		metric.WithDescription("Discovery and deduplication jobs run"),
		metric.WithUnit("{job}")); err != nil {
		return nil, err
	}
	if in.jobErrors, err = meter.Int64Counter("gatekeep.job.errors",
		metric.WithDescription("Jobs that ended in an error"),
		metric.WithUnit("{job}")); err != nil {
		return nil, err
	}
	if in.jobDuration, err = meter.Float64Histogram("gatekeep.job.duration",
		metric.WithDescription("Job duration in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if in.gatesCreated, err = meter.Int64Counter("gatekeep.gates.created",
		metric.WithUnit("{gate}")); err != nil {
		return nil, err
	}
	if in.transitions, err = meter.Int64Counter("gatekeep.binding.transitions",
		metric.WithDescription("Binding status changes by target status"),
		metric.WithUnit("{transition}")); err != nil {
		return nil, err
	}
	if in.gatesMerged, err = meter.Int64Counter("gatekeep.gates.merged",
		metric.WithDescription("Duplicate gates folded into a primary"),
		metric.WithUnit("{gate}")); err != nil {
		return nil, err
	}
	return in, nil
}

// TrackJob starts a span for a job on eventID. The returned function ends
// the span and records the outcome.
func (in *Instruments) TrackJob(ctx context.Context, job, eventID string) (context.Context, func(error)) {
	start := time.Now()
	attrs := []attribute.KeyValue{
		attribute.String("job", job),
		attribute.String("event.id", eventID),
	}
	ctx, span := in.Tracer.Start(ctx, "engine."+job, trace.WithAttributes(attrs...))
	in.jobs.Add(ctx, 1, metric.WithAttributes(attrs[0]))

	return ctx, func(err error) {
		in.jobDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs[0]))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			in.jobErrors.Add(ctx, 1, metric.WithAttributes(attrs[0]))
		}
		span.End()
	}
}

// GateCreated counts a new gate of the given kind.
func (in *Instruments) GateCreated(ctx context.Context, kind string) {
	in.gatesCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// Transition counts a binding status change.
func (in *Instruments) Transition(ctx context.Context, from, to string) {
	in.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// GatesMerged counts duplicates deleted by a merge.
func (in *Instruments) GatesMerged(ctx context.Context, n int) {
	in.gatesMerged.Add(ctx, int64(n))
}
