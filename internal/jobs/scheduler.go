// Package jobs runs the engine's batch jobs outside of request handling: a
// periodic scheduler over active events, a check-in trigger fed from the
// event bus, and snapshot export of the learned gates.
package jobs

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/gatekeep/internal/model"
	"github.com/alfredjeanlab/gatekeep/internal/store"
)

// DefaultMaxTries bounds how often a job is attempted while another job
// holds the event lock.
const DefaultMaxTries = 5

// Runner is the part of the engine the scheduler drives.
type Runner interface {
	RunDiscovery(ctx context.Context, eventID string) (model.DiscoveryReport, error)
	RunDeduplication(ctx context.Context, eventID string) (model.DeduplicationReport, error)
}

// Scheduler runs discovery then deduplication for every event with unlinked
// check-ins on each tick, and snapshots the results to its destinations.
type Scheduler struct {
	store        store.Store
	runner       Runner
	destinations []Destination
	interval     time.Duration
	concurrency  int
	logger       *slog.Logger

	// newBackOff and maxTries shape the retry of lock-contended jobs.
	newBackOff func() backoff.BackOff
	maxTries   uint

	mu    sync.Mutex
	known map[string]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. concurrency bounds how many events are
// processed at once; values below 1 mean one at a time.
func NewScheduler(s store.Store, r Runner, destinations []Destination, interval time.Duration, concurrency int, logger *slog.Logger) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scheduler{
		store:        s,
		runner:       r,
		destinations: destinations,
		interval:     interval,
		concurrency:  concurrency,
		logger:       logger,
		newBackOff:   defaultBackOff,
		maxTries:     DefaultMaxTries,
		known:        make(map[string]struct{}),
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	return b
}

// Start begins periodic runs. It runs once immediately, then on each tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current run (if any) to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce processes every active event and writes a snapshot. Failures of
// individual events are logged; they never stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) {
	eventIDs, err := s.store.ListActiveEvents(ctx)
	if err != nil {
		s.logger.Error("jobs: list active events failed", "err", err)
		return
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, id := range eventIDs {
		g.Go(func() error {
			s.ProcessEvent(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	s.remember(eventIDs...)
	if len(s.destinations) > 0 {
		s.snapshot(ctx)
	}
	if len(eventIDs) > 0 {
		s.logger.Info("jobs: run completed", "events", len(eventIDs))
	}
}

// ProcessEvent runs discovery and then deduplication for one event.
func (s *Scheduler) ProcessEvent(ctx context.Context, eventID string) {
	disc, err := retry(ctx, s, eventID, func() (model.DiscoveryReport, error) {
		return s.runner.RunDiscovery(ctx, eventID)
	})
	if err != nil {
		s.logger.Error("jobs: discovery failed", "event_id", eventID, "err", err)
		return
	}
	if disc.Skipped != "" {
		s.logger.Debug("jobs: discovery skipped", "event_id", eventID, "reason", disc.Skipped)
	} else {
		s.logger.Info("jobs: discovery completed", "event_id", eventID,
			"gates_created", disc.GatesCreated, "bindings_created", disc.BindingsCreated,
			"checkins_linked", disc.CheckinsLinked)
	}

	dedup, err := retry(ctx, s, eventID, func() (model.DeduplicationReport, error) {
		return s.runner.RunDeduplication(ctx, eventID)
	})
	if err != nil {
		s.logger.Error("jobs: deduplication failed", "event_id", eventID, "err", err)
		return
	}
	if dedup.ClustersFound > 0 {
		s.logger.Info("jobs: deduplication completed", "event_id", eventID,
			"clusters", dedup.ClustersFound, "gates_deleted", dedup.GatesDeleted,
			"checkins_relinked", dedup.CheckinsRelinked)
	}
}

// retry repeats op while it fails with a retryable error.
func retry[T any](ctx context.Context, s *Scheduler, eventID string, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !model.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(s.maxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			s.logger.Debug("jobs: event busy, retrying", "event_id", eventID, "wait", wait, "err", err)
		}),
	)
}

func (s *Scheduler) remember(eventIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range eventIDs {
		s.known[id] = struct{}{}
	}
}

// Known returns the events the scheduler has processed, sorted.
func (s *Scheduler) Known() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.known))
	for id := range s.known {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (s *Scheduler) snapshot(ctx context.Context) {
	var buf bytes.Buffer
	if err := ExportJSONL(ctx, s.store, s.Known(), &buf); err != nil {
		s.logger.Error("jobs: snapshot export failed", "err", err)
		return
	}
	data := buf.Bytes()

	var errs []error
	for _, dest := range s.destinations {
		if err := dest.Write(ctx, data); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Warn("jobs: snapshot write failed", "err", err)
		return
	}
	s.logger.Debug("jobs: snapshot written", "destinations", len(s.destinations), "bytes", len(data))
}
