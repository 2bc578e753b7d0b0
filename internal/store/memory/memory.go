// Package memory implements store.Store in process memory. It backs tests
// and single-node deployments that do not need durability.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/alfredjeanlab/gatekeep/internal/model"
	"github.com/alfredjeanlab/gatekeep/internal/store"
)

type bindingKey struct {
	gateID   string
	category string
}

type state struct {
	checkins    map[string]*model.Checkin
	gates       map[string]*model.Gate
	bindings    map[bindingKey]*model.GateBinding
	events      []*model.Event
	nextEventID int64
}

func newState() *state {
	return &state{
		checkins: make(map[string]*model.Checkin),
		gates:    make(map[string]*model.Gate),
		bindings: make(map[bindingKey]*model.GateBinding),
	}
}

func (s *state) clone() *state {
	c := newState()
	for id, v := range s.checkins {
		cp := *v
		c.checkins[id] = &cp
	}
	for id, v := range s.gates {
		cp := *v
		c.gates[id] = &cp
	}
	for k, v := range s.bindings {
		cp := *v
		c.bindings[k] = &cp
	}
	c.events = slices.Clone(s.events)
	c.nextEventID = s.nextEventID
	return c
}

// Store is an in-memory store.Store. Transactions run against a copy of the
// data that replaces the original on success.
type Store struct {
	mu  sync.RWMutex
	st  *state
	now func() time.Time
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

// WithClock sets the clock used for timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// AddCheckins inserts check-ins as the scanning subsystem would.
func (s *Store) AddCheckins(checkins ...*model.Checkin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range checkins {
		cp := *c
		s.st.checkins[c.ID] = &cp
	}
}

// Checkins returns a copy of every stored check-in ordered by ID.
func (s *Store) Checkins() []*model.Checkin {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Checkin, 0, len(s.st.checkins))
	for _, c := range s.st.checkins {
		cp := *c
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *model.Checkin) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (s *Store) ListUnlinkedCheckins(_ context.Context, filter model.CheckinFilter) ([]*model.Checkin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Checkin
	for _, c := range s.st.checkins {
		if c.EventID != filter.EventID || c.GateID != "" {
			continue
		}
		if !filter.Since.IsZero() && c.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && !c.Timestamp.Before(filter.Until) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *model.Checkin) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) LinkCheckins(_ context.Context, gateID string, checkinIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range checkinIDs {
		if c, ok := s.st.checkins[id]; ok && c.GateID == "" {
			c.GateID = gateID
			n++
		}
	}
	return n, nil
}

func (s *Store) RelinkCheckins(_ context.Context, fromGateIDs []string, toGateID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.st.checkins {
		if c.GateID != "" && slices.Contains(fromGateIDs, c.GateID) {
			c.GateID = toGateID
			n++
		}
	}
	return n, nil
}

func (s *Store) CountCheckinsByCategory(_ context.Context, gateID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int)
	for _, c := range s.st.checkins {
		if c.GateID == gateID {
			counts[c.Category]++
		}
	}
	return counts, nil
}

func (s *Store) CountCheckinsForGates(_ context.Context, gateIDs []string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.st.checkins {
		if c.GateID != "" && slices.Contains(gateIDs, c.GateID) {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountOrphanedCheckins(_ context.Context, eventID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.st.checkins {
		if c.EventID != eventID || c.GateID == "" {
			continue
		}
		if _, ok := s.st.gates[c.GateID]; !ok {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListActiveEvents(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, c := range s.st.checkins {
		if c.GateID == "" && !seen[c.EventID] {
			seen[c.EventID] = true
			out = append(out, c.EventID)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *Store) CreateGate(_ context.Context, gate *model.Gate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.gates[gate.ID]; ok {
		return fmt.Errorf("create gate %s: already exists", gate.ID)
	}
	cp := *gate
	s.st.gates[gate.ID] = &cp
	return nil
}

func (s *Store) GetGate(_ context.Context, id string) (*model.Gate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.st.gates[id]
	if !ok {
		return nil, fmt.Errorf("gate %s: %w", id, model.ErrNotFound)
	}
	cp := *g
	return &cp, nil
}

func (s *Store) ListGates(_ context.Context, eventID string) ([]*model.Gate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Gate
	for _, g := range s.st.gates {
		if g.EventID == eventID {
			cp := *g
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *model.Gate) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) UpdateGate(_ context.Context, gate *model.Gate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.st.gates[gate.ID]
	if !ok {
		return fmt.Errorf("gate %s: %w", gate.ID, model.ErrNotFound)
	}
	g.Name = gate.Name
	g.Latitude = gate.Latitude
	g.Longitude = gate.Longitude
	g.UpdatedAt = s.now()
	gate.UpdatedAt = g.UpdatedAt
	return nil
}

func (s *Store) DeleteGate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.gates[id]; !ok {
		return fmt.Errorf("gate %s: %w", id, model.ErrNotFound)
	}
	delete(s.st.gates, id)
	for k := range s.st.bindings {
		if k.gateID == id {
			delete(s.st.bindings, k)
		}
	}
	return nil
}

func (s *Store) UpsertBinding(_ context.Context, b *model.GateBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.gates[b.GateID]; !ok {
		return fmt.Errorf("binding for gate %s: %w", b.GateID, model.ErrNotFound)
	}
	k := bindingKey{gateID: b.GateID, category: b.Category}
	if prev, ok := s.st.bindings[k]; ok {
		b.SampleCount = max(b.SampleCount, prev.SampleCount)
	}
	b.UpdatedAt = s.now()
	cp := *b
	s.st.bindings[k] = &cp
	return nil
}

func (s *Store) GetBinding(_ context.Context, gateID, category string) (*model.GateBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.st.bindings[bindingKey{gateID: gateID, category: category}]
	if !ok {
		return nil, fmt.Errorf("binding %s/%s: %w", gateID, category, model.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (s *Store) ListBindings(_ context.Context, eventID, gateID string) ([]*model.GateBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.GateBinding
	for _, b := range s.st.bindings {
		if b.EventID != eventID || (gateID != "" && b.GateID != gateID) {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *model.GateBinding) int {
		if c := cmp.Compare(a.GateID, b.GateID); c != 0 {
			return c
		}
		return cmp.Compare(a.Category, b.Category)
	})
	return out, nil
}

func (s *Store) DeleteBindings(_ context.Context, gateID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.st.bindings {
		if k.gateID == gateID {
			delete(s.st.bindings, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) RecordEvent(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.nextEventID++
	e.ID = s.st.nextEventID
	e.CreatedAt = s.now()
	cp := *e
	s.st.events = append(s.st.events, &cp)
	return nil
}

func (s *Store) ListEvents(_ context.Context, eventID string, afterID int64, limit int) ([]*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Event
	for _, e := range s.st.events {
		if e.EventID != eventID || e.ID <= afterID {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// RunInTransaction runs fn against a private copy of the data and publishes
// the copy only when fn succeeds. Other writers block until it finishes.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Store{st: s.st.clone(), now: s.now}
	if err := fn(&txStore{Store: tx}); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// txStore is the view handed to a transaction body. Nested transactions
// reuse it.
type txStore struct {
	*Store
}

func (t *txStore) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(t)
}
