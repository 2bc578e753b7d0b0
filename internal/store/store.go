package store

import (
	"context"

	"github.com/alfredjeanlab/gatekeep/internal/model"
)

// Store defines the persistence interface for gates, bindings and the
// check-in log they are learned from. Missing rows are reported as
// model.ErrNotFound.
type Store interface {
	// Check-ins. The scanning subsystem owns these rows; the engine only
	// reads them and sets gate_id.
	ListUnlinkedCheckins(ctx context.Context, filter model.CheckinFilter) ([]*model.Checkin, error)
	// LinkCheckins sets gate_id on the given check-ins that are still
	// unlinked and returns how many rows changed.
	LinkCheckins(ctx context.Context, gateID string, checkinIDs []string) (int, error)
	// RelinkCheckins points every check-in of the from gates at to.
	RelinkCheckins(ctx context.Context, fromGateIDs []string, toGateID string) (int, error)
	CountCheckinsByCategory(ctx context.Context, gateID string) (map[string]int, error)
	CountCheckinsForGates(ctx context.Context, gateIDs []string) (int, error)
	// CountOrphanedCheckins counts check-ins of the event whose gate_id
	// references a gate that does not exist.
	CountOrphanedCheckins(ctx context.Context, eventID string) (int, error)
	// ListActiveEvents returns the events that have unlinked check-ins.
	ListActiveEvents(ctx context.Context) ([]string, error)

	// Gates
	CreateGate(ctx context.Context, gate *model.Gate) error
	GetGate(ctx context.Context, id string) (*model.Gate, error)
	ListGates(ctx context.Context, eventID string) ([]*model.Gate, error)
	UpdateGate(ctx context.Context, gate *model.Gate) error
	DeleteGate(ctx context.Context, id string) error

	// Bindings. UpsertBinding never lowers a stored sample count.
	UpsertBinding(ctx context.Context, binding *model.GateBinding) error
	GetBinding(ctx context.Context, gateID, category string) (*model.GateBinding, error)
	// ListBindings returns the bindings of an event, optionally narrowed to
	// one gate when gateID is non-empty.
	ListBindings(ctx context.Context, eventID, gateID string) ([]*model.GateBinding, error)
	DeleteBindings(ctx context.Context, gateID string) (int, error)

	// Events
	RecordEvent(ctx context.Context, event *model.Event) error
	ListEvents(ctx context.Context, eventID string, afterID int64, limit int) ([]*model.Event, error)

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
