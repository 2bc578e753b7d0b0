// Package server exposes the gate engine over HTTP and serves gRPC health
// checks for orchestrators.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alfredjeanlab/gatekeep/internal/binding"
	"github.com/alfredjeanlab/gatekeep/internal/model"
)

// Engine is the set of engine operations the transport exposes.
type Engine interface {
	ListGates(ctx context.Context, eventID string) ([]*model.Gate, error)
	GetGate(ctx context.Context, eventID, gateID string) (*model.Gate, error)
	ListBindings(ctx context.Context, eventID, gateID string) ([]*model.GateBinding, error)
	History(ctx context.Context, eventID string, afterID int64, limit int) ([]*model.Event, error)
	EvaluateCheckin(ctx context.Context, eventID, gateID, category string, policy binding.Policy) (model.Decision, error)
	RunDiscovery(ctx context.Context, eventID string) (model.DiscoveryReport, error)
	RunDeduplication(ctx context.Context, eventID string) (model.DeduplicationReport, error)
	MergeGates(ctx context.Context, gateIDs []string) (model.DeduplicationReport, error)
	ApplyRecommendation(ctx context.Context, eventID, gateID, category string) (*model.GateBinding, bool, error)
}

// Server serves the gate API on top of an Engine.
type Server struct {
	engine Engine
	logger *slog.Logger
}

// New returns a Server for the given engine.
func New(e Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: e, logger: logger}
}

// inputError indicates invalid user input.
// Transport layers map this to 400 / InvalidArgument.
type inputError string

func (e inputError) Error() string { return string(e) }

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	var ie inputError
	switch {
	case errors.As(err, &ie), errors.Is(err, model.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, model.ErrIntegrityViolation), errors.Is(err, model.ErrAmbiguousMerge):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
