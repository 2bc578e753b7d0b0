// Package client provides a transport-agnostic interface for the gatekeep
// service and an HTTP/JSON implementation that talks to its REST API.
package client

import (
	"context"

	"github.com/alfredjeanlab/gatekeep/internal/model"
)

// GatesClient is the interface the gk CLI commands use to talk to the
// server. It is implemented by HTTPClient.
type GatesClient interface {
	ListGates(ctx context.Context, eventID string) ([]*model.Gate, error)
	GetGate(ctx context.Context, eventID, gateID string) (*model.Gate, error)
	ListBindings(ctx context.Context, eventID, gateID string) ([]*model.GateBinding, error)
	History(ctx context.Context, eventID string, afterID int64, limit int) ([]*model.Event, error)
	Evaluate(ctx context.Context, eventID string, req *EvaluateRequest) (*model.Decision, error)
	RunDiscovery(ctx context.Context, eventID string) (*model.DiscoveryReport, error)
	RunDeduplication(ctx context.Context, eventID string) (*model.DeduplicationReport, error)
	MergeGates(ctx context.Context, eventID string, gateIDs []string) (*model.DeduplicationReport, error)
	ApplyRecommendation(ctx context.Context, eventID, gateID, category string) (*ApplyRecommendationResponse, error)
	Health(ctx context.Context) (string, error)
	Close() error
}

// EvaluateRequest asks whether a scan of Category at GateID is allowed.
type EvaluateRequest struct {
	GateID       string `json:"gate_id"`
	Category     string `json:"category"`
	AllowUnknown bool   `json:"allow_unknown,omitempty"`
}

// ApplyRecommendationResponse is the binding after a recommendation was
// considered. Applied is false when the binding was left unchanged.
type ApplyRecommendationResponse struct {
	Binding *model.GateBinding `json:"binding"`
	Applied bool               `json:"applied"`
}
