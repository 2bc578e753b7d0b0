package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alfredjeanlab/gatekeep/internal/model"
)

// Topics published by the engine.
const (
	TopicGateCreated   = "gates.gate.created"
	TopicGateRelocated = "gates.gate.relocated"

	TopicBindingCreated       = "gates.binding.created"
	TopicBindingStatusChanged = "gates.binding.status_changed"
	TopicBindingDegrading     = "gates.binding.degrading"

	TopicGatesMerged         = "gates.dedup.merged"
	TopicVirtualGatesCreated = "gates.virtual.created"

	// AllGates matches every topic above.
	AllGates = "gates.>"
)

// TopicCheckinsRecorded is published by the scanning subsystem after it
// stores new check-ins. The engine consumes it to trigger discovery.
const TopicCheckinsRecorded = "checkins.recorded"

type GateCreated struct {
	Gate     *model.Gate `json:"gate"`
	Category string      `json:"dominant_category,omitempty"`
}

type GateRelocated struct {
	GateID string    `json:"gate_id"`
	From   []float64 `json:"from,omitempty"` // [lon, lat]
	To     []float64 `json:"to"`
}

type BindingCreated struct {
	Binding *model.GateBinding `json:"binding"`
}

type BindingStatusChanged struct {
	Binding *model.GateBinding  `json:"binding"`
	From    model.BindingStatus `json:"from"`
	To      model.BindingStatus `json:"to"`
	// Reason is "discovery" for learned transitions and "recommendation"
	// when an operator applied a post-merge recommendation.
	Reason string `json:"reason"`
}

type BindingDegrading struct {
	Binding      *model.GateBinding `json:"binding"`
	PreviousMean float64            `json:"previous_mean"`
}

type GatesMerged struct {
	EventID          string   `json:"event_id"`
	PrimaryID        string   `json:"primary_id"`
	DuplicateIDs     []string `json:"duplicate_ids"`
	CheckinsRelinked int      `json:"checkins_relinked"`
}

type VirtualGatesCreated struct {
	EventID string        `json:"event_id"`
	Gates   []*model.Gate `json:"gates"`
}

// CheckinsRecorded is the payload of TopicCheckinsRecorded.
type CheckinsRecorded struct {
	EventID string `json:"event_id"`
	Count   int    `json:"count,omitempty"`
}

// DecodeCheckinsRecorded parses a TopicCheckinsRecorded payload.
func DecodeCheckinsRecorded(data []byte) (CheckinsRecorded, error) {
	var msg CheckinsRecorded
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("decoding %s: %w", TopicCheckinsRecorded, err)
	}
	if msg.EventID == "" {
		return msg, fmt.Errorf("decoding %s: missing event_id", TopicCheckinsRecorded)
	}
	return msg, nil
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
