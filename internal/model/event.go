package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event is one entry of an event's gate history: a learned gate, a binding
// transition or a merge, stored with the payload that was published for it.
// EventID is the venue event, not this record.
type Event struct {
	ID        int64           `json:"id"`
	Topic     string          `json:"topic"`
	EventID   string          `json:"event_id"`
	GateID    string          `json:"gate_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Kind is the topic without its "gates." namespace, e.g. "binding.created".
func (e *Event) Kind() string {
	return strings.TrimPrefix(e.Topic, "gates.")
}

// Decode unmarshals the stored payload into v.
func (e *Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %d (%s): empty payload", e.ID, e.Topic)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("event %d (%s): %w", e.ID, e.Topic, err)
	}
	return nil
}
