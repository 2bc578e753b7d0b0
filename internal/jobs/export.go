package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/gatekeep/internal/model"
	"github.com/alfredjeanlab/gatekeep/internal/store"
)

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version      string    `json:"version"`
	Type         string    `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	EventCount   int       `json:"event_count"`
	GateCount    int       `json:"gate_count"`
	BindingCount int       `json:"binding_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes the gates and bindings of the given events as JSONL to
// w: a header line, then every gate, then every binding. Events are written
// in the order given; gates in creation order and bindings by gate and
// category, as the store returns them.
func ExportJSONL(ctx context.Context, s store.Store, eventIDs []string, w io.Writer) error {
	var (
		gates    []*model.Gate
		bindings []*model.GateBinding
	)
	for _, id := range eventIDs {
		g, err := s.ListGates(ctx, id)
		if err != nil {
			return fmt.Errorf("list gates of %s: %w", id, err)
		}
		gates = append(gates, g...)

		b, err := s.ListBindings(ctx, id, "")
		if err != nil {
			return fmt.Errorf("list bindings of %s: %w", id, err)
		}
		bindings = append(bindings, b...)
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:      "1",
		Type:         "header",
		Timestamp:    time.Now().UTC(),
		EventCount:   len(eventIDs),
		GateCount:    len(gates),
		BindingCount: len(bindings),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, g := range gates {
		if err := enc.Encode(record{Type: "gate", Data: g}); err != nil {
			return fmt.Errorf("encode gate %s: %w", g.ID, err)
		}
	}
	for _, b := range bindings {
		if err := enc.Encode(record{Type: "binding", Data: b}); err != nil {
			return fmt.Errorf("encode binding %s/%s: %w", b.GateID, b.Category, err)
		}
	}
	return nil
}
