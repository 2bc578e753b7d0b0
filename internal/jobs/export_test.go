package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/gatekeep/internal/model"
	"github.com/alfredjeanlab/gatekeep/internal/store/memory"
)

var base = time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)

// rawRecord mirrors record with the payload left undecoded.
type rawRecord struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func seedGates(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New().WithClock(func() time.Time { return base })
	ctx := context.Background()
	lat, lon := 51.5, -0.12
	for i, g := range []*model.Gate{
		{ID: "gt-b", EventID: "evt-1", Name: "Staff Gate", Kind: model.GateKindPhysical},
		{ID: "gt-a", EventID: "evt-1", Name: "VIP Gate", Kind: model.GateKindPhysical},
		{ID: "gt-c", EventID: "evt-2", Name: "GA Gate", Kind: model.GateKindPhysical},
	} {
		g.Latitude, g.Longitude = &lat, &lon
		g.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.CreateGate(ctx, g); err != nil {
			t.Fatalf("CreateGate(%s): %v", g.ID, err)
		}
	}
	for _, b := range []*model.GateBinding{
		{GateID: "gt-a", EventID: "evt-1", Category: "VIP", Status: model.StatusEnforced, Confidence: 0.8, SampleCount: 15},
		{GateID: "gt-b", EventID: "evt-1", Category: "Staff", Status: model.StatusProbation, Confidence: 0.5, SampleCount: 6},
	} {
		if err := s.UpsertBinding(ctx, b); err != nil {
			t.Fatalf("UpsertBinding(%s): %v", b.GateID, err)
		}
	}
	return s
}

func TestExportJSONL_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := ExportJSONL(context.Background(), memory.New(), nil, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := nonEmptyLines(buf.String())
	if len(lines) != 1 {
		t.Fatalf("expected 1 line (header only), got %d", len(lines))
	}

	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.Version != "1" || h.Type != "header" || h.GateCount != 0 || h.BindingCount != 0 {
		t.Fatalf("unexpected header: %+v", h)
	}
}

func TestExportJSONL_GatesAndBindings(t *testing.T) {
	s := seedGates(t)

	var buf bytes.Buffer
	if err := ExportJSONL(context.Background(), s, []string{"evt-1", "evt-2"}, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := nonEmptyLines(buf.String())
	// 1 header + 3 gates + 2 bindings
	if len(lines) != 6 {
		t.Fatalf("expected 6 lines, got %d:\n%s", len(lines), buf.String())
	}

	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.EventCount != 2 || h.GateCount != 3 || h.BindingCount != 2 {
		t.Fatalf("header counts: %+v", h)
	}

	var gateIDs []string
	for _, line := range lines[1:4] {
		var rec rawRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("unmarshal %s: %v", line, err)
		}
		if rec.Type != "gate" {
			t.Fatalf("expected gate record, got %q", rec.Type)
		}
		var g model.Gate
		if err := json.Unmarshal(rec.Data, &g); err != nil {
			t.Fatalf("unmarshal gate: %v", err)
		}
		gateIDs = append(gateIDs, g.ID)
	}
	// Creation order within an event, events in the order requested.
	if strings.Join(gateIDs, ",") != "gt-b,gt-a,gt-c" {
		t.Fatalf("gate order = %v", gateIDs)
	}

	var rec rawRecord
	if err := json.Unmarshal([]byte(lines[4]), &rec); err != nil {
		t.Fatalf("unmarshal binding line: %v", err)
	}
	var b model.GateBinding
	if err := json.Unmarshal(rec.Data, &b); err != nil {
		t.Fatalf("unmarshal binding: %v", err)
	}
	if rec.Type != "binding" || b.GateID != "gt-a" || b.Status != model.StatusEnforced || b.SampleCount != 15 {
		t.Fatalf("first binding = %s %+v", rec.Type, b)
	}
}

func TestExportJSONL_OnlyRequestedEvents(t *testing.T) {
	s := seedGates(t)

	var buf bytes.Buffer
	if err := ExportJSONL(context.Background(), s, []string{"evt-2"}, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lines := nonEmptyLines(buf.String()); len(lines) != 2 {
		t.Fatalf("expected header + 1 gate, got %d lines", len(lines))
	}
}

func nonEmptyLines(s string) []string {
	var result []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			result = append(result, line)
		}
	}
	return result
}
