package model

import (
	"testing"
)

func ptr(v float64) *float64 { return &v }

// validGate returns a Gate that passes all validation rules.
func validGate() Gate {
	return Gate{
		ID:        "gt-abc",
		EventID:   "ev-1",
		Name:      "VIP Gate",
		Kind:      GateKindPhysical,
		Latitude:  ptr(51.5),
		Longitude: ptr(-0.12),
	}
}

// fieldErrors extracts a *ValidationError from err or fails the test.
func fieldErrors(t *testing.T, err error) []FieldError {
	t.Helper()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	return ve.Errors
}

// hasFieldError reports whether the error list contains an error for the given field.
func hasFieldError(errs []FieldError, field string) bool {
	for _, fe := range errs {
		if fe.Field == field {
			return true
		}
	}
	return false
}

func TestValidateGate_Valid(t *testing.T) {
	g := validGate()
	if err := ValidateGate(&g); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateGate_NoLocationIsValid(t *testing.T) {
	g := validGate()
	g.Latitude, g.Longitude = nil, nil
	if err := ValidateGate(&g); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateGate_Fields(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(g *Gate)
		field  string
	}{
		{"MissingID", func(g *Gate) { g.ID = "" }, "id"},
		{"MissingEvent", func(g *Gate) { g.EventID = "" }, "event_id"},
		{"BlankName", func(g *Gate) { g.Name = "  \t" }, "name"},
		{"HalfLocation", func(g *Gate) { g.Longitude = nil }, "location"},
		{"LatitudeOutOfRange", func(g *Gate) { g.Latitude = ptr(91) }, "location"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			g := validGate()
			tc.mutate(&g)
			errs := fieldErrors(t, ValidateGate(&g))
			if !hasFieldError(errs, tc.field) {
				t.Errorf("expected error on field %q, got %v", tc.field, errs)
			}
		})
	}
}

func TestValidateBinding(t *testing.T) {
	valid := GateBinding{GateID: "gt-1", EventID: "ev-1", Category: "VIP", Status: StatusProbation, Confidence: 0.4, SampleCount: 6}
	if err := ValidateBinding(&valid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, tc := range []struct {
		name   string
		mutate func(b *GateBinding)
		field  string
	}{
		{"MissingCategory", func(b *GateBinding) { b.Category = "" }, "category"},
		{"BadStatus", func(b *GateBinding) { b.Status = BindingStatus(9) }, "status"},
		{"ConfidenceAboveOne", func(b *GateBinding) { b.Confidence = 1.2 }, "confidence"},
		{"NegativeSamples", func(b *GateBinding) { b.SampleCount = -1 }, "sample_count"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := valid
			tc.mutate(&b)
			errs := fieldErrors(t, ValidateBinding(&b))
			if !hasFieldError(errs, tc.field) {
				t.Errorf("expected error on field %q, got %v", tc.field, errs)
			}
		})
	}
}
