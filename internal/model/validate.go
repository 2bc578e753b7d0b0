package model

import (
	"math"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ValidateGate checks a Gate before it is persisted.
func ValidateGate(g *Gate) error {
	var ve ValidationError
	if g.ID == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "id", Message: "is required"})
	}
	if g.EventID == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "event_id", Message: "is required"})
	}
	name := strings.TrimSpace(g.Name)
	if name == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "name", Message: "is required"})
	} else if len(name) > 200 {
		ve.Errors = append(ve.Errors, FieldError{Field: "name", Message: "must be at most 200 characters"})
	}
	if (g.Latitude == nil) != (g.Longitude == nil) {
		ve.Errors = append(ve.Errors, FieldError{Field: "location", Message: "latitude and longitude must be set together"})
	}
	if g.HasLocation() && !validCoordinate(*g.Latitude, *g.Longitude) {
		ve.Errors = append(ve.Errors, FieldError{Field: "location", Message: "coordinates out of range"})
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// ValidateBinding checks a GateBinding before it is persisted.
func ValidateBinding(b *GateBinding) error {
	var ve ValidationError
	if b.GateID == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "gate_id", Message: "is required"})
	}
	if b.EventID == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "event_id", Message: "is required"})
	}
	if strings.TrimSpace(b.Category) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "category", Message: "is required"})
	}
	if !b.Status.IsValid() {
		ve.Errors = append(ve.Errors, FieldError{Field: "status", Message: "is not a known status"})
	}
	if b.Confidence < 0 || b.Confidence > 1 || math.IsNaN(b.Confidence) {
		ve.Errors = append(ve.Errors, FieldError{Field: "confidence", Message: "must be within [0, 1]"})
	}
	if b.SampleCount < 0 {
		ve.Errors = append(ve.Errors, FieldError{Field: "sample_count", Message: "must not be negative"})
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}

func validCoordinate(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
