package model

import (
	"fmt"
	"time"
)

// BindingStatus is the lifecycle state of a gate/category binding.
type BindingStatus int

const (
	StatusUnbound BindingStatus = iota
	StatusProbation
	StatusEnforced
)

// String returns the wire name of the status.
func (s BindingStatus) String() string {
	switch s {
	case StatusUnbound:
		return "unbound"
	case StatusProbation:
		return "probation"
	case StatusEnforced:
		return "enforced"
	}
	return fmt.Sprintf("BindingStatus(%d)", int(s))
}

// IsValid reports whether s is one of the known statuses.
func (s BindingStatus) IsValid() bool {
	switch s {
	case StatusUnbound, StatusProbation, StatusEnforced:
		return true
	}
	return false
}

// ParseBindingStatus converts a wire name back into a status.
func ParseBindingStatus(v string) (BindingStatus, error) {
	switch v {
	case "unbound":
		return StatusUnbound, nil
	case "probation":
		return StatusProbation, nil
	case "enforced":
		return StatusEnforced, nil
	}
	return StatusUnbound, fmt.Errorf("unknown binding status %q", v)
}

// MarshalText implements encoding.TextMarshaler.
func (s BindingStatus) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid binding status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *BindingStatus) UnmarshalText(b []byte) error {
	v, err := ParseBindingStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// GateBinding authorizes one wristband category at one gate. The
// (GateID, Category) pair is unique.
type GateBinding struct {
	GateID      string        `json:"gate_id"`
	EventID     string        `json:"event_id"`
	Category    string        `json:"category"`
	Status      BindingStatus `json:"status"`
	Confidence  float64       `json:"confidence"`
	SampleCount int           `json:"sample_count"`
	// BetaMean is the Beta(successes+1, failures+1) mean, tracked alongside
	// the Wilson bound to spot confidence that degrades as contradicting
	// scans accumulate.
	BetaMean  float64   `json:"beta_mean"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Decision is the result of evaluating a scan against the bindings of a gate.
type Decision struct {
	Allowed      bool          `json:"allowed"`
	Status       BindingStatus `json:"status"`
	LearningMode bool          `json:"learning_mode,omitempty"`
	Reason       string        `json:"reason"`
}
