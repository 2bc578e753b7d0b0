package config

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/alfredjeanlab/gatekeep/internal/binding"
	"github.com/alfredjeanlab/gatekeep/internal/cluster"
	"github.com/alfredjeanlab/gatekeep/internal/confidence"
	"github.com/alfredjeanlab/gatekeep/internal/dedup"
	"github.com/alfredjeanlab/gatekeep/internal/virtualgate"
)

// Tuning holds the engine thresholds. Every field has a built-in default;
// a TOML file only needs the keys it overrides.
type Tuning struct {
	// Z is the Wilson score z-value used for binding confidence.
	Z float64 `toml:"z"`
	// DegradeTolerance is how far the Beta mean of a binding may fall
	// between runs before a degrading event is emitted.
	DegradeTolerance float64 `toml:"degrade_tolerance"`
	// DiscoveryBatch caps how many of the most recent unlinked check-ins a
	// discovery run reads.
	DiscoveryBatch int `toml:"discovery_batch"`

	Cluster     cluster.Config     `toml:"cluster"`
	Binding     binding.Thresholds `toml:"binding"`
	VirtualGate virtualgate.Config `toml:"virtual_gate"`
	Dedup       dedup.Config       `toml:"dedup"`
}

// DefaultTuning returns the built-in thresholds.
func DefaultTuning() Tuning {
	return Tuning{
		Z:                confidence.DefaultZ,
		DegradeTolerance: 0.05,
		DiscoveryBatch:   1000,
		Cluster:          cluster.DefaultConfig(),
		Binding:          binding.DefaultThresholds(),
		VirtualGate:      virtualgate.DefaultConfig(),
		Dedup:            dedup.DefaultConfig(),
	}
}

// Validate checks every section and reports all problems at once.
func (t Tuning) Validate() error {
	var errs []error
	if t.Z <= 0 {
		errs = append(errs, fmt.Errorf("z must be positive"))
	}
	if t.DegradeTolerance < 0 || t.DegradeTolerance >= 1 {
		errs = append(errs, fmt.Errorf("degrade_tolerance must be within [0, 1)"))
	}
	if t.DiscoveryBatch < t.Cluster.ColdStartMinimum {
		errs = append(errs, fmt.Errorf("discovery_batch %d is below cluster.cold_start_minimum %d",
			t.DiscoveryBatch, t.Cluster.ColdStartMinimum))
	}
	if t.VirtualGate.MinScansForGateCreation < t.Binding.MinScansForBinding {
		errs = append(errs, fmt.Errorf("virtual_gate.min_scans_for_gate_creation %d is below binding.min_scans_for_binding %d",
			t.VirtualGate.MinScansForGateCreation, t.Binding.MinScansForBinding))
	}
	if err := t.Cluster.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("cluster: %w", err))
	}
	if err := t.Binding.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("binding: %w", err))
	}
	if err := t.VirtualGate.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("virtual_gate: %w", err))
	}
	if err := t.Dedup.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("dedup: %w", err))
	}
	return errors.Join(errs...)
}

// LoadTuning reads overrides from path on top of DefaultTuning. An empty
// path returns the defaults.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path != "" {
		md, err := toml.DecodeFile(path, &t)
		if err != nil {
			return Tuning{}, fmt.Errorf("reading tuning file %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Tuning{}, fmt.Errorf("tuning file %s: unknown key %s", path, undecoded[0])
		}
	}
	if err := t.Validate(); err != nil {
		return Tuning{}, fmt.Errorf("invalid tuning: %w", err)
	}
	return t, nil
}
