// Package binding holds the gate/category binding lifecycle: when a binding
// is created, promoted to enforced, demoted back to probation, and how a
// scan is judged against it.
package binding

import (
	"fmt"

	"github.com/alfredjeanlab/gatekeep/internal/model"
)

// PromotionPath is one way for a probation binding to become enforced.
type PromotionPath struct {
	Name          string  `toml:"name" json:"name"`
	MinConfidence float64 `toml:"min_confidence" json:"min_confidence"`
	MinSamples    int     `toml:"min_samples" json:"min_samples"`
}

// Holds reports whether the observed sample count and confidence satisfy the path.
func (p PromotionPath) Holds(samples int, confidence float64) bool {
	return samples >= p.MinSamples && confidence >= p.MinConfidence
}

// Thresholds configures the state machine.
type Thresholds struct {
	MinScansForBinding int           `toml:"min_scans_for_binding" json:"min_scans_for_binding"`
	Standard           PromotionPath `toml:"standard" json:"standard"`
	HighVolume         PromotionPath `toml:"high_volume" json:"high_volume"`
	Escape             PromotionPath `toml:"escape" json:"escape"`
}

// DefaultThresholds returns the built-in promotion thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinScansForBinding: 5,
		Standard:           PromotionPath{Name: "standard", MinConfidence: 0.75, MinSamples: 12},
		HighVolume:         PromotionPath{Name: "high-volume", MinConfidence: 0.65, MinSamples: 30},
		Escape:             PromotionPath{Name: "probation-escape", MinConfidence: 0.70, MinSamples: 20},
	}
}

// Paths returns the promotion paths in evaluation order.
func (t Thresholds) Paths() []PromotionPath {
	return []PromotionPath{t.Standard, t.HighVolume, t.Escape}
}

// Validate checks that the thresholds describe a usable state machine.
func (t Thresholds) Validate() error {
	if t.MinScansForBinding < 1 {
		return fmt.Errorf("min_scans_for_binding must be at least 1, got %d", t.MinScansForBinding)
	}
	for _, p := range t.Paths() {
		if p.MinConfidence < 0 || p.MinConfidence > 1 {
			return fmt.Errorf("path %q: min_confidence %v out of [0,1]", p.Name, p.MinConfidence)
		}
		if p.MinSamples < t.MinScansForBinding {
			return fmt.Errorf("path %q: min_samples %d below min_scans_for_binding %d",
				p.Name, p.MinSamples, t.MinScansForBinding)
		}
	}
	return nil
}

// Satisfied returns the first promotion path that holds, if any. Paths are
// ORed; the order only decides which name is reported.
func (t Thresholds) Satisfied(samples int, confidence float64) (PromotionPath, bool) {
	for _, p := range t.Paths() {
		if p.Holds(samples, confidence) {
			return p, true
		}
	}
	return PromotionPath{}, false
}

// DemotionFloor is the lowest confidence any path accepts. An enforced
// binding below it is always demoted.
func (t Thresholds) DemotionFloor() float64 {
	floor := t.Standard.MinConfidence
	for _, p := range t.Paths() {
		floor = min(floor, p.MinConfidence)
	}
	return floor
}

// Next returns the status a binding moves to after its sample count and
// confidence were recomputed. An unbound binding with enough evidence moves
// straight through probation to enforced. Enforced bindings fall back to
// probation as soon as no promotion path holds, so an enforced binding
// always satisfies at least one path.
func (t Thresholds) Next(current model.BindingStatus, samples int, confidence float64) model.BindingStatus {
	_, promotable := t.Satisfied(samples, confidence)
	switch current {
	case model.StatusEnforced, model.StatusProbation:
		if promotable {
			return model.StatusEnforced
		}
		return model.StatusProbation
	case model.StatusUnbound:
		if samples < t.MinScansForBinding {
			return model.StatusUnbound
		}
		if promotable {
			return model.StatusEnforced
		}
		return model.StatusProbation
	}
	panic(fmt.Sprintf("binding: unhandled status %v", current))
}

// Policy adjusts how scans without a usable binding are judged.
type Policy struct {
	AllowUnknown bool `json:"allow_unknown"`
}

// Evaluate decides whether a scan of category at gateID is allowed given the
// binding for that pair, which may be nil.
func Evaluate(b *model.GateBinding, gateID, category string, policy Policy) model.Decision {
	status := model.StatusUnbound
	if b != nil {
		status = b.Status
	}
	switch status {
	case model.StatusEnforced:
		return model.Decision{
			Allowed: true,
			Status:  status,
			Reason:  fmt.Sprintf("category %q is enforced at gate %s", category, gateID),
		}
	case model.StatusProbation:
		return model.Decision{
			Allowed:      true,
			Status:       status,
			LearningMode: true,
			Reason:       fmt.Sprintf("category %q is on probation at gate %s", category, gateID),
		}
	case model.StatusUnbound:
		if policy.AllowUnknown {
			return model.Decision{
				Allowed:      true,
				Status:       status,
				LearningMode: true,
				Reason:       fmt.Sprintf("category %q is unknown at gate %s; allowed by policy", category, gateID),
			}
		}
		return model.Decision{
			Allowed: false,
			Status:  status,
			Reason:  fmt.Sprintf("category mismatch: %q is not bound to gate %s", category, gateID),
		}
	}
	panic(fmt.Sprintf("binding: unhandled status %v", status))
}

// Reverify recomputes the thresholds for a merged binding using the standard
// path only and returns a recommended status. The recommendation never lies
// below current.
func (t Thresholds) Reverify(totalSamples int, highestConfidence float64, current model.BindingStatus) model.Recommendation {
	rec := model.Recommendation{
		TotalSampleCount:     totalSamples,
		HighestConfidence:    highestConfidence,
		QualifiesForBinding:  totalSamples >= t.MinScansForBinding,
		QualifiesForEnforced: totalSamples >= t.Standard.MinSamples && highestConfidence >= t.Standard.MinConfidence,
		CurrentStatus:        current,
	}
	computed := model.StatusUnbound
	switch {
	case rec.QualifiesForEnforced:
		computed = model.StatusEnforced
	case rec.QualifiesForBinding:
		computed = model.StatusProbation
	}
	rec.RecommendedStatus = max(current, computed)
	return rec
}
