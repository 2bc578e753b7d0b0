// Package virtualgate handles events where nearly every scan happens at one
// spot, such as a registration desk. Instead of clustering by location it
// creates one synthetic gate per wristband category.
package virtualgate

import (
	"cmp"
	"fmt"
	"hash/fnv"
	"slices"
	"time"

	"github.com/paulmach/orb"

	"github.com/alfredjeanlab/gatekeep/internal/geo"
	"github.com/alfredjeanlab/gatekeep/internal/model"
)

// Config controls detection and gate synthesis.
type Config struct {
	Enabled bool `toml:"enabled"`
	// RadiusMeters is the neighbourhood radius of the density test.
	RadiusMeters float64 `toml:"radius_m"`
	// Fraction of all check-ins that must share one neighbourhood.
	Fraction float64 `toml:"fraction"`
	// MinScansForGateCreation is the per-category sample count needed for a
	// virtual gate.
	MinScansForGateCreation int `toml:"min_scans_for_gate_creation"`
	// OffsetMeters separates the per-category gates from the shared centroid.
	OffsetMeters float64       `toml:"offset_m"`
	Cooldown     time.Duration `toml:"cooldown"`
}

// DefaultConfig returns the built-in virtual-gate parameters.
func DefaultConfig() Config {
	return Config{
		Enabled:                 true,
		RadiusMeters:            50,
		Fraction:                0.6,
		MinScansForGateCreation: 5,
		OffsetMeters:            3,
		Cooldown:                5 * time.Minute,
	}
}

// Validate reports the first invalid parameter.
func (c Config) Validate() error {
	switch {
	case c.RadiusMeters <= 0:
		return fmt.Errorf("radius_m must be positive, got %v", c.RadiusMeters)
	case c.Fraction <= 0 || c.Fraction > 1:
		return fmt.Errorf("fraction must be in (0,1], got %v", c.Fraction)
	case c.MinScansForGateCreation < 1:
		return fmt.Errorf("min_scans_for_gate_creation must be at least 1, got %d", c.MinScansForGateCreation)
	case c.OffsetMeters < 0:
		return fmt.Errorf("offset_m must not be negative, got %v", c.OffsetMeters)
	case c.Cooldown < 0:
		return fmt.Errorf("cooldown must not be negative, got %v", c.Cooldown)
	}
	return nil
}

// Detection is the densest neighbourhood found by Detect.
type Detection struct {
	// Members are indices into the input of the points in the neighbourhood.
	Members  []int
	Centroid orb.Point
	Share    float64
}

// Detect finds the point whose radius-neighbourhood holds the most points and
// reports whether that neighbourhood contains at least fraction of all
// points. Ties go to the earliest point.
func Detect(points []orb.Point, radius, fraction float64) (Detection, bool) {
	if len(points) == 0 {
		return Detection{}, false
	}
	var best []int
	for i := range points {
		var members []int
		for j := range points {
			if geo.Distance(points[i], points[j]) <= radius {
				members = append(members, j)
			}
		}
		if len(members) > len(best) {
			best = members
		}
	}

	pts := make([]orb.Point, len(best))
	for i, idx := range best {
		pts[i] = points[idx]
	}
	d := Detection{
		Members:  best,
		Centroid: geo.Centroid(pts),
		Share:    float64(len(best)) / float64(len(points)),
	}
	return d, d.Share >= fraction
}

// Planned is one virtual gate to create or reuse.
type Planned struct {
	Category string
	Name     string
	Location orb.Point
	Members  []*model.Checkin
}

// GateName is the display name given to the virtual gate of category.
func GateName(category string) string {
	return category + " Virtual Gate"
}

// Plan groups checkins by category and returns one gate per category with
// enough samples, ordered by category. Each gate sits OffsetMeters from
// centroid on a bearing derived from the category name, so the layout is
// the same on every run.
func Plan(checkins []*model.Checkin, centroid orb.Point, cfg Config) []Planned {
	byCategory := make(map[string][]*model.Checkin)
	for _, c := range checkins {
		byCategory[c.Category] = append(byCategory[c.Category], c)
	}

	var out []Planned
	for cat, members := range byCategory {
		if len(members) < cfg.MinScansForGateCreation {
			continue
		}
		out = append(out, Planned{
			Category: cat,
			Name:     GateName(cat),
			Location: geo.Offset(centroid, bearing(cat), cfg.OffsetMeters),
			Members:  members,
		})
	}
	slices.SortFunc(out, func(a, b Planned) int { return cmp.Compare(a.Category, b.Category) })
	return out
}

func bearing(category string) float64 {
	h := fnv.New32a()
	h.Write([]byte(category))
	return float64(h.Sum32() % 360)
}
