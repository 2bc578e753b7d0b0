// Package dedup finds gates that are the same physical entry point recorded
// several times because of GPS drift, and plans how to merge them.
package dedup

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/paulmach/orb"

	"github.com/alfredjeanlab/gatekeep/internal/geo"
	"github.com/alfredjeanlab/gatekeep/internal/model"
)

// Config controls name matching and the venue-scale thresholds.
type Config struct {
	// Suffixes are generic trailing words removed before comparing names.
	Suffixes []string `toml:"suffixes"`

	// Venue scale is picked from the spread of all gates of the event:
	// below IndoorSpread is indoor, below UrbanSpread is urban, anything
	// larger is outdoor.
	IndoorSpread     float64 `toml:"indoor_spread_m"`
	UrbanSpread      float64 `toml:"urban_spread_m"`
	IndoorThreshold  float64 `toml:"indoor_threshold_m"`
	UrbanThreshold   float64 `toml:"urban_threshold_m"`
	OutdoorThreshold float64 `toml:"outdoor_threshold_m"`

	// SimilarNameFactor widens the threshold for gates whose names share a
	// normalized key.
	SimilarNameFactor float64 `toml:"similar_name_factor"`
}

// DefaultConfig returns the built-in deduplication parameters.
func DefaultConfig() Config {
	return Config{
		Suffixes:          []string{"gate", "entrance", "entry"},
		IndoorSpread:      100,
		UrbanSpread:       1000,
		IndoorThreshold:   20,
		UrbanThreshold:    30,
		OutdoorThreshold:  50,
		SimilarNameFactor: 1.5,
	}
}

// Validate reports the first invalid parameter.
func (c Config) Validate() error {
	switch {
	case c.IndoorSpread <= 0 || c.UrbanSpread < c.IndoorSpread:
		return fmt.Errorf("spread bounds %v/%v are invalid", c.IndoorSpread, c.UrbanSpread)
	case c.IndoorThreshold <= 0 || c.UrbanThreshold <= 0 || c.OutdoorThreshold <= 0:
		return fmt.Errorf("venue thresholds must be positive")
	case c.SimilarNameFactor < 1:
		return fmt.Errorf("similar_name_factor must be at least 1, got %v", c.SimilarNameFactor)
	}
	return nil
}

// Scale is a venue classification and its merge distance.
type Scale struct {
	Name      string  `json:"name"`
	Threshold float64 `json:"threshold_m"`
}

// NormalizeName lowercases name, turns punctuation into spaces, collapses
// whitespace and strips trailing generic words. A name made only of
// generic words keeps its last word.
func NormalizeName(name string, suffixes []string) string {
	words := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for len(words) > 1 && slices.Contains(suffixes, words[len(words)-1]) {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

// VenueScale classifies the venue from the spread of the located gates.
func VenueScale(gates []*model.Gate, cfg Config) Scale {
	var points []orb.Point
	for _, g := range gates {
		if g.HasLocation() {
			points = append(points, g.Point())
		}
	}
	spread := geo.Spread(points)
	switch {
	case spread < cfg.IndoorSpread:
		return Scale{Name: "indoor", Threshold: cfg.IndoorThreshold}
	case spread < cfg.UrbanSpread:
		return Scale{Name: "urban", Threshold: cfg.UrbanThreshold}
	default:
		return Scale{Name: "outdoor", Threshold: cfg.OutdoorThreshold}
	}
}

// NameGroup is a set of gates sharing a normalized name.
type NameGroup struct {
	Key   string
	Gates []*model.Gate
}

// GroupByName groups gates by normalized name, ordered by key. Gates keep
// their chronological order inside a group.
func GroupByName(gates []*model.Gate, cfg Config) []NameGroup {
	byKey := make(map[string][]*model.Gate)
	for _, g := range gates {
		key := NormalizeName(g.Name, cfg.Suffixes)
		byKey[key] = append(byKey[key], g)
	}
	out := make([]NameGroup, 0, len(byKey))
	for key, gs := range byKey {
		slices.SortFunc(gs, compareGates)
		out = append(out, NameGroup{Key: key, Gates: gs})
	}
	slices.SortFunc(out, func(a, b NameGroup) int { return cmp.Compare(a.Key, b.Key) })
	return out
}

func compareGates(a, b *model.Gate) int {
	switch {
	case a.OlderThan(b):
		return -1
	case b.OlderThan(a):
		return 1
	}
	return 0
}

// Mergeable reports whether two gates describe one entry point. Names must
// share a normalized key, and the gates must lie within threshold or, as
// the drift fallback, within threshold*SimilarNameFactor. Validate keeps the
// factor at least 1, so the fallback bound covers both. Gates without a
// location never merge.
func Mergeable(a, b *model.Gate, threshold float64, cfg Config) bool {
	if !a.HasLocation() || !b.HasLocation() {
		return false
	}
	if NormalizeName(a.Name, cfg.Suffixes) != NormalizeName(b.Name, cfg.Suffixes) {
		return false
	}
	d := geo.Distance(a.Point(), b.Point())
	return d <= threshold*cfg.SimilarNameFactor
}
