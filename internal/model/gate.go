package model

import (
	"time"

	"github.com/paulmach/orb"
)

// GateKind distinguishes spatially discovered gates from the synthetic
// per-category gates created at a single registration point.
type GateKind string

const (
	GateKindPhysical GateKind = "physical"
	GateKindVirtual  GateKind = "virtual"
)

// Gate is a physical or virtual entry point at an event.
type Gate struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	Name      string    `json:"name"`
	Kind      GateKind  `json:"kind"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasLocation reports whether the gate has coordinates.
func (g *Gate) HasLocation() bool {
	return g.Latitude != nil && g.Longitude != nil
}

// Point returns the gate location as an orb.Point ([lon, lat]).
func (g *Gate) Point() orb.Point {
	return orb.Point{*g.Longitude, *g.Latitude}
}

// SetPoint stores p as the gate location.
func (g *Gate) SetPoint(p orb.Point) {
	lon, lat := p.Lon(), p.Lat()
	g.Longitude = &lon
	g.Latitude = &lat
}

// OlderThan orders gates chronologically, falling back to the identifier.
// The oldest gate of a duplicate set becomes the merge primary.
func (g *Gate) OlderThan(other *Gate) bool {
	if !g.CreatedAt.Equal(other.CreatedAt) {
		return g.CreatedAt.Before(other.CreatedAt)
	}
	return g.ID < other.ID
}
