package model

import (
	"time"

	"github.com/paulmach/orb"
)

// Checkin is a geotagged scan produced by the scanning subsystem. The engine
// never creates check-ins; it reads unlinked ones and writes back GateID.
type Checkin struct {
	ID          string    `json:"id"`
	EventID     string    `json:"event_id"`
	WristbandID string    `json:"wristband_id"`
	Category    string    `json:"category"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	AccuracyM   *float64  `json:"accuracy_m,omitempty"`
	GateID      string    `json:"gate_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// HasLocation reports whether both coordinates are present.
func (c *Checkin) HasLocation() bool {
	return c.Latitude != nil && c.Longitude != nil
}

// Point returns the check-in location as an orb.Point ([lon, lat]).
// Callers must check HasLocation first.
func (c *Checkin) Point() orb.Point {
	return orb.Point{*c.Longitude, *c.Latitude}
}

// CheckinFilter selects unlinked check-ins for a discovery run.
type CheckinFilter struct {
	EventID string    `json:"event_id"`
	Since   time.Time `json:"since,omitempty"`
	Until   time.Time `json:"until,omitempty"`
	Limit   int       `json:"limit,omitempty"` // most recent N; 0 = no limit
}
