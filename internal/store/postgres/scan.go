package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/alfredjeanlab/gatekeep/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanCheckin scans a single row into a model.Checkin.
// The row must contain columns in the order defined by checkinColumns.
func scanCheckin(row scannable) (*model.Checkin, error) {
	var c model.Checkin
	var (
		lat, lon, acc sql.NullFloat64
		gateID        sql.NullString
	)
	err := row.Scan(
		&c.ID,
		&c.EventID,
		&c.WristbandID,
		&c.Category,
		&lat,
		&lon,
		&acc,
		&gateID,
		&c.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	c.Latitude = floatPtr(lat)
	c.Longitude = floatPtr(lon)
	c.AccuracyM = floatPtr(acc)
	c.GateID = gateID.String
	return &c, nil
}

func scanCheckins(rows *sql.Rows) ([]*model.Checkin, error) {
	var out []*model.Checkin
	for rows.Next() {
		c, err := scanCheckin(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkin: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// scanGate scans a single row into a model.Gate.
// The row must contain columns in the order defined by gateColumns.
func scanGate(row scannable) (*model.Gate, error) {
	var g model.Gate
	var lat, lon sql.NullFloat64
	err := row.Scan(
		&g.ID,
		&g.EventID,
		&g.Name,
		&g.Kind,
		&lat,
		&lon,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	g.Latitude = floatPtr(lat)
	g.Longitude = floatPtr(lon)
	return &g, nil
}

func scanGates(rows *sql.Rows) ([]*model.Gate, error) {
	var out []*model.Gate
	for rows.Next() {
		g, err := scanGate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan gate: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// scanBinding scans a single row into a model.GateBinding.
// The row must contain columns in the order defined by bindingColumns.
func scanBinding(row scannable) (*model.GateBinding, error) {
	var b model.GateBinding
	var status string
	err := row.Scan(
		&b.GateID,
		&b.EventID,
		&b.Category,
		&status,
		&b.Confidence,
		&b.SampleCount,
		&b.BetaMean,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if b.Status, err = model.ParseBindingStatus(status); err != nil {
		return nil, err
	}
	return &b, nil
}

func scanBindings(rows *sql.Rows) ([]*model.GateBinding, error) {
	var out []*model.GateBinding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// scanEvent scans a single row into a model.Event.
func scanEvent(row scannable) (*model.Event, error) {
	var e model.Event
	var (
		gateID  sql.NullString
		payload []byte
	)
	err := row.Scan(&e.ID, &e.Topic, &e.EventID, &gateID, &payload, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.GateID = gateID.String
	if len(payload) > 0 {
		e.Payload = json.RawMessage(payload)
	}
	return &e, nil
}

// scanEvents scans multiple rows into a slice of model.Event pointers.
func scanEvents(rows *sql.Rows) ([]*model.Event, error) {
	var events []*model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// floatPtr converts a sql.NullFloat64 to a *float64; null is nil.
func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

// nullFloat converts a *float64 to a sql.NullFloat64.
func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// jsonbBytes converts json.RawMessage to a []byte suitable for JSONB columns.
func jsonbBytes(m json.RawMessage) []byte {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}
