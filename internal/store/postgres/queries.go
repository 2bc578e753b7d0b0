package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/gatekeep/internal/model"
)

const checkinColumns = `id, event_id, wristband_id, category, latitude, longitude,
	accuracy_m, gate_id, timestamp`

const gateColumns = `id, event_id, name, kind, latitude, longitude, created_at, updated_at`

const bindingColumns = `gate_id, event_id, category, status, confidence, sample_count,
	beta_mean, updated_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// notFound maps sql.ErrNoRows onto model.ErrNotFound.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return err
}

func queryListUnlinkedCheckins(ctx context.Context, db executor, filter model.CheckinFilter) ([]*model.Checkin, error) {
	var (
		whereClauses = []string{"event_id = $1", "gate_id IS NULL"}
		args         = []any{filter.EventID}
		argIdx       = 1
	)

	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	if !filter.Since.IsZero() {
		whereClauses = append(whereClauses, "timestamp >= "+nextArg())
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		whereClauses = append(whereClauses, "timestamp < "+nextArg())
		args = append(args, filter.Until)
	}

	q := "SELECT " + checkinColumns + " FROM checkin_logs WHERE " +
		strings.Join(whereClauses, " AND ") + " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		q += " LIMIT " + nextArg()
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list unlinked checkins: %w", err)
	}
	defer rows.Close()
	return scanCheckins(rows)
}

func queryLinkCheckins(ctx context.Context, db executor, gateID string, checkinIDs []string) (int, error) {
	if len(checkinIDs) == 0 {
		return 0, nil
	}
	res, err := db.ExecContext(ctx, `
		UPDATE checkin_logs SET gate_id = $1
		WHERE id = ANY($2) AND gate_id IS NULL`,
		gateID, pq.Array(checkinIDs),
	)
	if err != nil {
		return 0, fmt.Errorf("link checkins: %w", err)
	}
	return rowsAffected(res)
}

func queryRelinkCheckins(ctx context.Context, db executor, fromGateIDs []string, toGateID string) (int, error) {
	if len(fromGateIDs) == 0 {
		return 0, nil
	}
	res, err := db.ExecContext(ctx, `
		UPDATE checkin_logs SET gate_id = $1
		WHERE gate_id = ANY($2)`,
		toGateID, pq.Array(fromGateIDs),
	)
	if err != nil {
		return 0, fmt.Errorf("relink checkins: %w", err)
	}
	return rowsAffected(res)
}

func queryCountCheckinsByCategory(ctx context.Context, db executor, gateID string) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT category, COUNT(*)
		FROM checkin_logs
		WHERE gate_id = $1
		GROUP BY category`,
		gateID,
	)
	if err != nil {
		return nil, fmt.Errorf("count checkins by category: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			category string
			n        int
		)
		if err := rows.Scan(&category, &n); err != nil {
			return nil, fmt.Errorf("scan category count: %w", err)
		}
		counts[category] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

func queryCountCheckinsForGates(ctx context.Context, db executor, gateIDs []string) (int, error) {
	if len(gateIDs) == 0 {
		return 0, nil
	}
	var n int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM checkin_logs WHERE gate_id = ANY($1)`,
		pq.Array(gateIDs),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count checkins for gates: %w", err)
	}
	return n, nil
}

func queryCountOrphanedCheckins(ctx context.Context, db executor, eventID string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM checkin_logs c
		WHERE c.event_id = $1
		  AND c.gate_id IS NOT NULL
		  AND NOT EXISTS (SELECT 1 FROM gates g WHERE g.id = c.gate_id)`,
		eventID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count orphaned checkins: %w", err)
	}
	return n, nil
}

func queryListActiveEvents(ctx context.Context, db executor) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT event_id
		FROM checkin_logs
		WHERE gate_id IS NULL
		ORDER BY event_id`)
	if err != nil {
		return nil, fmt.Errorf("list active events: %w", err)
	}
	defer rows.Close()

	var events []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		events = append(events, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func queryCreateGate(ctx context.Context, db executor, g *model.Gate) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO gates (`+gateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		g.ID,
		g.EventID,
		g.Name,
		string(g.Kind),
		nullFloat(g.Latitude),
		nullFloat(g.Longitude),
		g.CreatedAt,
		g.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create gate %s: %w", g.ID, err)
	}
	return nil
}

func queryGetGate(ctx context.Context, db executor, id string) (*model.Gate, error) {
	row := db.QueryRowContext(ctx, `SELECT `+gateColumns+` FROM gates WHERE id = $1`, id)
	g, err := scanGate(row)
	if err != nil {
		return nil, notFound(err, "gate "+id)
	}
	return g, nil
}

func queryListGates(ctx context.Context, db executor, eventID string) ([]*model.Gate, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+gateColumns+`
		FROM gates
		WHERE event_id = $1
		ORDER BY created_at, id`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list gates: %w", err)
	}
	defer rows.Close()
	return scanGates(rows)
}

func queryUpdateGate(ctx context.Context, db executor, g *model.Gate) error {
	err := db.QueryRowContext(ctx, `
		UPDATE gates SET
			name = $2,
			latitude = $3,
			longitude = $4,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		g.ID,
		g.Name,
		nullFloat(g.Latitude),
		nullFloat(g.Longitude),
	).Scan(&g.UpdatedAt)
	return notFound(err, "gate "+g.ID)
}

func queryDeleteGate(ctx context.Context, db executor, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM gates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete gate %s: %w", id, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("gate %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func queryUpsertBinding(ctx context.Context, db executor, b *model.GateBinding) error {
	return db.QueryRowContext(ctx, `
		INSERT INTO gate_bindings (
			gate_id, event_id, category, status, confidence, sample_count, beta_mean
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (gate_id, category) DO UPDATE SET
			status = EXCLUDED.status,
			confidence = EXCLUDED.confidence,
			sample_count = GREATEST(gate_bindings.sample_count, EXCLUDED.sample_count),
			beta_mean = EXCLUDED.beta_mean,
			updated_at = NOW()
		RETURNING sample_count, updated_at`,
		b.GateID,
		b.EventID,
		b.Category,
		b.Status.String(),
		b.Confidence,
		b.SampleCount,
		b.BetaMean,
	).Scan(&b.SampleCount, &b.UpdatedAt)
}

func queryGetBinding(ctx context.Context, db executor, gateID, category string) (*model.GateBinding, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+bindingColumns+`
		FROM gate_bindings
		WHERE gate_id = $1 AND category = $2`,
		gateID, category,
	)
	b, err := scanBinding(row)
	if err != nil {
		return nil, notFound(err, "binding "+gateID+"/"+category)
	}
	return b, nil
}

func queryListBindings(ctx context.Context, db executor, eventID, gateID string) ([]*model.GateBinding, error) {
	q := `SELECT ` + bindingColumns + ` FROM gate_bindings WHERE event_id = $1`
	args := []any{eventID}
	if gateID != "" {
		q += ` AND gate_id = $2`
		args = append(args, gateID)
	}
	q += ` ORDER BY gate_id, category`

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	defer rows.Close()
	return scanBindings(rows)
}

func queryDeleteBindings(ctx context.Context, db executor, gateID string) (int, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM gate_bindings WHERE gate_id = $1`, gateID)
	if err != nil {
		return 0, fmt.Errorf("delete bindings of %s: %w", gateID, err)
	}
	return rowsAffected(res)
}

func queryRecordEvent(ctx context.Context, db executor, e *model.Event) error {
	return db.QueryRowContext(ctx, `
		INSERT INTO gate_events (topic, event_id, gate_id, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		e.Topic, e.EventID, nullString(e.GateID), jsonbBytes(e.Payload),
	).Scan(&e.ID, &e.CreatedAt)
}

func queryListEvents(ctx context.Context, db executor, eventID string, afterID int64, limit int) ([]*model.Event, error) {
	q := `
		SELECT id, topic, event_id, gate_id, payload, created_at
		FROM gate_events
		WHERE event_id = $1 AND id > $2
		ORDER BY id ASC`
	args := []any{eventID, afterID}
	if limit > 0 {
		q += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func rowsAffected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}
