// Package postgres implements store.Store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/alfredjeanlab/gatekeep/internal/model"
	"github.com/alfredjeanlab/gatekeep/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore is the pooled store. Its transactions hand fn a txStore
// running the same queries on a *sql.Tx.
type PostgresStore struct {
	queries
	pool *sql.DB
}

var (
	_ store.Store = (*PostgresStore)(nil)
	_ store.Store = txStore{}
)

// New connects to databaseURL and applies pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Discovery and dedup hold one connection per event being processed.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return NewFromDB(db), nil
}

// NewFromDB wraps an open database without running migrations.
func NewFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{queries: queries{db: db}, pool: db}
}

// DB exposes the pool for advisory locks.
func (s *PostgresStore) DB() *sql.DB { return s.pool }

func (s *PostgresStore) Close() error { return s.pool.Close() }

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "gatekeep_migrations"})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// RunInTransaction commits when fn returns nil and rolls back otherwise.
// Serialization failures and deadlocks surface as
// model.ErrConcurrentModification so callers can retry the whole job;
// unique violations surface as model.ErrIntegrityViolation.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(txStore{queries{db: tx}}); err != nil {
		_ = tx.Rollback()
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// SQLSTATE codes mapped onto model errors.
const (
	codeSerializationFailure pq.ErrorCode = "40001"
	codeDeadlockDetected     pq.ErrorCode = "40P01"
	codeUniqueViolation      pq.ErrorCode = "23505"
	codeForeignKeyViolation  pq.ErrorCode = "23503"
)

func classify(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%w: %w", model.ErrConcurrentModification, err)
	case codeUniqueViolation, codeForeignKeyViolation:
		return fmt.Errorf("%w: %w", model.ErrIntegrityViolation, err)
	}
	return err
}

// txStore runs queries inside a transaction opened by PostgresStore.
type txStore struct {
	queries
}

// RunInTransaction joins the enclosing transaction.
func (t txStore) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(t)
}

// Close is a no-op; the pool belongs to the parent store.
func (txStore) Close() error { return nil }

// queries binds every store read and write to one executor.
type queries struct {
	db executor
}

func (q queries) ListUnlinkedCheckins(ctx context.Context, filter model.CheckinFilter) ([]*model.Checkin, error) {
	return queryListUnlinkedCheckins(ctx, q.db, filter)
}

func (q queries) LinkCheckins(ctx context.Context, gateID string, checkinIDs []string) (int, error) {
	return queryLinkCheckins(ctx, q.db, gateID, checkinIDs)
}

func (q queries) RelinkCheckins(ctx context.Context, fromGateIDs []string, toGateID string) (int, error) {
	return queryRelinkCheckins(ctx, q.db, fromGateIDs, toGateID)
}

func (q queries) CountCheckinsByCategory(ctx context.Context, gateID string) (map[string]int, error) {
	return queryCountCheckinsByCategory(ctx, q.db, gateID)
}

func (q queries) CountCheckinsForGates(ctx context.Context, gateIDs []string) (int, error) {
	return queryCountCheckinsForGates(ctx, q.db, gateIDs)
}

func (q queries) CountOrphanedCheckins(ctx context.Context, eventID string) (int, error) {
	return queryCountOrphanedCheckins(ctx, q.db, eventID)
}

func (q queries) ListActiveEvents(ctx context.Context) ([]string, error) {
	return queryListActiveEvents(ctx, q.db)
}

func (q queries) CreateGate(ctx context.Context, gate *model.Gate) error {
	return queryCreateGate(ctx, q.db, gate)
}

func (q queries) GetGate(ctx context.Context, id string) (*model.Gate, error) {
	return queryGetGate(ctx, q.db, id)
}

func (q queries) ListGates(ctx context.Context, eventID string) ([]*model.Gate, error) {
	return queryListGates(ctx, q.db, eventID)
}

func (q queries) UpdateGate(ctx context.Context, gate *model.Gate) error {
	return queryUpdateGate(ctx, q.db, gate)
}

func (q queries) DeleteGate(ctx context.Context, id string) error {
	return queryDeleteGate(ctx, q.db, id)
}

func (q queries) UpsertBinding(ctx context.Context, binding *model.GateBinding) error {
	return queryUpsertBinding(ctx, q.db, binding)
}

func (q queries) GetBinding(ctx context.Context, gateID, category string) (*model.GateBinding, error) {
	return queryGetBinding(ctx, q.db, gateID, category)
}

func (q queries) ListBindings(ctx context.Context, eventID, gateID string) ([]*model.GateBinding, error) {
	return queryListBindings(ctx, q.db, eventID, gateID)
}

func (q queries) DeleteBindings(ctx context.Context, gateID string) (int, error) {
	return queryDeleteBindings(ctx, q.db, gateID)
}

func (q queries) RecordEvent(ctx context.Context, event *model.Event) error {
	return queryRecordEvent(ctx, q.db, event)
}

func (q queries) ListEvents(ctx context.Context, eventID string, afterID int64, limit int) ([]*model.Event, error) {
	return queryListEvents(ctx, q.db, eventID, afterID, limit)
}
