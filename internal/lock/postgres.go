package lock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
)

// Postgres uses session-level advisory locks. Each held lock pins one pooled
// connection until it is released, because advisory locks belong to the
// session that took them.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a locker over db.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// AdvisoryKey maps an event to the bigint key of its advisory lock.
func AdvisoryKey(eventID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(Namespace))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(eventID))
	return int64(h.Sum64())
}

func (p *Postgres) TryLock(ctx context.Context, eventID string) (Unlock, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock connection: %w", err)
	}
	key := AdvisoryKey(eventID)

	var ok bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok); err != nil {
		conn.Close()
		return nil, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Close()
		return nil, held(eventID)
	}

	return func(ctx context.Context) error {
		defer conn.Close()
		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, key); err != nil {
			return fmt.Errorf("advisory unlock: %w", err)
		}
		return nil
	}, nil
}
