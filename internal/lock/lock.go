// Package lock serializes discovery and deduplication jobs per event.
// Two jobs for the same event never run concurrently; a second caller gets
// model.ErrConcurrentModification instead of waiting.
package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/alfredjeanlab/gatekeep/internal/model"
)

// Namespace prefixes every lock key so gate jobs do not collide with other
// users of a shared Postgres or Redis.
const Namespace = "gate-jobs"

// Unlock releases a lock obtained from TryLock. It is safe to call once.
type Unlock func(ctx context.Context) error

// Locker hands out non-blocking per-event locks.
type Locker interface {
	// TryLock acquires the lock for eventID or returns an error wrapping
	// model.ErrConcurrentModification when another holder has it.
	TryLock(ctx context.Context, eventID string) (Unlock, error)
}

func held(eventID string) error {
	return fmt.Errorf("event %s: job already running: %w", eventID, model.ErrConcurrentModification)
}

// Local is an in-process Locker.
type Local struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]bool)}
}

func (l *Local) TryLock(_ context.Context, eventID string) (Unlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[eventID] {
		return nil, held(eventID)
	}
	l.held[eventID] = true

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, eventID)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
