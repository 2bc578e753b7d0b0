package lock

import (
	"context"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still carries our token.
// KEYS[1] = lock key
// ARGV[1] = token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// DefaultTTL bounds how long a crashed holder can block an event.
const DefaultTTL = 10 * time.Minute

// Redis is a Locker for deployments running several gatekeep replicas.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedis creates a locker over client. A non-positive ttl uses DefaultTTL.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// Key returns the Redis key guarding eventID.
func Key(eventID string) string {
	return fmt.Sprintf("%s:%s", Namespace, eventID)
}

func (r *Redis) TryLock(ctx context.Context, eventID string) (Unlock, error) {
	token, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("lock token: %w", err)
	}
	key := Key(eventID)

	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock: %w", err)
	}
	if !ok {
		return nil, held(eventID)
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("redis unlock: %w", err)
		}
		return nil
	}, nil
}
