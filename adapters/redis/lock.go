package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// lockKey generates the Redis key for a distributed lock
func lockKey(name string) string {
	return fmt.Sprintf("lock:%s", name)
}

// Lua script for token-checked lock release. A lock that expired and was
// reacquired by someone else must not be releasable by the old holder.
var releaseLockScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// AcquireLock attempts a conditional-set-with-TTL acquisition. It returns
// the owner token on success and ok=false when the lock is held.
func (s *Store) AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, lockKey(name), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lock %q: %w", name, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLock deletes the lock only if the caller still owns it.
func (s *Store) ReleaseLock(ctx context.Context, name, token string) (bool, error) {
	result, err := releaseLockScript.Run(ctx, s.client, []string{lockKey(name)}, token).Result()
	if err != nil {
		return false, fmt.Errorf("failed to release lock %q: %w", name, err)
	}
	n, ok := result.(int64)
	return ok && n == 1, nil
}
