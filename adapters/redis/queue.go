package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"campusride/core"

	"github.com/redis/go-redis/v9"
)

const queueKey = "notify:queue"

// markerKey generates the Redis key for a processing marker
func markerKey(businessKey string) string {
	return fmt.Sprintf("notify:marker:%s", businessKey)
}

// Lua script for atomic dedup-gated enqueue: create the processing marker
// and push the event in one server-side step, so no race exists between
// the existence check and the push.
var enqueueScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 1 then
		return 0
	end
	redis.call('SET', KEYS[1], '1', 'PX', ARGV[2])
	redis.call('RPUSH', KEYS[2], ARGV[1])
	return 1
`)

// EnqueueNotification pushes the event onto the shared FIFO unless a
// processing marker for its business key already exists. Returns whether
// the event was enqueued. A crashed consumer lets the marker expire,
// after which the same trigger may be re-enqueued; that bounded
// duplicate-delivery window is accepted.
func (s *Store) EnqueueNotification(ctx context.Context, ev core.NotificationEvent) (bool, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return false, fmt.Errorf("failed to serialize notification event: %w", err)
	}
	result, err := enqueueScript.Run(ctx, s.client,
		[]string{markerKey(ev.BusinessKey), queueKey},
		data, ProcessingMarkerTTL.Milliseconds()).Result()
	if err != nil {
		return false, fmt.Errorf("failed to enqueue notification: %w", err)
	}
	n, ok := result.(int64)
	return ok && n == 1, nil
}

// DequeueNotification blocking-pops one event from the shared FIFO. The
// pop is destructive, so at most one instance ever receives a given item.
// Returns ok=false when the timeout elapses with an empty queue.
func (s *Store) DequeueNotification(ctx context.Context, timeout time.Duration) (core.NotificationEvent, bool, error) {
	var ev core.NotificationEvent
	vals, err := s.client.BLPop(ctx, timeout, queueKey).Result()
	if err == redis.Nil {
		return ev, false, nil
	}
	if err != nil {
		return ev, false, fmt.Errorf("failed to pop notification: %w", err)
	}
	// BLPOP returns [key, value]
	if len(vals) != 2 {
		return ev, false, fmt.Errorf("unexpected BLPOP reply length %d", len(vals))
	}
	if err := json.Unmarshal([]byte(vals[1]), &ev); err != nil {
		return ev, false, fmt.Errorf("failed to decode notification event: %w", err)
	}
	return ev, true, nil
}

// MarkEventCompleted deletes the processing marker promptly so a new
// window can reuse the business key sooner than the marker TTL. Failure
// to call it only means the marker expires naturally.
func (s *Store) MarkEventCompleted(ctx context.Context, businessKey string) error {
	return s.client.Del(ctx, markerKey(businessKey)).Err()
}

// QueueLength reports the number of pending notification events.
func (s *Store) QueueLength(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, queueKey).Result()
}
