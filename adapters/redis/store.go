package redis

import (
	"context"
	"fmt"
	"time"

	"campusride/core"

	"github.com/redis/go-redis/v9"
)

// TTLs for the ephemeral coordination entities. None of them is required
// for long-term correctness; each bounds a short coordination window.
const (
	ReadySnapshotTTL    = 15 * time.Second
	ActiveStatusTTL     = 5 * time.Minute
	ProcessingMarkerTTL = 60 * time.Second
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string        `json:"addr" env:"CAMPUSRIDE_REDIS_ADDR"`
	Password     string        `json:"password" env:"CAMPUSRIDE_REDIS_PASSWORD"`
	DB           int           `json:"db" env:"CAMPUSRIDE_REDIS_DB"`
	PoolSize     int           `json:"pool_size" env:"CAMPUSRIDE_REDIS_POOL_SIZE"`
	MinIdleConns int           `json:"min_idle_conns" env:"CAMPUSRIDE_REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `json:"dial_timeout" env:"CAMPUSRIDE_REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"CAMPUSRIDE_REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" env:"CAMPUSRIDE_REDIS_WRITE_TIMEOUT"`
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Store is the shared ephemeral coordination state: readiness snapshots,
// active-status flags, processing markers, distributed locks, and the
// notification FIFO. It also fronts the pub/sub primitive for the bus.
// Data structure:
// - room:{room_id}:readysnapshot -> int (participant count at request time, TTL 15s)
// - room:{room_id}:active:{member_id} -> "1" (member is viewing the room, TTL 5m)
// - notify:marker:{business_key} -> "1" (enqueue gate, TTL 60s)
// - notify:queue -> list of serialized NotificationEvent
// - lock:{key} -> owner token (TTL per acquisition)
type Store struct {
	client *redis.Client
}

// New creates a new Redis-backed store with the provided configuration
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client}, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying client for the pub/sub bus, which shares
// this connection pool.
func (s *Store) Client() *redis.Client {
	return s.client
}

// readySnapshotKey generates the Redis key for a room's ready snapshot
func readySnapshotKey(roomID core.RoomID) string {
	return fmt.Sprintf("room:%d:readysnapshot", roomID)
}

// activeStatusKey generates the Redis key for a member's active flag
func activeStatusKey(roomID core.RoomID, memberID core.MemberID) string {
	return fmt.Sprintf("room:%d:active:%d", roomID, memberID)
}

// PutReadySnapshot records the participant count witnessed at
// ready-request time. The TTL makes the snapshot a point-in-time witness:
// if it vanishes before reconciliation, the coordinator treats the quorum
// as unconfirmable and reverts.
func (s *Store) PutReadySnapshot(ctx context.Context, roomID core.RoomID, count int) error {
	if err := s.client.Set(ctx, readySnapshotKey(roomID), count, ReadySnapshotTTL).Err(); err != nil {
		return fmt.Errorf("failed to write ready snapshot: %w", err)
	}
	return nil
}

// ReadySnapshot returns the recorded count and whether the snapshot still
// exists. Absence is a valid, handled state.
func (s *Store) ReadySnapshot(ctx context.Context, roomID core.RoomID) (int, bool, error) {
	count, err := s.client.Get(ctx, readySnapshotKey(roomID)).Int()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read ready snapshot: %w", err)
	}
	return count, true, nil
}

// DeleteReadySnapshot removes the snapshot key. Safe to call when the key
// has already expired.
func (s *Store) DeleteReadySnapshot(ctx context.Context, roomID core.RoomID) error {
	return s.client.Del(ctx, readySnapshotKey(roomID)).Err()
}

// MarkActive flags a member as currently viewing a room. Refreshing the
// flag extends the window.
func (s *Store) MarkActive(ctx context.Context, roomID core.RoomID, memberID core.MemberID) error {
	return s.client.Set(ctx, activeStatusKey(roomID, memberID), "1", ActiveStatusTTL).Err()
}

// ClearActive removes the member's active flag immediately.
func (s *Store) ClearActive(ctx context.Context, roomID core.RoomID, memberID core.MemberID) error {
	return s.client.Del(ctx, activeStatusKey(roomID, memberID)).Err()
}

// IsActive reports whether a member is currently viewing a room. Used to
// suppress pushes for members already looking at the screen the push
// would open.
func (s *Store) IsActive(ctx context.Context, roomID core.RoomID, memberID core.MemberID) (bool, error) {
	n, err := s.client.Exists(ctx, activeStatusKey(roomID, memberID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check active status: %w", err)
	}
	return n == 1, nil
}
