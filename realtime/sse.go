package realtime

import (
	"context"
	"sync"
	"time"

	"campusride/core"
)

// DefaultSSEIdleTimeout expires connections not explicitly closed.
const DefaultSSEIdleTimeout = 30 * time.Minute

// Emitter is one long-lived SSE connection. It self-removes from the
// registry on completion, timeout, or send error; sending to a removed
// emitter is a no-op.
type Emitter struct {
	roomID   core.RoomID
	registry *SSERegistry

	events chan core.SSEEnvelope
	done   chan struct{}
	once   sync.Once

	mu         sync.Mutex
	lastActive time.Time
}

// Events is the stream the HTTP handler writes to the client.
func (e *Emitter) Events() <-chan core.SSEEnvelope { return e.events }

// Done is closed when the emitter leaves the registry.
func (e *Emitter) Done() <-chan struct{} { return e.done }

// RoomID identifies the room this emitter subscribed to.
func (e *Emitter) RoomID() core.RoomID { return e.roomID }

// Close removes the emitter from the registry. Idempotent.
func (e *Emitter) Close() {
	e.once.Do(func() {
		close(e.done)
		if e.registry != nil {
			e.registry.remove(e)
		}
	})
}

func (e *Emitter) push(env core.SSEEnvelope, now time.Time) bool {
	select {
	case e.events <- env:
		e.mu.Lock()
		e.lastActive = now
		e.mu.Unlock()
		return true
	default:
		// client is not draining; treat as a send error
		e.Close()
		return false
	}
}

func (e *Emitter) idleSince(now time.Time, timeout time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return now.Sub(e.lastActive) > timeout
}

// SSERegistry is the per-instance roomId -> emitters map.
type SSERegistry struct {
	idleTimeout time.Duration
	now         func() time.Time

	mu    sync.RWMutex
	rooms map[core.RoomID][]*Emitter
}

func NewSSERegistry() *SSERegistry {
	return &SSERegistry{
		idleTimeout: DefaultSSEIdleTimeout,
		now:         time.Now,
		rooms:       make(map[core.RoomID][]*Emitter),
	}
}

// Add registers a new emitter for the room.
func (r *SSERegistry) Add(roomID core.RoomID) *Emitter {
	e := &Emitter{
		roomID:     roomID,
		registry:   r,
		events:     make(chan core.SSEEnvelope, 32),
		done:       make(chan struct{}),
		lastActive: r.now(),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[roomID] = append(r.rooms[roomID], e)
	return e
}

func (r *SSERegistry) remove(e *Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	emitters := r.rooms[e.roomID]
	for i, candidate := range emitters {
		if candidate == e {
			r.rooms[e.roomID] = append(emitters[:i], emitters[i+1:]...)
			break
		}
	}
	if len(r.rooms[e.roomID]) == 0 {
		delete(r.rooms, e.roomID)
	}
}

// Send fans an envelope out to the room's emitters and returns how many
// received it. Emitters that fail to accept are closed and pruned.
func (r *SSERegistry) Send(roomID core.RoomID, env core.SSEEnvelope) int {
	r.mu.RLock()
	targets := make([]*Emitter, len(r.rooms[roomID]))
	copy(targets, r.rooms[roomID])
	r.mu.RUnlock()

	now := r.now()
	delivered := 0
	for _, e := range targets {
		if e.push(env, now) {
			delivered++
		}
	}
	return delivered
}

// CloseRoom closes every emitter for a deleted room.
func (r *SSERegistry) CloseRoom(roomID core.RoomID) {
	r.mu.RLock()
	targets := make([]*Emitter, len(r.rooms[roomID]))
	copy(targets, r.rooms[roomID])
	r.mu.RUnlock()
	for _, e := range targets {
		e.Close()
	}
}

// Sweep closes emitters past the idle timeout and returns the count.
func (r *SSERegistry) Sweep() int {
	now := r.now()
	r.mu.RLock()
	var stale []*Emitter
	for _, emitters := range r.rooms {
		for _, e := range emitters {
			if e.idleSince(now, r.idleTimeout) {
				stale = append(stale, e)
			}
		}
	}
	r.mu.RUnlock()
	for _, e := range stale {
		e.Close()
	}
	return len(stale)
}

// StartJanitor sweeps idle emitters until the context is done.
func (r *SSERegistry) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Count reports the number of live emitters for a room.
func (r *SSERegistry) Count(roomID core.RoomID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}
