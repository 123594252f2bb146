package coordinator

import (
	"sync"
	"time"

	"campusride/core"
)

// ReconcileTimers is a cancellable one-shot timer registry keyed by room
// id. Scheduling a room that already has a pending timer replaces it, so
// a room never accumulates more than one reconciliation.
type ReconcileTimers struct {
	mu     sync.Mutex
	timers map[core.RoomID]*time.Timer
}

func NewReconcileTimers() *ReconcileTimers {
	return &ReconcileTimers{timers: make(map[core.RoomID]*time.Timer)}
}

// Schedule arms a timer that runs fn after d unless cancelled first.
func (t *ReconcileTimers) Schedule(roomID core.RoomID, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.timers[roomID]; ok {
		prev.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		// A fired callback may race a Schedule that already replaced this
		// entry; only remove the entry if it is still ours.
		if t.timers[roomID] == timer {
			delete(t.timers, roomID)
		}
		t.mu.Unlock()
		fn()
	})
	t.timers[roomID] = timer
}

// Cancel stops the pending timer for a room, reporting whether one was
// armed. Used when a room is deleted before its timeout fires.
func (t *ReconcileTimers) Cancel(roomID core.RoomID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	timer, ok := t.timers[roomID]
	if !ok {
		return false
	}
	delete(t.timers, roomID)
	return timer.Stop()
}

// Pending reports the number of armed timers.
func (t *ReconcileTimers) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}
