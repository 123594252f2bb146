package realtime

import (
	"context"
	"sync"

	"campusride/core"
)

// SendFunc delivers a payload to one connection. A non-nil error marks
// the connection dead; the registry drops it.
type SendFunc func(destination string, payload []byte) error

type connection struct {
	principal core.Email
	send      SendFunc
	subs      map[string]struct{}
}

// TopicRegistry tracks the gateway connections held by this instance and
// their topic subscriptions. It is injected, not global, and holds no
// state that must survive a restart.
type TopicRegistry struct {
	authz *Authorizer

	mu    sync.RWMutex
	conns map[int64]*connection
	next  int64
}

func NewTopicRegistry(authz *Authorizer) *TopicRegistry {
	return &TopicRegistry{authz: authz, conns: make(map[int64]*connection)}
}

// Register adds an authenticated connection and returns its id.
func (r *TopicRegistry) Register(principal core.Email, send SendFunc) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	id := r.next
	r.conns[id] = &connection{principal: principal, send: send, subs: make(map[string]struct{})}
	return id
}

// Deregister removes a connection; sending to it afterwards is a no-op.
func (r *TopicRegistry) Deregister(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

// Subscribe authorizes and records a subscription for the connection.
func (r *TopicRegistry) Subscribe(ctx context.Context, id int64, destination string) error {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return core.ErrUnauthenticated
	}
	if err := r.authz.AuthorizeSubscribe(ctx, conn.principal, destination); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[id]; ok {
		conn.subs[destination] = struct{}{}
	}
	return nil
}

// Unsubscribe drops one subscription; unknown ids are ignored.
func (r *TopicRegistry) Unsubscribe(id int64, destination string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[id]; ok {
		delete(conn.subs, destination)
	}
}

// Broadcast delivers a payload to every local connection subscribed to
// the destination and returns the delivered count. Dead connections are
// pruned as a side effect.
func (r *TopicRegistry) Broadcast(destination string, payload []byte) int {
	return r.deliver(destination, payload, "")
}

// SendToUser delivers to the principal's connections subscribed to the
// destination. Used for personal-queue notices.
func (r *TopicRegistry) SendToUser(email core.Email, destination string, payload []byte) int {
	return r.deliver(destination, payload, email)
}

func (r *TopicRegistry) deliver(destination string, payload []byte, only core.Email) int {
	type target struct {
		id   int64
		send SendFunc
	}
	r.mu.RLock()
	// copy to avoid holding lock during sends
	targets := make([]target, 0, 4)
	for id, conn := range r.conns {
		if only != "" && conn.principal != only {
			continue
		}
		if _, subscribed := conn.subs[destination]; subscribed {
			targets = append(targets, target{id: id, send: conn.send})
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, t := range targets {
		if err := t.send(destination, payload); err != nil {
			r.Deregister(t.id)
			continue
		}
		delivered++
	}
	return delivered
}

// Connections reports the number of live connections on this instance.
func (r *TopicRegistry) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
