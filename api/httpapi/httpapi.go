// Package httpapi exposes the coordination core over HTTP: the readiness
// actions, the per-room SSE stream, the WebSocket gateway endpoint, and
// a health probe. Room CRUD lives outside the core and is not served
// here.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"campusride/auth"
	"campusride/coordinator"
	"campusride/core"
	"campusride/realtime"
)

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// HeartbeatInterval is the SSE keepalive period (default 15s).
	HeartbeatInterval time.Duration
}

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewMux builds an http.Handler for the coordination core.
// Routes:
//   - POST {prefix}/rooms/{id}/ready/request
//   - POST {prefix}/rooms/{id}/ready/accept
//   - POST {prefix}/rooms/{id}/ready/reject
//   - POST {prefix}/rooms/{id}/enter
//   - POST {prefix}/rooms/{id}/leave
//   - GET  {prefix}/rooms/{id}/events   (SSE)
//   - GET  {prefix}/healthz
//   - WS   {prefix}/ws
func NewMux(coord *coordinator.Coordinator, sse *realtime.SSERegistry, verifier *auth.Verifier, gateway http.Handler, deps []Pinger, opts Options) http.Handler {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	api := &api{coord: coord, sse: sse, verifier: verifier, opts: opts}

	mux := http.NewServeMux()
	mux.HandleFunc(withPrefix(opts.PathPrefix, "/healthz"), func(w http.ResponseWriter, r *http.Request) {
		healthCheck(w, r, deps)
	})
	if gateway != nil {
		mux.Handle(withPrefix(opts.PathPrefix, "/ws"), gateway)
	}
	mux.HandleFunc(withPrefix(opts.PathPrefix, "/rooms/"), api.rooms)

	var handler http.Handler = mux
	if opts.AllowCORSOrigin != "" {
		handler = withCORS(handler, opts.AllowCORSOrigin)
	}
	return handler
}

type api struct {
	coord    *coordinator.Coordinator
	sse      *realtime.SSERegistry
	verifier *auth.Verifier
	opts     Options
}

func (a *api) rooms(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, a.opts.PathPrefix)
	parts := split(path, '/')
	// rooms/{id}/<action...>
	if len(parts) < 3 || parts[0] != "rooms" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
		return
	}
	roomID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_room", "room id must be numeric", nil)
		return
	}

	principal, err := a.verifier.FromAuthHeader(r.Header.Get("Authorization"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token", nil)
		return
	}

	id := core.RoomID(roomID)
	action := strings.Join(parts[2:], "/")
	switch {
	case r.Method == http.MethodGet && action == "events":
		a.stream(w, r, id, principal)
	case r.Method == http.MethodPost && action == "ready/request":
		a.respond(w, a.coord.RequestReady(r.Context(), id, principal))
	case r.Method == http.MethodPost && action == "ready/accept":
		a.respond(w, a.coord.AcceptReady(r.Context(), id, principal))
	case r.Method == http.MethodPost && action == "ready/reject":
		a.respond(w, a.coord.RejectReady(r.Context(), id, principal))
	case r.Method == http.MethodPost && action == "enter":
		a.respond(w, a.coord.EnterRoom(r.Context(), id, principal))
	case r.Method == http.MethodPost && action == "leave":
		a.respond(w, a.coord.LeaveRoom(r.Context(), id, principal))
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
	}
}

func (a *api) respond(w http.ResponseWriter, err error) {
	if err != nil {
		status := statusForKind(core.KindOf(err))
		writeError(w, status, codeForStatus(status), err.Error(), nil)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

// stream holds the HTTP connection open and relays SSE envelopes for the
// room. The emitter self-removes when the client goes away, the registry
// closes it, or the idle janitor sweeps it.
func (a *api) stream(w http.ResponseWriter, r *http.Request, roomID core.RoomID, principal core.Email) {
	member, err := a.coord.IsParticipant(r.Context(), roomID, principal)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	if !member {
		writeError(w, http.StatusForbidden, "forbidden", core.ErrNotParticipant.Error(), nil)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming unsupported", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	emitter := a.sse.Add(roomID)
	defer emitter.Close()

	heartbeat := time.NewTicker(a.opts.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case env := <-emitter.Events():
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.EventName, data); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-emitter.Done():
			return
		case <-r.Context().Done():
			return
		}
	}
}

func statusForKind(kind core.ErrorKind) int {
	switch kind {
	case core.KindAuthentication:
		return http.StatusUnauthorized
	case core.KindAuthorization:
		return http.StatusForbidden
	case core.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusConflict
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	default:
		return "conflict"
	}
}

// Helpers

// healthCheck probes the external stores behind the core.
func healthCheck(w http.ResponseWriter, r *http.Request, deps []Pinger) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]any{"status": "healthy"}
	healthy := true
	for i, dep := range deps {
		if err := dep.Ping(ctx); err != nil {
			healthy = false
			status[fmt.Sprintf("dep_%d", i)] = err.Error()
		}
	}
	if !healthy {
		status["status"] = "unhealthy"
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	writeJSON(w, status)
}

func withPrefix(prefix, path string) string {
	if prefix == "" || prefix == "/" {
		return path
	}
	if prefix[len(prefix)-1] == '/' {
		return prefix[:len(prefix)-1] + path
	}
	return prefix + path
}

func split(p string, sep rune) []string {
	var parts []string
	cur := make([]rune, 0, len(p))
	// trim leading '/'
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	for _, r := range p {
		if r == sep {
			if len(cur) > 0 {
				parts = append(parts, string(cur))
				cur = cur[:0]
			}
			continue
		}
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		parts = append(parts, string(cur))
	}
	return parts
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Code: code, Message: msg, Details: details})
}

// withCORS wraps a handler with a minimal CORS policy.
func withCORS(next http.Handler, origin string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
