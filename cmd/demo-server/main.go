// Demo server: runs the whole coordination stack against an embedded
// Redis and an in-memory relational store, so the readiness flow, chat
// fan-out, and push pipeline can be exercised with curl and a WebSocket
// client. Not for production.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	mem "campusride/adapters/memory"
	redisAdapter "campusride/adapters/redis"
	ws "campusride/adapters/websocket"
	"campusride/api/httpapi"
	"campusride/auth"
	"campusride/bus"
	"campusride/coordinator"
	"campusride/core"
	"campusride/notify"
	"campusride/realtime"
)

// logProvider stands in for the push gateway: it logs each multicast
// and reports every token delivered.
type logProvider struct {
	logger *slog.Logger
}

func (p logProvider) SendMulticast(_ context.Context, tokens []string, msg notify.PushMessage) (notify.BatchResult, error) {
	p.logger.Info("push multicast", "recipients", len(tokens), "title", msg.Title, "body", msg.Body)
	result := notify.BatchResult{Responses: make([]notify.SendResponse, 0, len(tokens))}
	for _, t := range tokens {
		result.Responses = append(result.Responses, notify.SendResponse{Token: t, Code: notify.SendOK})
	}
	return result, nil
}

func main() {
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger := slog.New(textHandler)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	embedded, err := miniredis.Run()
	if err != nil {
		slog.Error("failed to start embedded redis", "error", err)
		os.Exit(1)
	}
	defer embedded.Close()

	client := goredis.NewClient(&goredis.Options{Addr: embedded.Addr()})
	rds := redisAdapter.NewWithClient(client)

	store := mem.New()
	seed(ctx, store)

	eventBus := bus.New(client, logger)
	svc := notify.NewService(rds, rds)
	coord := coordinator.New(store, rds, rds, eventBus, coordinator.NewReconcileTimers(),
		coordinator.WithNotifier(svc),
		coordinator.WithLogger(logger))

	topics := realtime.NewTopicRegistry(realtime.NewAuthorizer(coord))
	sse := realtime.NewSSERegistry()
	fanout := &realtime.Fanout{Topics: topics, SSE: sse, Logger: logger}
	if err := fanout.Bind(eventBus); err != nil {
		slog.Error("failed to bind event routes", "error", err)
		os.Exit(1)
	}
	if err := eventBus.Start(ctx); err != nil {
		slog.Error("failed to start event bus", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	optimizer := notify.NewBatchOptimizer()
	dispatcher := notify.NewDispatcher(logProvider{logger: logger}, store, optimizer,
		notify.WithDispatcherLogger(logger))
	worker := notify.NewWorker(rds, dispatcher, notify.Elector{ServerCount: 1},
		notify.WithWorkerLogger(logger))
	go worker.Run(ctx)
	sse.StartJanitor(ctx, time.Minute)

	verifier := auth.NewVerifier("demo-secret")
	ingress := realtime.NewIngress(eventBus, store, svc, logger)
	gateway := ws.Handler(topics, verifier, ingress, logger)
	handler := httpapi.NewMux(coord, sse, verifier, gateway, []httpapi.Pinger{rds}, httpapi.Options{})

	for _, email := range []core.Email{"host@campus.edu", "rider@campus.edu"} {
		token, _ := verifier.Sign(email, 24*time.Hour)
		slog.Info("demo bearer token", "email", email, "token", token)
	}

	slog.Info("starting demo server on :8080", "room_id", 1)
	if err := http.ListenAndServe(":8080", handler); err != nil {
		slog.Error("demo server crashed", "error", err)
		os.Exit(1)
	}
}

// seed creates one waiting room with a host and a rider.
func seed(ctx context.Context, store *mem.Store) {
	_ = store.SaveMember(ctx, core.Member{ID: 10, Email: "host@campus.edu", Nickname: "Host"})
	_ = store.SaveMember(ctx, core.Member{ID: 11, Email: "rider@campus.edu", Nickname: "Rider"})
	_ = store.SaveRoom(ctx, core.Room{
		ID:        1,
		Title:     "Library to North Gate",
		Capacity:  4,
		Status:    core.RoomWaiting,
		HostID:    10,
		CreatedAt: time.Now(),
	})
	_ = store.SaveParticipant(ctx, core.Participant{RoomID: 1, MemberID: 10, Email: "host@campus.edu", Nickname: "Host", IsHost: true})
	_ = store.SaveParticipant(ctx, core.Participant{RoomID: 1, MemberID: 11, Email: "rider@campus.edu", Nickname: "Rider"})
	_ = store.SaveToken(ctx, 11, "demo-token-rider-0123456789abcdef0123456789abcdef")
}
