package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"campusride/adapters/jsonfile"
	mem "campusride/adapters/memory"
	redisAdapter "campusride/adapters/redis"
	sqlxAdapter "campusride/adapters/sqlx"
	"campusride/api/httpapi"
	"campusride/auth"
	"campusride/bus"
	"campusride/config"
	"campusride/coordinator"
	"campusride/core"
	"campusride/integrations/push"
	"campusride/notify"
	"campusride/realtime"

	ws "campusride/adapters/websocket"
)

// Storage is the relational-store surface the server needs.
type Storage interface {
	coordinator.RoomStore
	notify.TokenStore
	MemberByEmail(ctx context.Context, email core.Email) (core.Member, error)
	SaveToken(ctx context.Context, id core.MemberID, token string) error
}

// App aggregates the assembled server components.
type App struct {
	Config      *config.Config
	Logger      *slog.Logger
	Redis       *redisAdapter.Store
	Bus         *bus.Bus
	Coordinator *coordinator.Coordinator
	Fanout      *realtime.Fanout
	SSE         *realtime.SSERegistry
	Optimizer   *notify.BatchOptimizer
	Worker      *notify.Worker
	Handler     http.Handler
	Server      *http.Server
}

func provideConfig(ctx context.Context) (*config.Config, error) {
	return config.Load()
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg)
}

func provideRedis(cfg *config.Config) (*redisAdapter.Store, error) {
	return redisAdapter.New(cfg.Storage.Redis)
}

func provideStorage(ctx context.Context, cfg *config.Config) (Storage, error) {
	return setupStorage(ctx, cfg)
}

func provideBus(rds *redisAdapter.Store, logger *slog.Logger) *bus.Bus {
	return bus.New(rds.Client(), logger)
}

func provideVerifier(cfg *config.Config) *auth.Verifier {
	return auth.NewVerifier(cfg.Auth.JWTSecret)
}

func provideNotifyService(rds *redisAdapter.Store) *notify.Service {
	return notify.NewService(rds, rds)
}

func provideCoordinator(storage Storage, rds *redisAdapter.Store, b *bus.Bus, svc *notify.Service, logger *slog.Logger) *coordinator.Coordinator {
	return coordinator.New(storage, rds, rds, b, coordinator.NewReconcileTimers(),
		coordinator.WithNotifier(svc),
		coordinator.WithLogger(logger))
}

func provideTopics(coord *coordinator.Coordinator) *realtime.TopicRegistry {
	return realtime.NewTopicRegistry(realtime.NewAuthorizer(coord))
}

func provideSSE() *realtime.SSERegistry {
	return realtime.NewSSERegistry()
}

// provideFanout installs the full routing table before the bus starts.
func provideFanout(topics *realtime.TopicRegistry, sse *realtime.SSERegistry, b *bus.Bus, logger *slog.Logger) (*realtime.Fanout, error) {
	f := &realtime.Fanout{Topics: topics, SSE: sse, Logger: logger}
	if err := f.Bind(b); err != nil {
		return nil, fmt.Errorf("failed to bind event routes: %w", err)
	}
	return f, nil
}

// Gateway is the WebSocket endpoint handler, distinct from the API mux
// so the injector can tell the two handlers apart.
type Gateway http.Handler

func provideGateway(topics *realtime.TopicRegistry, verifier *auth.Verifier, b *bus.Bus, storage Storage, svc *notify.Service, logger *slog.Logger) Gateway {
	ingress := realtime.NewIngress(b, storage, svc, logger)
	return ws.Handler(topics, verifier, ingress, logger)
}

func provideOptimizer() *notify.BatchOptimizer {
	return notify.NewBatchOptimizer()
}

func provideWorker(cfg *config.Config, rds *redisAdapter.Store, storage Storage, optimizer *notify.BatchOptimizer, logger *slog.Logger) *notify.Worker {
	provider := push.New(cfg.Push.Endpoint, cfg.Push.APIKey)
	dispatcher := notify.NewDispatcher(provider, storage, optimizer,
		notify.WithRetryPolicy(cfg.Push.MaxAttempts, cfg.Push.RetryBase),
		notify.WithDispatcherLogger(logger))
	elector := notify.Elector{InstanceID: cfg.Push.InstanceID, ServerCount: cfg.Push.ServerCount}
	return notify.NewWorker(rds, dispatcher, elector,
		notify.WithPollTimeout(cfg.Push.PollTimeout),
		notify.WithWorkerLogger(logger))
}

func provideHandler(coord *coordinator.Coordinator, sse *realtime.SSERegistry, verifier *auth.Verifier, gateway Gateway, rds *redisAdapter.Store, storage Storage, cfg *config.Config) http.Handler {
	deps := []httpapi.Pinger{rds}
	if p, ok := storage.(httpapi.Pinger); ok {
		deps = append(deps, p)
	}
	return httpapi.NewMux(coord, sse, verifier, gateway, deps, httpapi.Options{
		PathPrefix:      cfg.Server.PathPrefix,
		AllowCORSOrigin: cfg.Server.CORSOrigin,
	})
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// convertAttributes converts map[string]string to []slog.Attr.
func convertAttributes(attrs map[string]string) []slog.Attr {
	var result []slog.Attr
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}

// setupStorage creates the relational adapter selected by configuration.
func setupStorage(ctx context.Context, cfg *config.Config) (Storage, error) {
	switch cfg.Storage.Adapter {
	case "memory":
		return mem.New(), nil
	case "jsonfile":
		return jsonfile.New(cfg.Storage.JSONFilePath)
	case "sql":
		return sqlxAdapter.New(cfg.Storage.SQL)
	default:
		return nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}
