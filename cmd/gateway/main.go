// Command gateway starts the multi-tenant Ollama-protocol inference
// gateway: backend registry + health scheduler, dispatcher, HTTP API, and
// telemetry sink, wired together the way the teacher's llama-swap.go wires
// its ProxyManager and signal-driven shutdown.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Yurzs/ollama-x/internal/config"
	"github.com/Yurzs/ollama-x/internal/dispatch"
	"github.com/Yurzs/ollama-x/internal/gwevent"
	"github.com/Yurzs/ollama-x/internal/gwlog"
	"github.com/Yurzs/ollama-x/internal/httpapi"
	"github.com/Yurzs/ollama-x/internal/identity"
	"github.com/Yurzs/ollama-x/internal/observe"
	"github.com/Yurzs/ollama-x/internal/proxy"
	"github.com/Yurzs/ollama-x/internal/registry"
	"github.com/Yurzs/ollama-x/internal/store"
)

func main() {
	cfg := config.Load()
	log := gwlog.Stdout("mux", gwlog.ParseLevel(cfg.LogLevel))

	if mode := os.Getenv("GIN_MODE"); mode != "" {
		gin.SetMode(mode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	tp, err := newTracerProvider()
	if err != nil {
		log.Warn("tracing disabled: %v", err)
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(ctx)
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	userRepo, projectRepo, backendRepo, sessionRepo, modelRepo, closeStore, err := openRepositories(ctx, cfg)
	if err != nil {
		log.Error("storage init: %v", err)
		os.Exit(1)
	}
	defer closeStore()

	policy := config.NewPolicyStore()
	if cfg.PolicyFile != "" {
		watcher, err := config.WatchPolicy(cfg.PolicyFile, policy, func(err error) {
			log.Error("policy reload: %v", err)
		})
		if err != nil {
			log.Warn("policy watcher disabled: %v", err)
		} else {
			defer watcher.Close()
		}
	}

	auth := &identity.Auth{
		Users:            userRepo,
		Tokens:           identity.NewTokenIssuer(cfg.JWTSecretKey, cfg.JWTTokenExpireMinutes),
		AnonymousAllowed: cfg.AnonymousAllowed,
	}
	projects := &identity.Projects{Repo: projectRepo, Users: userRepo}

	reg := &registry.Registry{Repo: backendRepo}
	schedulerLog := gwlog.Stdout("scheduler", gwlog.ParseLevel(cfg.LogLevel))
	scheduler := registry.NewScheduler(reg, modelRepo, time.Duration(cfg.ServerCheckInterval)*time.Second, schedulerLog)
	if err := scheduler.Start(ctx); err != nil {
		log.Error("scheduler start: %v", err)
		os.Exit(1)
	}

	admission := dispatch.AdmissionPolicy{
		EnforceModel: func() string {
			if p := policy.Get().EnforceModel; p != "" {
				return p
			}
			return cfg.EnforceModel
		},
		AnonymousModel: func() string { return cfg.AnonymousModel },
	}
	dispatcher := dispatch.NewDispatcher(reg, dispatch.NewQueuePool(), admission)

	sinkBus := gwevent.NewDispatcher()
	sink := &observe.Sink{Bus: sinkBus, Log: gwlog.Stdout("observe", gwlog.ParseLevel(cfg.LogLevel))}

	backendLog := gwlog.Stdout("backend", gwlog.ParseLevel(cfg.LogLevel))

	srv := &httpapi.Server{
		Config:   cfg,
		Policy:   policy,
		Auth:     auth,
		Users:    userRepo,
		Projects: projects,
		Sessions: sessionRepo,
		Registry: reg,
		Models:   modelRepo,
		Dispatch: dispatcher,
		Proxy:    proxy.NewClient(),
		Sink:     sink,
		Log:      backendLog,
	}
	if tp != nil {
		srv.Tracer = tp.Tracer("ollama-gateway")
	}

	addr := getenv("GATEWAY_LISTEN", ":8080")
	httpSrv := &http.Server{Addr: addr, Handler: srv.New()}

	go func() {
		log.Info("ollama-gateway listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error: %v", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown: %v", err)
	}
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

// newTracerProvider builds the stdout-exporting tracer provider this
// gateway uses in place of the teacher's OTLP-over-HTTP exporter, since
// there is no collector endpoint configured anywhere in spec.md's env-var
// table (DESIGN.md "Dropped teacher dependencies").
func newTracerProvider() (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return tp, nil
}

// openRepositories connects to Mongo at MONGO_URI and falls back to the
// in-memory store when MONGO_URI is set to the empty string, so the gateway
// can run standalone (tests, local dev) without a database.
func openRepositories(ctx context.Context, cfg *config.Config) (
	identity.UserRepository, identity.ProjectRepository, registry.Repository, identity.SessionRepository, registry.ModelRepository,
	func(), error,
) {
	if cfg.MongoURI == "" {
		return store.NewMemoryRepository[identity.User](),
			store.NewMemoryRepository[identity.Project](),
			store.NewMemoryRepository[registry.Backend](),
			store.NewMemoryRepository[identity.Session](),
			store.NewMemoryRepository[registry.OllamaModel](),
			func() {}, nil
	}

	client, err := store.Connect(ctx, cfg.MongoURI, "ollama_gateway")
	if err != nil {
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("connect mongo: %w", err)
	}

	users := store.Collection[identity.User](client, "users")
	projectsColl := store.Collection[identity.Project](client, "projects")
	backends := store.Collection[registry.Backend](client, "api_server")
	sessions := store.Collection[identity.Session](client, "sessions")
	models := store.Collection[registry.OllamaModel](client, "models")

	if err := users.CreateIndexes(ctx, identity.UserIndexes()); err != nil {
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("user indexes: %w", err)
	}
	if err := projectsColl.CreateIndexes(ctx, identity.ProjectIndexes()); err != nil {
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("project indexes: %w", err)
	}
	if err := backends.CreateIndexes(ctx, registry.Indexes()); err != nil {
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("backend indexes: %w", err)
	}
	if err := sessions.CreateIndexes(ctx, identity.SessionIndexes()); err != nil {
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("session indexes: %w", err)
	}
	if err := models.CreateIndexes(ctx, registry.ModelIndexes()); err != nil {
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("model indexes: %w", err)
	}

	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(ctx)
	}
	return users, projectsColl, backends, sessions, models, closeFn, nil
}
