// Package app assembles the platform's services and HTTP router.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/unionlegal/platform/internal/auth"
	"github.com/unionlegal/platform/internal/authorization"
	caseapi "github.com/unionlegal/platform/internal/case/api"
	casedomain "github.com/unionlegal/platform/internal/case/domain"
	caseinfra "github.com/unionlegal/platform/internal/case/infrastructure"
	caseservice "github.com/unionlegal/platform/internal/case/service"
	"github.com/unionlegal/platform/internal/directory"
	"github.com/unionlegal/platform/internal/membership"
	"github.com/unionlegal/platform/internal/notification"
	"github.com/unionlegal/platform/internal/privacy"
	sharedauth "github.com/unionlegal/platform/internal/shared/auth"
	"github.com/unionlegal/platform/internal/shared/cache"
	"github.com/unionlegal/platform/internal/shared/config"
	"github.com/unionlegal/platform/internal/shared/database"
	"github.com/unionlegal/platform/internal/shared/events"
	"github.com/unionlegal/platform/internal/shared/logger"
	"github.com/unionlegal/platform/internal/shared/metrics"
	"github.com/unionlegal/platform/internal/shared/middleware"
)

const maxBodyBytes = 1 << 20

// Stores groups the persistence backends the services run on.
type Stores struct {
	Directory     directory.Store
	Memberships   membership.Repository
	Cases         casedomain.Repository
	Authorization authorization.Store
}

// MemoryStores returns process-local stores, used when PostgreSQL is unavailable.
func MemoryStores() Stores {
	dir := directory.NewMemoryStore()
	return Stores{
		Directory:     dir,
		Memberships:   membership.NewMemoryRepository(dir),
		Cases:         caseinfra.NewMemoryRepository(),
		Authorization: authorization.NewMemoryStore(),
	}
}

// PostgresStores returns stores backed by db.
func PostgresStores(db *database.DB) Stores {
	return Stores{
		Directory:     directory.NewRepository(db.Pool),
		Memberships:   membership.NewPostgresRepository(db.Pool),
		Cases:         caseinfra.NewPostgresRepository(db.Pool),
		Authorization: authorization.NewPGStore(db.SQL()),
	}
}

// App holds all application dependencies
type App struct {
	Config *config.Config
	Stores Stores
	DB     *database.DB

	Evaluator     *auth.Evaluator
	Directory     *directory.Service
	Memberships   *membership.Service
	Cases         *caseservice.Engine
	Healer        *authorization.Healer
	Notifications *notification.Service
	Auth          *sharedauth.Authenticator

	bus        events.EventBus
	queue      *asynq.Client
	taskServer *notification.TaskServer
	closers    []func()
	log        *zap.Logger
}

// New wires the services over stores. db may be nil; optional backends
// (KurrentDB, Redis, the task queue) that fail to connect are skipped.
func New(ctx context.Context, cfg *config.Config, stores Stores, db *database.DB, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Config: cfg, Stores: stores, DB: db, log: log}

	a.Evaluator = auth.NewEvaluator(auth.DefaultTable())
	a.Directory = directory.NewService(stores.Directory, a.Evaluator, logger.Component(log, "directory"))

	sinks := a.sinks(ctx)
	a.Notifications = notification.NewService(notification.ConfigFrom(cfg.Notification), logger.Component(log, "notification"), sinks...)
	if err := a.Notifications.Start(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to start notifications: %w", err)
	}
	a.closers = append(a.closers, func() { _ = a.Notifications.Stop() })

	a.Memberships = membership.NewService(stores.Memberships, a.Directory, a.Evaluator, a.Notifications, logger.Component(log, "membership"))

	var membershipSource sharedauth.MembershipSource = a.Memberships
	if cfg.Redis.Enabled {
		client, err := cache.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Warn("redis not available, membership cache disabled", zap.Error(err))
		} else {
			a.closers = append(a.closers, func() { _ = client.Close() })
			membershipCache := cache.NewMembershipCache(client, a.Memberships, cfg.Redis.MembershipTTL, logger.Component(log, "cache"))
			a.Memberships.WithCache(membershipCache)
			membershipSource = membershipCache
		}
	}

	a.Healer = authorization.NewHealer(stores.Authorization, a.Directory, auth.DefaultTable(), logger.Component(log, "authorization"))

	a.Auth = sharedauth.NewAuthenticator(cfg.Auth, a.Directory, membershipSource, logger.Component(log, "auth"))
	a.Auth.OnPrivileged(a.Healer.OnAuthenticated)

	a.Cases = caseservice.NewEngine(
		stores.Cases,
		a.Directory,
		a.Evaluator,
		a.Notifications,
		privacy.NewPseudonymizer(cfg.Privacy.PseudonymKey),
		logger.Component(log, "case"),
	)

	return a, nil
}

// sinks connects the optional notification backends. The log sink is used
// when none of them is reachable.
func (a *App) sinks(ctx context.Context) []notification.Sink {
	cfg := a.Config
	var sinks []notification.Sink

	if cfg.KurrentDB.Enabled {
		bus, err := events.Connect(ctx, cfg.KurrentDB, logger.Component(a.log, "events"))
		if err != nil {
			a.log.Warn("KurrentDB not available, running without event streaming", zap.Error(err))
		} else {
			a.bus = bus
			a.closers = append(a.closers, bus.Close)
			sinks = append(sinks, notification.NewBusSink(bus))
		}
	}

	if cfg.Queue.Enabled && cfg.Redis.Enabled {
		redisOpt := notification.RedisOpt(cfg.Redis)
		client := asynq.NewClient(redisOpt)
		if err := client.Ping(); err != nil {
			a.log.Warn("task queue not available", zap.Error(err))
			_ = client.Close()
		} else {
			a.queue = client
			a.closers = append(a.closers, func() { _ = client.Close() })
			sinks = append(sinks, notification.NewQueueSink(client, cfg.Queue.MaxRetry))

			handler := notification.NewTaskHandler(notification.NewLogDeliverer(a.log), logger.Component(a.log, "tasks"))
			server := notification.NewTaskServer(redisOpt, cfg.Queue, handler, logger.Component(a.log, "tasks"))
			if err := server.Start(); err != nil {
				a.log.Warn("task server failed to start", zap.Error(err))
			} else {
				a.taskServer = server
				a.closers = append(a.closers, server.Shutdown)
			}
		}
	}

	if len(sinks) == 0 {
		sinks = append(sinks, notification.NewLogSink(logger.Component(a.log, "notification")))
	}
	return sinks
}

// Router builds the HTTP handler.
func (a *App) Router() http.Handler {
	cfg := a.Config
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(a.log))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	r.Use(metrics.Middleware)
	r.Use(middleware.BodyLimit(maxBodyBytes))

	r.Get("/health", a.healthHandler)
	r.Get("/ready", a.readyHandler)
	r.Handle("/metrics", metrics.Handler())

	claims := middleware.NewKeyedRateLimiter(cfg.RateLimit.ClaimsPerMinute, cfg.RateLimit.ClaimBurst)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(a.Auth.Middleware)

		r.Mount("/cases", caseapi.NewHandler(a.Cases, claims).Routes())
		r.Mount("/memberships", membership.NewHandler(a.Memberships).Routes())
		r.Mount("/me/authorization", authorization.NewHandler(a.Healer, a.Evaluator).Routes())
		r.Mount("/", directory.NewHandler(a.Directory).Routes())
	})

	return r
}

// Close releases every connection opened by New, in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (a *App) readyHandler(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"server": "ready"}

	if a.DB != nil {
		if err := a.DB.Health(r.Context()); err != nil {
			checks["database"] = "not ready: " + err.Error()
		} else {
			checks["database"] = "ready"
		}
	} else {
		checks["database"] = "not configured"
	}

	if a.bus != nil {
		if err := a.bus.Health(); err != nil {
			checks["kurrentdb"] = "not ready: " + err.Error()
		} else {
			checks["kurrentdb"] = "ready"
		}
	} else {
		checks["kurrentdb"] = "not configured"
	}

	if a.queue != nil {
		if err := a.queue.Ping(); err != nil {
			checks["queue"] = "not ready: " + err.Error()
		} else {
			checks["queue"] = "ready"
		}
	} else {
		checks["queue"] = "not configured"
	}

	allReady := true
	for _, status := range checks {
		if status != "ready" && status != "not configured" {
			allReady = false
			break
		}
	}

	status := http.StatusOK
	if !allReady {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
		"checks": checks,
	})
}
