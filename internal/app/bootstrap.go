package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"store-backend/internal/auth"
	"store-backend/internal/config"
	"store-backend/internal/counter"
	"store-backend/internal/db"
	"store-backend/internal/maintenance"
	"store-backend/internal/observability"
	"store-backend/internal/order"
	"store-backend/internal/session"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Config  config.Config
	Logger  *observability.Logger
	Close   func() error
}

// Build loads configuration, connects the backing stores and assembles the HTTP
// handler.
func Build(options Options) (*Runtime, error) {
	cfg, err := config.Load(config.Options{LoadDotEnv: options.LoadDotEnv})
	if err != nil {
		return nil, err
	}

	logger := observability.NewLoggerWithOutput(os.Stdout, cfg.LogLevel)

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}
	if cfg.RefreshSecretDerived {
		logger.Warn("refresh_secret_derived", map[string]any{"app_env": cfg.AppEnv})
	}

	database, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	database.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	database.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.DB.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		applied, err := db.RunMigrations(ctx, database)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations_applied", map[string]any{"versions": applied})
		}
	}

	var redisClient *redis.Client
	if cfg.CounterBackend == config.BackendRedis || cfg.SessionBackend == config.BackendRedis {
		redisOptions, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(redisOptions)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = redisClient.Close()
			_ = database.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
	}

	closeAll := func() error {
		observability.FlushSentry()
		var redisErr error
		if redisClient != nil {
			redisErr = redisClient.Close()
		}
		return errors.Join(database.Close(), redisErr)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewDBStatsCollector(database, "store"))

	handler, service, err := newHandler(cfg, Deps{
		DB:       database,
		Redis:    redisClient,
		Logger:   logger,
		Registry: registry,
	})
	if err != nil {
		_ = closeAll()
		return nil, err
	}

	if err := service.BootstrapAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		_ = closeAll()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	return &Runtime{
		Handler: handler,
		Config:  cfg,
		Logger:  logger,
		Close:   closeAll,
	}, nil
}

// Deps are the connected resources the handler is assembled from. Redis may be nil
// when no backend uses it.
type Deps struct {
	DB       *sql.DB
	Redis    *redis.Client
	Logger   *observability.Logger
	Registry *prometheus.Registry
}

func newHandler(cfg config.Config, deps Deps) (http.Handler, *auth.Service, error) {
	logger := deps.Logger
	if logger == nil {
		logger = observability.Discard()
	}
	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	metrics := observability.NewMetrics(registry)

	counters, sweeper, err := newCounterStore(cfg, deps)
	if err != nil {
		return nil, nil, err
	}
	sessions, err := newSessionStore(cfg, deps)
	if err != nil {
		return nil, nil, err
	}

	codec, err := auth.NewTokenCodec(cfg.Tokens)
	if err != nil {
		return nil, nil, fmt.Errorf("init token codec: %w", err)
	}

	authRepo := auth.NewRepository(deps.DB)
	authService := auth.NewService(auth.ServiceDeps{
		Store:     authRepo,
		Hasher:    auth.NewPasswordHasher(cfg.BcryptCost),
		Lockout:   auth.NewLockoutTracker(counters, cfg.Lockout),
		Codec:     codec,
		Logger:    logger,
		Metrics:   metrics,
		Bootstrap: authRepo,
	})

	sessionManager := session.NewManager(sessions, cfg.Session, logger)
	authHandler := auth.NewHandler(authService, sessionManager, auth.HandlerConfig{
		AccessCookieName: cfg.AccessCookieName,
		CookieSecure:     cfg.Session.Secure,
	}, logger)

	guard := auth.NewGuard(auth.NewTokenExtractor(cfg.AccessCookieName, cfg.AccessQueryParam), codec, authRepo, logger, metrics)
	gate := auth.NewRoleGate(cfg.AdminOperators)

	clientIPs, err := observability.NewClientIPResolver(cfg.TrustedProxies)
	if err != nil {
		return nil, nil, fmt.Errorf("init client ip resolver: %w", err)
	}
	apiLimiter := auth.NewRateLimiter(counters, cfg.APIRateLimit, logger, metrics).WithClientIPResolver(clientIPs)
	loginLimiter := auth.NewRateLimiter(counters, cfg.LoginRateLimit, logger, metrics).WithClientIPResolver(clientIPs)

	orderHandler := order.NewHandler(order.NewRepository(deps.DB))
	cleanupHandler := maintenance.NewCleanupHandler(sweeper, logger, cfg.CronSecret, cfg.CleanupBatchSize)

	protect := func(h http.Handler) http.Handler {
		return apiLimiter.Middleware(guard.Protect(h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /auth/login", loginLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.Handle("POST /auth/refresh", loginLimiter.Middleware(http.HandlerFunc(authHandler.Refresh)))
	mux.Handle("POST /auth/logout", apiLimiter.Middleware(http.HandlerFunc(authHandler.Logout)))
	mux.Handle("GET /auth/status", apiLimiter.Middleware(guard.OptionalAuth(http.HandlerFunc(authHandler.Status))))
	mux.Handle("GET /auth/me", protect(http.HandlerFunc(authHandler.Me)))
	mux.Handle("POST /auth/password", loginLimiter.Middleware(guard.Protect(http.HandlerFunc(authHandler.ChangePassword))))
	mux.Handle("POST /admin/identities/{id}/unlock", protect(gate.RequireAdmin(http.HandlerFunc(authHandler.Unlock))))

	mux.Handle("GET /orders", protect(http.HandlerFunc(orderHandler.ListMine)))
	mux.Handle("GET /orders/{id}", protect(auth.RequireOwner(orderHandler.Owner(), http.HandlerFunc(orderHandler.GetOrder))))
	mux.Handle("GET /admin/orders", protect(gate.RequireManagerOrAdmin(http.HandlerFunc(orderHandler.ListAll))))

	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(deps.DB, deps.Redis))
	mux.Handle("GET /metrics", metrics.Handler())

	handler := observability.RecoverMiddleware(logger,
		sessionManager.Middleware(
			observability.RequestLoggingMiddleware(logger, metrics, clientIPs, mux),
		),
	)
	return handler, authService, nil
}

func newCounterStore(cfg config.Config, deps Deps) (counter.Store, counter.Sweeper, error) {
	switch cfg.CounterBackend {
	case config.BackendRedis:
		if deps.Redis == nil {
			return nil, nil, errors.New("counter backend redis requires a redis client")
		}
		return counter.NewRedisStore(deps.Redis, cfg.RedisPrefix+":counter"), nil, nil
	case config.BackendPostgres:
		store := counter.NewPostgresStore(deps.DB)
		return store, store, nil
	default:
		store := counter.NewMemoryStore()
		return store, store, nil
	}
}

func newSessionStore(cfg config.Config, deps Deps) (session.Store, error) {
	if cfg.SessionBackend == config.BackendRedis {
		if deps.Redis == nil {
			return nil, errors.New("session backend redis requires a redis client")
		}
		return session.NewRedisStore(deps.Redis, cfg.RedisPrefix+":session"), nil
	}
	return session.NewMemoryStore(), nil
}

func healthHandler(database *sql.DB, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		checks := map[string]string{"database": "ok"}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks["database"] = "unavailable"
		}
		if redisClient != nil {
			checks["redis"] = "ok"
			if err := redisClient.Ping(ctx).Err(); err != nil {
				status = http.StatusServiceUnavailable
				checks["redis"] = "unavailable"
			}
		}

		body := map[string]any{"status": "ok", "checks": checks, "time": time.Now().UTC().Format(time.RFC3339)}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
