// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/push-garden/internal/broadcast"
	"github.com/bissquit/push-garden/internal/broadcast/memory"
	broadcastpostgres "github.com/bissquit/push-garden/internal/broadcast/postgres"
	"github.com/bissquit/push-garden/internal/broadcast/rediscache"
	"github.com/bissquit/push-garden/internal/broadcast/webpush"
	"github.com/bissquit/push-garden/internal/config"
	"github.com/bissquit/push-garden/internal/domain"
	"github.com/bissquit/push-garden/internal/pkg/ctxlog"
	"github.com/bissquit/push-garden/internal/pkg/httputil"
	"github.com/bissquit/push-garden/internal/pkg/jwtauth"
	"github.com/bissquit/push-garden/internal/pkg/metrics"
	"github.com/bissquit/push-garden/internal/pkg/postgres"
	"github.com/bissquit/push-garden/internal/version"
	"github.com/bissquit/push-garden/migrations"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// repositories groups the storage collaborators of the broadcast service.
type repositories interface {
	broadcast.RecipientDirectory
	broadcast.SubscriptionStore
	broadcast.HistoryRepository
}

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool // nil with the memory storage driver
	redis         *redis.Client // nil unless the redis stats cache is used
	service       *broadcast.Service
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		metricsCancel: metricsCancel,
	}

	repo, err := app.initStorage()
	if err != nil {
		metricsCancel()
		return nil, fmt.Errorf("init storage: %w", err)
	}

	statsCache, err := app.initStatsCache()
	if err != nil {
		app.closeClients()
		metricsCancel()
		return nil, fmt.Errorf("init stats cache: %w", err)
	}

	dispatcher := broadcast.NewDispatcher(broadcast.DispatcherConfig{
		Concurrency:       cfg.Broadcast.Concurrency,
		SendTimeout:       cfg.Broadcast.SendTimeout,
		DeactivateTimeout: cfg.Broadcast.DeactivateTimeout,
	}, repo, app.initTransport())

	var opts []broadcast.Option
	if statsCache != nil {
		opts = append(opts, broadcast.WithStatsCache(statsCache))
	}
	app.service = broadcast.NewService(broadcast.Config{
		Timeout:       cfg.Broadcast.Timeout,
		RecordTimeout: cfg.Broadcast.RecordTimeout,
	}, repo, dispatcher, repo, opts...)

	if app.db != nil {
		go app.collectDBMetrics(metricsCtx)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           app.setupRouter(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

func (a *App) initStorage() (repositories, error) {
	switch a.config.Storage.Driver {
	case config.StorageMemory:
		store := memory.NewStore()
		if path := a.config.Storage.SeedFile; path != "" {
			seed, err := memory.LoadSeedFile(path)
			if err != nil {
				return nil, err
			}
			for _, r := range seed.Recipients {
				store.PutRecipient(r)
			}
			a.logger.Info("memory storage seeded", "file", path, "recipients", len(seed.Recipients))
		}
		a.logger.Warn("using in-memory storage, broadcast history is not persisted")
		return store, nil

	case config.StoragePostgres:
		if a.config.Database.AutoMigrate {
			if err := postgres.Migrate(a.config.Database.URL, migrations.FS); err != nil {
				return nil, fmt.Errorf("migrate database: %w", err)
			}
		}

		connectCtx, connectCancel := context.WithTimeout(context.Background(), a.config.Database.ConnectTimeout)
		defer connectCancel()

		db, err := postgres.Connect(connectCtx, postgres.Config{
			URL:             a.config.Database.URL,
			MaxOpenConns:    a.config.Database.MaxOpenConns,
			MaxIdleConns:    a.config.Database.MaxIdleConns,
			ConnMaxLifetime: a.config.Database.ConnMaxLifetime,
			ConnectAttempts: a.config.Database.ConnectAttempts,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.db = db
		return broadcastpostgres.NewRepository(db), nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", a.config.Storage.Driver)
	}
}

func (a *App) initStatsCache() (broadcast.StatsCache, error) {
	cfg := a.config.StatsCache
	a.logger.Info("audience stats cache configured", "driver", cfg.Driver, "ttl", cfg.TTL)

	switch cfg.Driver {
	case config.StatsCacheMemory:
		return broadcast.NewTTLStatsCache(cfg.TTL), nil

	case config.StatsCacheRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     a.config.Redis.Addr,
			Password: a.config.Redis.Password,
			DB:       a.config.Redis.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		a.redis = rdb
		return rediscache.NewStatsCache(rdb, a.config.Redis.Key, cfg.TTL), nil

	default:
		return nil, nil
	}
}

func (a *App) initTransport() broadcast.PushTransport {
	cfg := a.config.WebPush
	if !cfg.Enabled {
		a.logger.Warn("web push disabled, messages are logged and reported as delivered")
		return webpush.LogTransport{}
	}

	a.logger.Info("web push configured",
		"ttl", cfg.TTL,
		"urgency", cfg.Urgency,
		"rate_limit", cfg.RateLimit,
	)
	return webpush.NewSender(webpush.Config{
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		Subscriber:      cfg.Subscriber,
		TTL:             cfg.TTL,
		Urgency:         cfg.Urgency,
		Topic:           cfg.Topic,
		Timeout:         a.config.Broadcast.SendTimeout,
		RateLimit:       cfg.RateLimit,
		RateBurst:       cfg.RateBurst,
	})
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"version", version.Version,
		"storage", a.config.Storage.Driver,
	)

	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application. New broadcasts are refused and
// running ones finish before storage is closed. server.shutdown_timeout must
// cover a whole broadcast, which config.Validate enforces.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	for name, srv := range map[string]*http.Server{"server": a.server, "metrics server": a.metricsServer} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Shutdown(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("shutdown %s: %w", name, err))
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	// Running broadcasts still write history and deactivate subscriptions, so
	// storage stays open until they finish. If they do not finish in time the
	// clients are left for process exit rather than closed under them.
	if err := a.service.Shutdown(ctx); err != nil {
		a.logger.Error("broadcasts still running at shutdown deadline, storage left open", "error", err)
		return errors.Join(append(errs, err)...)
	}
	a.closeClients()

	return errors.Join(errs...)
}

func (a *App) closeClients() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Service returns the broadcast service. Used in tests to wait for background work.
func (a *App) Service() *broadcast.Service {
	return a.service
}

func (a *App) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})
	r.Get("/docs", docsHandler)

	broadcastHandler := broadcast.NewHandler(a.service)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))

		if a.config.JWT.SecretKey == "" {
			a.logger.Warn("jwt secret not set, broadcast API is unauthenticated")
			broadcastHandler.RegisterRoutes(r)
			return
		}

		validator := jwtauth.NewValidator(jwtauth.Config{
			SecretKey: a.config.JWT.SecretKey,
			Issuer:    a.config.JWT.Issuer,
			Leeway:    a.config.JWT.Leeway,
		})
		r.Group(func(r chi.Router) {
			r.Use(httputil.AuthMiddleware(validator))
			r.Use(httputil.RequireRole(domain.RoleAdmin))
			broadcastHandler.RegisterRoutes(r)
		})
	})

	return r
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if a.db != nil {
		if err := a.db.Ping(ctx); err != nil {
			ctxlog.FromContext(r.Context()).Error("readiness check failed", "dependency", "postgres", "error", err)
			httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
			return
		}
	}

	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			ctxlog.FromContext(r.Context()).Error("readiness check failed", "dependency", "redis", "error", err)
			httputil.Text(w, http.StatusServiceUnavailable, "Cache unavailable")
			return
		}
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Info())
}

func docsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>Push Garden API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        SwaggerUIBundle({
            url: "/api/openapi.yaml",
            dom_id: '#swagger-ui',
            presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
            layout: "BaseLayout"
        });
    </script>
</body>
</html>`))
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler).With("service", "push-garden")
}
