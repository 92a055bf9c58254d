package runtime

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"

	app "github.com/Meridian-Network/rewards_core/internal/app"
	"github.com/Meridian-Network/rewards_core/internal/app/config"
	"github.com/Meridian-Network/rewards_core/internal/app/httpapi"
	"github.com/Meridian-Network/rewards_core/internal/app/metrics"
	"github.com/Meridian-Network/rewards_core/internal/app/notify"
	"github.com/Meridian-Network/rewards_core/internal/app/storage/postgres"
	"github.com/Meridian-Network/rewards_core/internal/middleware"
	"github.com/Meridian-Network/rewards_core/internal/platform/database"
	"github.com/Meridian-Network/rewards_core/internal/platform/migrations"
	"github.com/Meridian-Network/rewards_core/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	log    *logger.Logger
	core   *app.Application
	server *http.Server
	db     *sqlx.DB
	rdb    *redis.Client
}

// NewApplication constructs a new application instance from the environment.
//
// REWARDS_CONFIG points at the YAML level table; when unset the built-in
// defaults are used. DATABASE_URL selects the Postgres stores; without it the
// in-memory stores back everything, which is only meant for development.
func NewApplication(ctx context.Context) (*Application, error) {
	log := logger.New(logger.LoggingConfig{
		Level:  envOr("LOG_LEVEL", "info"),
		Format: envOr("LOG_FORMAT", "json"),
		Output: "stdout",
	})

	var cfg config.Provider
	if path := strings.TrimSpace(os.Getenv("REWARDS_CONFIG")); path != "" {
		fp, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		cfg = fp
	} else {
		log.Warn("REWARDS_CONFIG not set; using built-in level table")
		cfg = config.Default()
	}

	var (
		stores app.Stores
		db     *sqlx.DB
	)
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		var err error
		db, err = database.Open(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := migrations.Apply(ctx, db.DB); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		pg := postgres.New(db)
		stores = app.Stores{Accounts: pg, Ledger: pg, Referrals: pg, Dividends: pg}
		log.Info("using postgres stores")
	} else {
		log.Warn("DATABASE_URL not set; using in-memory stores")
	}

	var (
		hooks notify.Hooks
		rdb   *redis.Client
	)
	if addr := strings.TrimSpace(os.Getenv("REDIS_ADDR")); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASSWORD")})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("redis unreachable; notifications disabled")
			_ = rdb.Close()
			rdb = nil
		} else {
			hooks = notify.NewRedisPublisher(rdb, log)
		}
	}

	core, err := app.New(stores, app.Options{
		Config:    cfg,
		Hooks:     hooks,
		Scheduler: envBool("DIVIDEND_SCHEDULER", true),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("build application: %w", err)
	}

	handler := httpapi.NewHandler(core)
	if hash := strings.TrimSpace(os.Getenv("ADMIN_TOKEN_HASH")); hash != "" {
		auth := middleware.NewAdminAuth(hash, []string{"/membership/adjust"}, log)
		handler = auth.Handler(handler)
		log.Info("admin endpoints require a bearer token")
	}
	handler = middleware.NewCORSMiddleware(splitCSV(envOr("CORS_ORIGINS", "*"))).Handler(handler)
	limiter := middleware.NewRateLimiter(envInt("RATE_LIMIT_RPS", 50), envInt("RATE_LIMIT_BURST", 100), log)
	limiter.StartCleanup(10 * time.Minute)
	handler = limiter.Handler(handler)
	handler = metrics.InstrumentHandler(handler)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", handler)

	server := &http.Server{
		Addr:              envOr("HTTP_ADDR", ":8080"),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Application{
		log:    log,
		core:   core,
		server: server,
		db:     db,
		rdb:    rdb,
	}, nil
}

// Run starts the services and HTTP server and blocks until the context is
// cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.core.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server, the services, and the backing
// connections.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := a.core.Stop(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("error stopping services")
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
