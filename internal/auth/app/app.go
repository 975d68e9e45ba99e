package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradekit/authcore/internal/auth/backend"
	"github.com/tradekit/authcore/internal/auth/backend/local"
	"github.com/tradekit/authcore/internal/auth/backend/supabase"
	httpapi "github.com/tradekit/authcore/internal/auth/http"
	"github.com/tradekit/authcore/internal/auth/service"
	"github.com/tradekit/authcore/internal/auth/store"
	"github.com/tradekit/authcore/internal/auth/store/drivers/sqlite"
	"github.com/tradekit/authcore/pkg/cryptox"
	"github.com/tradekit/authcore/pkg/httpx"
	"github.com/tradekit/authcore/pkg/jwtx"
	"github.com/tradekit/authcore/pkg/ratestore"
	"github.com/tradekit/authcore/pkg/slogx"
)

// BuildVersion should be set at build time via ldflags.
const BuildVersion = "v0.1.0"

// Application encapsulates the service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db        store.Store
	backend   backend.IdentityBackend
	counters  ratestore.Counters
	clientURL *url.URL

	credentials  *service.CredentialValidator
	csrf         *service.CSRFGuard
	sessions     *service.SessionLifecycle
	twoFactor    *service.TwoFactorController
	housekeeping *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized. The config
// is validated first: a misconfigured backend is fatal, not degraded.
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "authcore",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	clientURL, err := url.Parse(cfg.ClientURL)
	if err != nil {
		return nil, fmt.Errorf("invalid CLIENT_URL: %w", err)
	}
	app.clientURL = clientURL

	cryptox.SetPepper(cfg.Pepper)

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	app.initCounters()

	if err := app.initBackend(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeeping.Start()

	app.logger.Info("authcore starting",
		"port", app.cfg.Port,
		"backend", app.cfg.Backend,
		"version", BuildVersion,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown drains in-flight requests, stops background work and closes the
// database.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down authcore...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "err", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "err", err)
		}
	}

	app.housekeeping.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "err", err)
		return err
	}

	app.logger.Info("authcore stopped")
	return nil
}

func (app *Application) initDatabase() error {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(dsn)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initCounters picks the rate/lockout counter store. With REDIS_ADDR set the
// counters are shared across instances; otherwise they are process-local.
func (app *Application) initCounters() {
	if app.cfg.RedisAddr == "" {
		app.counters = ratestore.NewMemory()
		return
	}

	client := redis.NewClient(&redis.Options{Addr: app.cfg.RedisAddr})
	app.counters = ratestore.NewRedis(client, "authcore:ctr:")
	app.logger.Info("using redis rate counters", "addr", app.cfg.RedisAddr)
}

func (app *Application) initBackend() error {
	switch app.cfg.Backend {
	case BackendSupabase:
		app.backend = supabase.New(app.cfg.SupabaseURL, app.cfg.SupabaseServiceKey, app.cfg.BackendTimeout)
		return nil
	default:
		signer, err := jwtx.NewSigner([]byte(app.cfg.JWTSecret), app.cfg.Issuer, jwtx.DefaultAccessTokenTTL)
		if err != nil {
			return fmt.Errorf("failed to initialize token signer: %w", err)
		}
		app.backend = local.New(app.db, signer, jwtx.DefaultRefreshTokenTTL)
		return nil
	}
}

func (app *Application) initServices() {
	app.credentials = service.NewCredentialValidator(app.counters)
	app.csrf = service.NewCSRFGuard()
	app.sessions = service.NewSessionLifecycle(app.backend, app.db, app.credentials, app.cfg.BackendTimeout)
	app.twoFactor = service.NewTwoFactorController(app.backend, app.db, app.cfg.Issuer, app.cfg.BackendTimeout)

	app.housekeeping = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
}

func (app *Application) initHTTP() {
	limiter := httpx.NewRateLimiter(app.counters, httpx.DefaultLimits())

	router := httpapi.NewRouter(
		limiter,
		app.csrf,
		app.sessions,
		app.twoFactor,
		app.clientURL,
		BuildVersion,
		app.cfg.SecureCookies,
		app.logger,
	)
	router.ApplyRoutes()
	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
