// Package runtime turns a loaded configuration into a running server: it
// opens the configured row store, applies migrations, starts the background
// services and serves the HTTP API.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	app "github.com/leafy-life/cafe/internal/app"
	"github.com/leafy-life/cafe/internal/app/httpapi"
	"github.com/leafy-life/cafe/internal/app/migrations"
	"github.com/leafy-life/cafe/internal/app/services/alerts"
	"github.com/leafy-life/cafe/internal/app/storage"
	"github.com/leafy-life/cafe/internal/app/storage/memory"
	"github.com/leafy-life/cafe/internal/app/storage/sqlstore"
	supabasestore "github.com/leafy-life/cafe/internal/app/storage/supabase"
	"github.com/leafy-life/cafe/internal/config"
	"github.com/leafy-life/cafe/pkg/logger"
	"github.com/leafy-life/cafe/supabase/client"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	app        *app.Application
	httpServer *http.Server
	closer     io.Closer

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewApplication opens the store and builds the services and HTTP server.
// Nothing runs until Run.
func NewApplication(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.New(cfg.Logging).WithComponent("leafyd")
	}
	loc, err := cfg.TimeLocation()
	if err != nil {
		return nil, err
	}

	store, ledger, closer, err := OpenStore(ctx, cfg.Store, log)
	if err != nil {
		return nil, fmt.Errorf("configure store: %w", err)
	}

	application, err := app.New(store, app.Options{
		Location:          loc,
		AlertsEnabled:     cfg.Alerts.Enabled,
		AlertSchedule:     cfg.Alerts.Schedule,
		OutboxInterval:    cfg.Outbox.Interval,
		OutboxMaxAttempts: cfg.Outbox.MaxAttempts,
		Ledger:            ledger,
	}, log)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, err
	}

	opts := httpapi.Options{Auth: httpapi.AuthOptions{
		Secret:     cfg.Auth.JWTSecret,
		Audience:   cfg.Auth.Audience,
		AdminRoles: cfg.Auth.AdminRoles,
	}}
	if cfg.RateLimit.Enabled {
		opts.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		opts.Burst = cfg.RateLimit.Burst
	}
	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpapi.NewHandler(application, opts, log.WithComponent("http")),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	return &Application{
		cfg:        cfg,
		log:        log,
		app:        application,
		httpServer: httpSrv,
		closer:     closer,
	}, nil
}

// App exposes the composed services.
func (a *Application) App() *app.Application { return a.app }

// Migrate applies pending migrations.
func (a *Application) Migrate(ctx context.Context) error {
	applied, err := a.app.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.log.WithField("applied", applied).Info("migrations up to date")
	return nil
}

// SweepOnce runs the alert engine a single time.
func (a *Application) SweepOnce(ctx context.Context) (alerts.Report, error) {
	return a.app.AlertEngine.Sweep(ctx, alerts.TriggerManual)
}

// Run migrates, starts the background services and serves HTTP until ctx is
// cancelled or the listener fails. It shuts everything down before
// returning.
func (a *Application) Run(ctx context.Context) error {
	if err := a.Migrate(ctx); err != nil {
		return errors.Join(err, a.Shutdown(context.Background()))
	}
	if err := a.app.Start(ctx); err != nil {
		return errors.Join(fmt.Errorf("start services: %w", err), a.Shutdown(context.Background()))
	}

	ln, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		return errors.Join(fmt.Errorf("listen %s: %w", a.httpServer.Addr, err), a.Shutdown(context.Background()))
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", ln.Addr().String()).Info("HTTP server listening")
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	return errors.Join(runErr, a.Shutdown(context.Background()))
}

// Shutdown stops the HTTP server and the background services and closes the
// store. It is safe to call more than once.
func (a *Application) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		timeout := a.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var errs []error
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := a.app.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if a.closer != nil {
			if err := a.closer.Close(); err != nil {
				a.log.WithError(err).Warn("error closing store")
			}
		}
		a.shutdownErr = errors.Join(errs...)
	})
	return a.shutdownErr
}

// OpenStore builds the configured row store and the migration ledger that
// goes with it. The closer releases connections and may be nil.
func OpenStore(ctx context.Context, cfg config.StoreConfig, log *logger.Logger) (storage.Store, migrations.Ledger, io.Closer, error) {
	switch cfg.Backend {
	case "", config.BackendMemory:
		log.Warn("using the in-memory store; data is lost on restart")
		store := memory.New()
		return store, migrations.NewStoreLedger(store), nil, nil

	case config.BackendSupabase:
		rest, err := client.NewEnhanced(client.EnhancedConfig{
			Config: client.Config{
				URL:        cfg.Supabase.URL,
				APIKey:     cfg.Supabase.APIKey,
				Schema:     cfg.Supabase.Schema,
				HTTPClient: &http.Client{Timeout: cfg.Supabase.RequestTimeout},
			},
			RetryConfig:          retryConfig(cfg.Supabase.MaxRetries),
			CircuitBreakerConfig: client.DefaultCircuitBreakerConfig(),
			EnableResilience:     true,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("supabase client: %w", err)
		}
		store := supabasestore.New(rest, log.WithComponent("supabase-store"))
		return store, migrations.NewStoreLedger(store), store, nil

	case config.BackendSQLite, config.BackendPostgres:
		store, err := sqlstore.Open(ctx, cfg.Backend, cfg.DSN, sqlstore.PoolConfig{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		}, log.WithComponent("sqlstore"))
		if err != nil {
			return nil, nil, nil, err
		}
		ledger := migrations.NewSQLLedger(store.DB(), store.Dialect())
		if err := ledger.EnsureTable(ctx); err != nil {
			_ = store.Close()
			return nil, nil, nil, err
		}
		return store, ledger, store, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func retryConfig(maxRetries int) client.RetryConfig {
	rc := client.DefaultRetryConfig()
	if maxRetries >= 0 {
		rc.MaxRetries = maxRetries
	}
	return rc
}
