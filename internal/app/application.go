package app

import (
	"context"
	"fmt"
	"time"

	"github.com/leafy-life/cafe/internal/app/migrations"
	"github.com/leafy-life/cafe/internal/app/services/alerts"
	"github.com/leafy-life/cafe/internal/app/services/catalog"
	"github.com/leafy-life/cafe/internal/app/services/expenses"
	"github.com/leafy-life/cafe/internal/app/services/finance"
	"github.com/leafy-life/cafe/internal/app/services/orders"
	"github.com/leafy-life/cafe/internal/app/services/rules"
	"github.com/leafy-life/cafe/internal/app/services/settings"
	"github.com/leafy-life/cafe/internal/app/services/tasks"
	"github.com/leafy-life/cafe/internal/app/storage"
	"github.com/leafy-life/cafe/internal/app/storage/memory"
	"github.com/leafy-life/cafe/internal/app/system"
	"github.com/leafy-life/cafe/pkg/logger"
)

// Options tune the background workers. The zero value runs no sweeper and
// replays the outbox every minute.
type Options struct {
	Location          *time.Location
	AlertsEnabled     bool
	AlertSchedule     string
	OutboxInterval    time.Duration
	OutboxMaxAttempts int
	// Ledger records applied migrations. Nil keeps the record in the store.
	Ledger migrations.Ledger
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	store   storage.Store
	ledger  migrations.Ledger
	loc     *time.Location
	views   *liveViews

	Orders      *orders.Service
	Finance     *finance.Service
	Alerts      *alerts.Service
	AlertEngine *alerts.Engine
	Rules       *rules.Service
	Catalog     *catalog.Service
	Expenses    *expenses.Service
	Settings    *settings.Service
	Tasks       *tasks.Service
}

// New builds a fully initialised application over store. A nil store
// defaults to the in-memory implementation.
func New(store storage.Store, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if store == nil {
		store = memory.New()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	ledger := opts.Ledger
	if ledger == nil {
		ledger = migrations.NewStoreLedger(store)
	}

	orderService := orders.New(store, log.WithComponent("orders")).WithLocation(loc)
	engine := alerts.NewEngine(store, log.WithComponent("alert-engine")).WithLocation(loc)

	a := &Application{
		manager:     system.NewManager(),
		log:         log,
		store:       store,
		ledger:      ledger,
		loc:         loc,
		views:       newLiveViews(store, log.WithComponent("liveview")),
		Orders:      orderService,
		Finance:     finance.New(store, log.WithComponent("finance")),
		Alerts:      alerts.New(store, log.WithComponent("alerts")),
		AlertEngine: engine,
		Rules:       rules.New(store, log.WithComponent("rules")),
		Catalog:     catalog.New(store, log.WithComponent("catalog")),
		Expenses:    expenses.New(store, log.WithComponent("expenses")),
		Settings:    settings.New(store, log.WithComponent("settings")),
		Tasks:       tasks.New(store, log.WithComponent("tasks")),
	}

	services := []system.Service{
		a.views,
		orders.NewOutboxRetrier(orderService, opts.OutboxInterval, opts.OutboxMaxAttempts, log.WithComponent("inventory-outbox")),
	}
	if opts.AlertsEnabled {
		services = append(services, alerts.NewSweeper(engine, opts.AlertSchedule, log.WithComponent("alert-sweeper")))
	} else {
		log.Warn("alert sweeper disabled; alerts are only raised on demand")
	}
	for _, svc := range services {
		if err := a.manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}
	return a, nil
}

// Store returns the row store the services share.
func (a *Application) Store() storage.Store { return a.store }

// Location returns the zone calendar dates are computed in.
func (a *Application) Location() *time.Location { return a.loc }

// Migrate applies the built-in migrations that the ledger has not seen.
func (a *Application) Migrate(ctx context.Context) ([]string, error) {
	runner := migrations.NewRunner(a.store, a.ledger, a.log.WithComponent("migrations"), migrations.Builtin()...)
	return runner.Run(ctx)
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Services lists the registered background services in start order.
func (a *Application) Services() []string {
	return a.manager.Names()
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
