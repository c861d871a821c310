// Package app composes the café services into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── dashboard.go        # Home screen summary from the live views
//	├── domain/             # Domain models (pure data structures)
//	│   ├── alert/          # Alerts and typed rule parameters
//	│   ├── calendar/       # Date keys and zero-based months
//	│   ├── order/          # Orders, daily revenue, inventory outbox
//	│   └── ...             # Inventory, menu, expense, settings, task
//	├── storage/            # Row store interface, query builder, codecs
//	│   ├── memory/         # In-memory implementation for tests and dev
//	│   ├── sqlstore/       # database/sql document store (sqlite, postgres)
//	│   └── supabase/       # Hosted PostgREST + realtime implementation
//	├── services/           # Business logic, one package per area
//	├── liveview/           # Change-fed in-memory indexes
//	├── migrations/         # Idempotent startup migrations
//	├── httpapi/            # REST handlers and middleware
//	├── runtime/            # Config-driven process wiring
//	├── system/             # Lifecycle manager
//	└── metrics/            # Prometheus collectors
//
// # Lifecycle
//
//	application, err := app.New(store, app.Options{AlertsEnabled: true}, log)
//	if _, err := application.Migrate(ctx); err != nil { ... }
//	if err := application.Start(ctx); err != nil { ... }
//	defer application.Stop(ctx)
//
// Start seeds the live views and launches the outbox retrier and, when
// enabled, the alert sweeper. Stop shuts them down in reverse order.
package app
