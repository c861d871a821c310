// Package migrations applies one-time data migrations exactly once per
// store. The set of applied migration ids is persisted in a Ledger, so a
// restarted process skips what already ran.
package migrations

import (
	"context"
	"fmt"
	"time"

	"github.com/leafy-life/cafe/internal/app/storage"
	"github.com/leafy-life/cafe/pkg/logger"
)

// Migration is one idempotent data change.
type Migration struct {
	ID          string
	Description string
	Up          func(ctx context.Context, store storage.Store) error
}

// Ledger records which migrations have been applied.
type Ledger interface {
	Applied(ctx context.Context) (map[string]time.Time, error)
	Record(ctx context.Context, id string, at time.Time) error
}

// Runner applies migrations in order.
type Runner struct {
	store      storage.Store
	ledger     Ledger
	migrations []Migration
	log        *logger.Logger
	now        func() time.Time
}

// NewRunner builds a runner. Migrations run in the order given.
func NewRunner(store storage.Store, ledger Ledger, log *logger.Logger, migrations ...Migration) *Runner {
	if log == nil {
		log = logger.NewDefault("migrations")
	}
	return &Runner{store: store, ledger: ledger, migrations: migrations, log: log, now: time.Now}
}

// Run applies every migration not yet in the ledger and returns the ids it
// applied. It stops at the first failure; the failed migration is not
// recorded and runs again next time.
func (r *Runner) Run(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{}, len(r.migrations))
	for _, m := range r.migrations {
		if m.ID == "" || m.Up == nil {
			return nil, fmt.Errorf("migration %q is incomplete", m.ID)
		}
		if _, dup := seen[m.ID]; dup {
			return nil, fmt.Errorf("duplicate migration id %q", m.ID)
		}
		seen[m.ID] = struct{}{}
	}

	applied, err := r.ledger.Applied(ctx)
	if err != nil {
		return nil, fmt.Errorf("read migration ledger: %w", err)
	}

	var ran []string
	for _, m := range r.migrations {
		if _, done := applied[m.ID]; done {
			continue
		}
		if err := m.Up(ctx, r.store); err != nil {
			return ran, fmt.Errorf("migration %s: %w", m.ID, err)
		}
		if err := r.ledger.Record(ctx, m.ID, r.now().UTC()); err != nil {
			return ran, fmt.Errorf("record migration %s: %w", m.ID, err)
		}
		r.log.WithField("migration", m.ID).Info(m.Description)
		ran = append(ran, m.ID)
	}
	return ran, nil
}
