package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/leafy-life/cafe/internal/app/storage"
	"github.com/leafy-life/cafe/internal/app/storage/sqlstore"
)

// StoreLedger keeps the applied set in the schema_migrations table of the
// row store itself.
type StoreLedger struct {
	store storage.Store
}

// NewStoreLedger returns a ledger backed by store.
func NewStoreLedger(store storage.Store) *StoreLedger {
	return &StoreLedger{store: store}
}

func (l *StoreLedger) Applied(ctx context.Context) (map[string]time.Time, error) {
	var rows []struct {
		ID        string    `json:"id"`
		AppliedAt time.Time `json:"applied_at"`
	}
	if err := storage.SelectInto(ctx, l.store, storage.TableSchemaMigrations, nil, &rows); err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(rows))
	for _, r := range rows {
		out[r.ID] = r.AppliedAt
	}
	return out, nil
}

func (l *StoreLedger) Record(ctx context.Context, id string, at time.Time) error {
	_, err := l.store.Insert(ctx, storage.TableSchemaMigrations, storage.Row{"id": id, "applied_at": at})
	return storage.Wrap("insert", storage.TableSchemaMigrations, err)
}

// SQLLedger keeps the applied set in its own SQL table, for the sql backends.
type SQLLedger struct {
	db      *sql.DB
	dialect sqlstore.Dialect
}

// NewSQLLedger returns a ledger over db.
func NewSQLLedger(db *sql.DB, dialect sqlstore.Dialect) *SQLLedger {
	return &SQLLedger{db: db, dialect: dialect}
}

// EnsureTable creates the ledger table when missing.
func (l *SQLLedger) EnsureTable(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS leafy_migrations (id TEXT PRIMARY KEY, applied_at TEXT NOT NULL)`
	if _, err := l.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create migration ledger: %w", err)
	}
	return nil
}

func (l *SQLLedger) Applied(ctx context.Context) (map[string]time.Time, error) {
	if err := l.EnsureTable(ctx); err != nil {
		return nil, err
	}
	rows, err := l.db.QueryContext(ctx, `SELECT id, applied_at FROM leafy_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query migration ledger: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var id, at string
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("scan migration ledger: %w", err)
		}
		// An unreadable timestamp still marks the migration as applied.
		ts, _ := time.Parse(time.RFC3339Nano, at)
		out[id] = ts
	}
	return out, rows.Err()
}

func (l *SQLLedger) Record(ctx context.Context, id string, at time.Time) error {
	query := l.dialect.Rebind(`INSERT INTO leafy_migrations (id, applied_at) VALUES (?, ?)`)
	if _, err := l.db.ExecContext(ctx, query, id, at.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("record migration %s: %w", id, err)
	}
	return nil
}
