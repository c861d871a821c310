// Package sqlstore implements the row store on database/sql. Every logical
// table lives in one document table. Filters are pushed down to JSON
// expressions where they can be, and storage.Apply runs over what comes back
// so the semantics match the other backends exactly.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/leafy-life/cafe/internal/app/storage"
	"github.com/leafy-life/cafe/pkg/logger"
)

// Store implements storage.Store backed by a SQL database.
type Store struct {
	db      *sql.DB
	dialect Dialect
	log     *logger.Logger
	unique  map[string][]string

	// writeMu serialises mutations so unique keys hold within the process.
	writeMu sync.Mutex

	subMu   sync.RWMutex
	subs    map[string]map[int]*subscriber
	nextSub int

	now func() time.Time
}

type subscriber struct {
	kinds   []storage.EventKind
	handler storage.Handler
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB, dialect Dialect, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewDefault("sqlstore")
	}
	return &Store{
		db:      db,
		dialect: dialect,
		log:     log,
		unique: map[string][]string{
			storage.TableDailyRevenue: {"date"},
			storage.TableAppSettings:  {"key"},
		},
		subs: make(map[string]map[int]*subscriber),
		now:  time.Now,
	}
}

// Open connects to dsn with the named driver, applies pool settings and
// creates the document table.
func Open(ctx context.Context, driver, dsn string, pool PoolConfig, log *logger.Logger) (*Store, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect.Name, err)
	}
	pool.apply(db, dialect)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect.Name, err)
	}

	store := New(db, dialect, log)
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (p PoolConfig) apply(db *sql.DB, dialect Dialect) {
	if dialect.Name == SQLite.Name {
		// One connection keeps ":memory:" databases coherent and avoids
		// SQLITE_BUSY on concurrent writers.
		db.SetMaxOpenConns(1)
		return
	}
	if p.MaxOpenConns > 0 {
		db.SetMaxOpenConns(p.MaxOpenConns)
	}
	if p.MaxIdleConns > 0 {
		db.SetMaxIdleConns(p.MaxIdleConns)
	}
	if p.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(p.ConnMaxLifetime)
	}
}

// DB exposes the handle for components that need raw SQL.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the store's dialect.
func (s *Store) Dialect() Dialect { return s.dialect }

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// EnsureSchema creates the document table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) load(ctx context.Context, q queryer, table string) ([]storage.Row, error) {
	return s.query(ctx, q, table, selectPlan{})
}

func (s *Store) query(ctx context.Context, q queryer, table string, p selectPlan) ([]storage.Row, error) {
	args := append([]any{table}, p.args...)
	rows, err := q.QueryContext(ctx, s.dialect.sql(p), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Row
	for rows.Next() {
		var (
			id  string
			doc []byte
		)
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, err
		}
		var row storage.Row
		if err := json.Unmarshal(doc, &row); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", table, id, err)
		}
		row["id"] = id
		out = append(out, row)
	}
	return out, rows.Err()
}

// Select runs the pushed-down part of q in SQL and the whole of q in process.
func (s *Store) Select(ctx context.Context, table string, q *storage.Query) ([]storage.Row, error) {
	p := s.dialect.plan(q)
	rows, err := s.query(ctx, s.db, table, p)
	if err != nil {
		return nil, storage.Wrap("select", table, err)
	}
	out := storage.Apply(rows, q)
	if p.limit > 0 && len(rows) == p.limit && len(out) < p.limit {
		// SQL kept rows the in-process pass dropped, so the limit may have
		// cut real matches.
		p.limit = 0
		if rows, err = s.query(ctx, s.db, table, p); err != nil {
			return nil, storage.Wrap("select", table, err)
		}
		out = storage.Apply(rows, q)
	}
	return out, nil
}

// Insert writes rows in one transaction.
func (s *Store) Insert(ctx context.Context, table string, rows ...storage.Row) ([]storage.Row, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storage.Wrap("insert", table, err)
	}
	defer tx.Rollback()

	var existing []storage.Row
	if keys := s.unique[table]; len(keys) > 0 {
		if existing, err = s.load(ctx, tx, table); err != nil {
			return nil, storage.Wrap("insert", table, err)
		}
	}

	stored := make([]storage.Row, 0, len(rows))
	for _, r := range rows {
		r, err := storage.Normalize(r)
		if err != nil {
			return nil, storage.Wrap("insert", table, err)
		}
		if r.ID() == "" {
			r["id"] = uuid.NewString()
		}
		if err := s.checkUnique(table, r, existing); err != nil {
			return nil, storage.Wrap("insert", table, err)
		}
		doc, err := json.Marshal(r)
		if err != nil {
			return nil, storage.Wrap("insert", table, err)
		}
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`INSERT INTO leafy_rows (tbl, id, doc) VALUES (?, ?, ?)`), table, r.ID(), string(doc)); err != nil {
			return nil, storage.Wrap("insert", table, uniqueViolation(err))
		}
		existing = append(existing, r)
		stored = append(stored, r)
	}
	if err := tx.Commit(); err != nil {
		return nil, storage.Wrap("insert", table, err)
	}

	events := make([]storage.Event, len(stored))
	commit := s.now().UTC()
	for i, r := range stored {
		events[i] = storage.Event{Kind: storage.EventInsert, Table: table, New: r.Clone(), CommitTime: commit}
	}
	s.dispatch(table, events)
	return cloneAll(stored), nil
}

// Update merges patch into every row matching q. Ordering and limit are ignored.
func (s *Store) Update(ctx context.Context, table string, patch storage.Row, q *storage.Query) ([]storage.Row, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storage.Wrap("update", table, err)
	}
	defer tx.Rollback()

	// Unique keys are checked against the whole table.
	p := s.dialect.plan(q)
	p.order, p.limit = nil, 0
	if len(s.unique[table]) > 0 {
		p = selectPlan{}
	}
	all, err := s.query(ctx, tx, table, p)
	if err != nil {
		return nil, storage.Wrap("update", table, err)
	}
	patch, err = storage.Normalize(patch)
	if err != nil {
		return nil, storage.Wrap("update", table, err)
	}
	delete(patch, "id")

	var (
		updated []storage.Row
		events  []storage.Event
		commit  = s.now().UTC()
	)
	for i, old := range all {
		if !storage.Matches(old, q) {
			continue
		}
		next := old.Clone()
		for k, v := range patch {
			next[k] = v
		}
		if err := s.checkUnique(table, next, all); err != nil {
			return nil, storage.Wrap("update", table, err)
		}
		doc, err := json.Marshal(next)
		if err != nil {
			return nil, storage.Wrap("update", table, err)
		}
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`UPDATE leafy_rows SET doc = ? WHERE tbl = ? AND id = ?`), string(doc), table, next.ID()); err != nil {
			return nil, storage.Wrap("update", table, err)
		}
		all[i] = next
		updated = append(updated, next)
		events = append(events, storage.Event{Kind: storage.EventUpdate, Table: table, New: next.Clone(), Old: old, CommitTime: commit})
	}
	if err := tx.Commit(); err != nil {
		return nil, storage.Wrap("update", table, err)
	}
	s.dispatch(table, events)
	return cloneAll(updated), nil
}

// Delete removes every row matching q.
func (s *Store) Delete(ctx context.Context, table string, q *storage.Query) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Wrap("delete", table, err)
	}
	defer tx.Rollback()

	p := s.dialect.plan(q)
	p.order, p.limit = nil, 0
	all, err := s.query(ctx, tx, table, p)
	if err != nil {
		return storage.Wrap("delete", table, err)
	}
	var events []storage.Event
	commit := s.now().UTC()
	for _, old := range all {
		if !storage.Matches(old, q) {
			continue
		}
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM leafy_rows WHERE tbl = ? AND id = ?`), table, old.ID()); err != nil {
			return storage.Wrap("delete", table, err)
		}
		events = append(events, storage.Event{Kind: storage.EventDelete, Table: table, Old: old, CommitTime: commit})
	}
	if err := tx.Commit(); err != nil {
		return storage.Wrap("delete", table, err)
	}
	s.dispatch(table, events)
	return nil
}

// Subscribe registers handler for changes made through this Store. Writes
// from other processes are not observed.
func (s *Store) Subscribe(_ context.Context, table string, kinds []storage.EventKind, handler storage.Handler) (storage.Subscription, error) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.subs[table] == nil {
		s.subs[table] = make(map[int]*subscriber)
	}
	s.nextSub++
	id := s.nextSub
	s.subs[table][id] = &subscriber{kinds: append([]storage.EventKind(nil), kinds...), handler: handler}
	return storage.SubscriptionFunc(func() error {
		s.subMu.Lock()
		delete(s.subs[table], id)
		s.subMu.Unlock()
		return nil
	}), nil
}

func (s *Store) dispatch(table string, events []storage.Event) {
	if len(events) == 0 {
		return
	}
	s.subMu.RLock()
	ids := make([]int, 0, len(s.subs[table]))
	for id := range s.subs[table] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]*subscriber, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, s.subs[table][id])
	}
	s.subMu.RUnlock()

	for _, e := range events {
		for _, sub := range subs {
			if storage.WantsKind(sub.kinds, e.Kind) {
				sub.handler(e)
			}
		}
	}
}

func (s *Store) checkUnique(table string, row storage.Row, others []storage.Row) error {
	for _, col := range s.unique[table] {
		v, ok := row[col]
		if !ok || v == nil {
			continue
		}
		want := storage.FormatValue(v)
		for _, o := range others {
			if o.ID() == row.ID() {
				continue
			}
			if ov, ok := o[col]; ok && ov != nil && storage.FormatValue(ov) == want {
				return storage.Conflict("duplicate key value violates unique constraint %q", table+"_"+col+"_key")
			}
		}
	}
	return nil
}

// uniqueViolation marks the drivers' unique-key errors as conflicts.
func uniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return storage.MarkConflict(err)
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return storage.MarkConflict(err)
	}
	return err
}

func cloneAll(rows []storage.Row) []storage.Row {
	out := make([]storage.Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}
