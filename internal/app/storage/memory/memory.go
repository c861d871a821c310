// Package memory is an in-process implementation of the row store. It is safe
// for concurrent use and is intended for tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leafy-life/cafe/internal/app/storage"
)

// Store keeps every table in maps guarded by a single lock. Change handlers
// run synchronously on the mutating goroutine after the lock is released.
type Store struct {
	mu         sync.RWMutex
	tables     map[string]*table
	unique     map[string][]string
	subs       map[string]map[int]*subscriber
	nextSub    int
	failures   map[string]error
	lastCommit time.Time
	now        func() time.Time
}

type table struct {
	rows  map[string]storage.Row
	order []string
}

type subscriber struct {
	kinds   []storage.EventKind
	handler storage.Handler
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store with the unique keys of the hosted schema.
func New() *Store {
	return &Store{
		tables: make(map[string]*table),
		unique: map[string][]string{
			storage.TableDailyRevenue: {"date"},
			storage.TableAppSettings:  {"key"},
		},
		subs:     make(map[string]map[int]*subscriber),
		failures: make(map[string]error),
		now:      time.Now,
	}
}

// FailOn makes every op ("select", "insert", "update", "delete") on table
// return err until ClearFailures is called.
func (s *Store) FailOn(op, table string, err error) {
	s.mu.Lock()
	s.failures[op+":"+table] = err
	s.mu.Unlock()
}

// ClearFailures removes all injected failures.
func (s *Store) ClearFailures() {
	s.mu.Lock()
	s.failures = make(map[string]error)
	s.mu.Unlock()
}

func (s *Store) failureLocked(op, tbl string) error {
	if err, ok := s.failures[op+":"+tbl]; ok {
		return &storage.Error{Op: op, Table: tbl, Err: err}
	}
	return nil
}

func (s *Store) tableLocked(name string) *table {
	t, ok := s.tables[name]
	if !ok {
		t = &table{rows: make(map[string]storage.Row)}
		s.tables[name] = t
	}
	return t
}

func (s *Store) commitTimeLocked() time.Time {
	now := s.now().UTC()
	if !now.After(s.lastCommit) {
		now = s.lastCommit.Add(time.Nanosecond)
	}
	s.lastCommit = now
	return now
}

func (s *Store) Select(_ context.Context, tbl string, q *storage.Query) ([]storage.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.failureLocked("select", tbl); err != nil {
		return nil, err
	}
	t, ok := s.tables[tbl]
	if !ok {
		return []storage.Row{}, nil
	}
	all := make([]storage.Row, 0, len(t.order))
	for _, id := range t.order {
		all = append(all, t.rows[id])
	}
	matched := storage.Apply(all, q)
	out := make([]storage.Row, len(matched))
	for i, r := range matched {
		out[i] = deepCopyRow(r)
	}
	return out, nil
}

func (s *Store) Insert(_ context.Context, tbl string, rows ...storage.Row) ([]storage.Row, error) {
	s.mu.Lock()
	if err := s.failureLocked("insert", tbl); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	t := s.tableLocked(tbl)

	prepared := make([]storage.Row, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		row, err := storage.Normalize(r)
		if err != nil {
			s.mu.Unlock()
			return nil, &storage.Error{Op: "insert", Table: tbl, Err: err}
		}
		if row.ID() == "" {
			row["id"] = uuid.NewString()
		}
		id := row.ID()
		if _, exists := t.rows[id]; exists || seen[id] {
			s.mu.Unlock()
			return nil, &storage.Error{Op: "insert", Table: tbl, Err: storage.Conflict("duplicate key value violates unique constraint: id=%s", id)}
		}
		if err := s.checkUniqueLocked(tbl, t, row, "", prepared); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		seen[id] = true
		prepared = append(prepared, row)
	}

	commit := s.commitTimeLocked()
	events := make([]storage.Event, 0, len(prepared))
	out := make([]storage.Row, 0, len(prepared))
	for _, row := range prepared {
		t.rows[row.ID()] = row
		t.order = append(t.order, row.ID())
		out = append(out, deepCopyRow(row))
		events = append(events, storage.Event{Kind: storage.EventInsert, Table: tbl, New: deepCopyRow(row), CommitTime: commit})
	}
	handlers := s.handlersLocked(tbl)
	s.mu.Unlock()

	dispatch(handlers, events)
	return out, nil
}

func (s *Store) Update(_ context.Context, tbl string, patch storage.Row, q *storage.Query) ([]storage.Row, error) {
	s.mu.Lock()
	if err := s.failureLocked("update", tbl); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	t := s.tableLocked(tbl)
	patch, err := storage.Normalize(patch)
	if err != nil {
		s.mu.Unlock()
		return nil, &storage.Error{Op: "update", Table: tbl, Err: err}
	}

	type change struct{ old, updated storage.Row }
	var changes []change
	for _, id := range t.order {
		current := t.rows[id]
		if !storage.Matches(current, q) {
			continue
		}
		updated := deepCopyRow(current)
		for k, v := range deepCopyRow(patch) {
			if k == "id" {
				continue
			}
			updated[k] = v
		}
		if err := s.checkUniqueLocked(tbl, t, updated, id, nil); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		changes = append(changes, change{old: current, updated: updated})
	}

	commit := s.commitTimeLocked()
	out := make([]storage.Row, 0, len(changes))
	events := make([]storage.Event, 0, len(changes))
	for _, c := range changes {
		t.rows[c.updated.ID()] = c.updated
		out = append(out, deepCopyRow(c.updated))
		events = append(events, storage.Event{
			Kind: storage.EventUpdate, Table: tbl,
			New: deepCopyRow(c.updated), Old: deepCopyRow(c.old), CommitTime: commit,
		})
	}
	handlers := s.handlersLocked(tbl)
	s.mu.Unlock()

	dispatch(handlers, events)
	return out, nil
}

func (s *Store) Delete(_ context.Context, tbl string, q *storage.Query) error {
	s.mu.Lock()
	if err := s.failureLocked("delete", tbl); err != nil {
		s.mu.Unlock()
		return err
	}
	t := s.tableLocked(tbl)

	commit := s.commitTimeLocked()
	var events []storage.Event
	kept := t.order[:0]
	for _, id := range t.order {
		row := t.rows[id]
		if storage.Matches(row, q) {
			delete(t.rows, id)
			events = append(events, storage.Event{Kind: storage.EventDelete, Table: tbl, Old: deepCopyRow(row), CommitTime: commit})
			continue
		}
		kept = append(kept, id)
	}
	t.order = kept
	handlers := s.handlersLocked(tbl)
	s.mu.Unlock()

	dispatch(handlers, events)
	return nil
}

func (s *Store) Subscribe(_ context.Context, tbl string, kinds []storage.EventKind, handler storage.Handler) (storage.Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSub++
	id := s.nextSub
	if s.subs[tbl] == nil {
		s.subs[tbl] = make(map[int]*subscriber)
	}
	s.subs[tbl][id] = &subscriber{kinds: append([]storage.EventKind(nil), kinds...), handler: handler}

	return storage.SubscriptionFunc(func() error {
		s.mu.Lock()
		delete(s.subs[tbl], id)
		s.mu.Unlock()
		return nil
	}), nil
}

func (s *Store) handlersLocked(tbl string) []*subscriber {
	subs := s.subs[tbl]
	if len(subs) == 0 {
		return nil
	}
	ids := make([]int, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]*subscriber, 0, len(ids))
	for _, id := range ids {
		out = append(out, subs[id])
	}
	return out
}

func (s *Store) checkUniqueLocked(tbl string, t *table, row storage.Row, selfID string, pending []storage.Row) error {
	for _, col := range s.unique[tbl] {
		value, ok := row[col]
		if !ok || value == nil {
			continue
		}
		key := storage.FormatValue(value)
		for id, existing := range t.rows {
			if id == selfID {
				continue
			}
			if v, ok := existing[col]; ok && v != nil && storage.FormatValue(v) == key {
				return &storage.Error{Op: "insert", Table: tbl, Err: storage.Conflict("duplicate key value violates unique constraint: %s=%s", col, key)}
			}
		}
		for _, p := range pending {
			if v, ok := p[col]; ok && v != nil && storage.FormatValue(v) == key {
				return &storage.Error{Op: "insert", Table: tbl, Err: storage.Conflict("duplicate key value violates unique constraint: %s=%s", col, key)}
			}
		}
	}
	return nil
}

func dispatch(subs []*subscriber, events []storage.Event) {
	for _, ev := range events {
		for _, sub := range subs {
			if storage.WantsKind(sub.kinds, ev.Kind) {
				sub.handler(ev)
			}
		}
	}
}

func deepCopyRow(r storage.Row) storage.Row {
	if r == nil {
		return nil
	}
	out := make(storage.Row, len(r))
	for k, v := range r {
		out[k] = deepCopy(v)
	}
	return out
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case storage.Row:
		return deepCopyRow(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	}
	return v
}
