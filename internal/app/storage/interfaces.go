// Package storage defines the row store every service persists through.
//
// The store is a generic tabular service: filtered queries, inserts, updates,
// deletes and a change-notification subscription per table. Backends live in
// the memory, sqlstore and supabase subpackages.
package storage

import (
	"context"
	"time"
)

// Row is one record keyed by snake_case column name.
type Row map[string]any

// ID returns the row's "id" column as a string, or "" when absent.
func (r Row) ID() string {
	if r == nil {
		return ""
	}
	if id, ok := r["id"].(string); ok {
		return id
	}
	return ""
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// EventKind identifies the mutation carried by a change notification.
type EventKind string

const (
	EventInsert EventKind = "INSERT"
	EventUpdate EventKind = "UPDATE"
	EventDelete EventKind = "DELETE"
	// EventResync carries no row. It tells the subscriber that the feed was
	// interrupted and changes may have been missed; state built from earlier
	// events should be reloaded. It is delivered whatever kinds were asked for.
	EventResync EventKind = "RESYNC"
)

// AllEvents subscribes to every mutation kind.
var AllEvents = []EventKind{EventInsert, EventUpdate, EventDelete}

// Event is a change notification. New is nil for deletes; Old may be nil when
// the backend does not report previous values.
type Event struct {
	Kind       EventKind
	Table      string
	New        Row
	Old        Row
	CommitTime time.Time
}

// RowID returns the id of the row the event refers to.
func (e Event) RowID() string {
	if id := e.New.ID(); id != "" {
		return id
	}
	return e.Old.ID()
}

// Handler consumes change notifications. The memory and SQL stores call it on
// the writer's goroutine after the write commits; Supabase calls it from the
// socket reader. Handlers must not block and must tolerate duplicates and
// out-of-order delivery.
type Handler func(Event)

// Subscription is an active change feed.
type Subscription interface {
	Close() error
}

// Store is the row store contract.
type Store interface {
	// Select returns rows of table matching q. A nil query selects everything.
	Select(ctx context.Context, table string, q *Query) ([]Row, error)
	// Insert writes rows and returns them as stored (ids assigned when absent).
	Insert(ctx context.Context, table string, rows ...Row) ([]Row, error)
	// Update merges patch into every row matching q and returns the updated rows.
	Update(ctx context.Context, table string, patch Row, q *Query) ([]Row, error)
	// Delete removes every row matching q.
	Delete(ctx context.Context, table string, q *Query) error
	// Subscribe registers handler for the given event kinds on table.
	Subscribe(ctx context.Context, table string, kinds []EventKind, handler Handler) (Subscription, error)
}

// SubscriptionFunc adapts a close function to the Subscription interface.
type SubscriptionFunc func() error

func (f SubscriptionFunc) Close() error {
	if f == nil {
		return nil
	}
	return f()
}

// WantsKind reports whether kinds includes k. An empty list means all kinds.
func WantsKind(kinds []EventKind, k EventKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}
