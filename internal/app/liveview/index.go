// Package liveview keeps in-memory copies of store tables current through
// change notifications.
//
// Index is a reducer over change events keyed by row id. Every entry carries
// the commit time of the event that produced it, so applying the same event
// twice, or an older event after a newer one, leaves the index unchanged.
// Deletes leave a tombstone so a late insert or update cannot resurrect the
// row.
package liveview

import (
	"sort"
	"sync"
	"time"

	"github.com/leafy-life/cafe/internal/app/storage"
)

type entry struct {
	row     storage.Row
	version time.Time
	deleted bool
}

// Index is the authoritative in-memory state of one table. It is safe for
// concurrent use.
type Index struct {
	table  string
	filter *storage.Query

	mu      sync.RWMutex
	entries map[string]entry
	live    int
}

// NewIndex creates an empty index for table. Rows that do not match filter
// (nil matches all) are held as removed.
func NewIndex(table string, filter *storage.Query) *Index {
	return &Index{table: table, filter: filter, entries: make(map[string]entry)}
}

// Table returns the indexed table.
func (ix *Index) Table() string { return ix.table }

// Apply folds ev into the index and reports whether visible state changed.
func (ix *Index) Apply(ev storage.Event) bool {
	if ev.Table != "" && ev.Table != ix.table {
		return false
	}
	id := ev.RowID()
	if id == "" {
		return false
	}

	removed := ev.Kind == storage.EventDelete
	if !removed && (ev.New == nil || !storage.Matches(ev.New, ix.filter)) {
		removed = true
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	current, known := ix.entries[id]
	if known {
		switch {
		case ev.CommitTime.Before(current.version):
			return false
		case ev.CommitTime.Equal(current.version):
			// Removal wins a tie so the outcome does not depend on arrival order.
			if current.deleted || !removed {
				return false
			}
		}
	}

	if removed {
		ix.entries[id] = entry{version: ev.CommitTime, deleted: true}
		if known && !current.deleted {
			ix.live--
			return true
		}
		return false
	}

	ix.entries[id] = entry{row: ev.New.Clone(), version: ev.CommitTime}
	if !known || current.deleted {
		ix.live++
	}
	return true
}

// Seed loads rows read at asOf. Entries already newer than asOf are kept.
func (ix *Index) Seed(rows []storage.Row, asOf time.Time) {
	for _, r := range rows {
		ix.Apply(storage.Event{Kind: storage.EventInsert, Table: ix.table, New: r, CommitTime: asOf})
	}
}

// Resync replaces the index contents with rows read at asOf, for use after
// the change feed was interrupted. Rows present in the index but missing
// from the read are removed unless an event newer than asOf produced them.
// It returns how many live rows were removed.
func (ix *Index) Resync(rows []storage.Row, asOf time.Time) int {
	seen := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		if id := r.ID(); id != "" {
			seen[id] = struct{}{}
		}
	}
	ix.Seed(rows, asOf)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	removed := 0
	for id, e := range ix.entries {
		if _, ok := seen[id]; ok || e.deleted || e.version.After(asOf) {
			continue
		}
		ix.entries[id] = entry{version: asOf, deleted: true}
		ix.live--
		removed++
	}
	return removed
}

// Get returns a copy of the live row with id.
func (ix *Index) Get(id string) (storage.Row, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.entries[id]
	if !ok || e.deleted {
		return nil, false
	}
	return e.row.Clone(), true
}

// Len counts live rows.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.live
}

// Rows returns copies of the live rows ordered by id.
func (ix *Index) Rows() []storage.Row {
	ix.mu.RLock()
	ids := make([]string, 0, ix.live)
	for id, e := range ix.entries {
		if !e.deleted {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]storage.Row, len(ids))
	for i, id := range ids {
		out[i] = ix.entries[id].row.Clone()
	}
	ix.mu.RUnlock()
	return out
}

// Compact drops tombstones older than cutoff and returns how many went.
func (ix *Index) Compact(cutoff time.Time) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	n := 0
	for id, e := range ix.entries {
		if e.deleted && e.version.Before(cutoff) {
			delete(ix.entries, id)
			n++
		}
	}
	return n
}

// DecodeInto decodes the live rows into out, a pointer to a slice.
func (ix *Index) DecodeInto(out any) error {
	return storage.DecodeRows(ix.Rows(), out)
}
