package liveview

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafy-life/cafe/internal/app/storage"
	"github.com/leafy-life/cafe/internal/app/storage/memory"
	"github.com/leafy-life/cafe/pkg/logger"
)

var t0 = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func ev(kind storage.EventKind, id string, at int, fields storage.Row) storage.Event {
	e := storage.Event{Kind: kind, Table: "alerts", CommitTime: t0.Add(time.Duration(at) * time.Second)}
	row := storage.Row{"id": id}
	for k, v := range fields {
		row[k] = v
	}
	if kind == storage.EventDelete {
		e.Old = row
	} else {
		e.New = row
	}
	return e
}

func permutations(events []storage.Event) [][]storage.Event {
	if len(events) <= 1 {
		return [][]storage.Event{events}
	}
	var out [][]storage.Event
	for i := range events {
		rest := make([]storage.Event, 0, len(events)-1)
		rest = append(rest, events[:i]...)
		rest = append(rest, events[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]storage.Event{events[i]}, p...))
		}
	}
	return out
}

func TestApplyIsIdempotent(t *testing.T) {
	ix := NewIndex("alerts", nil)
	insert := ev(storage.EventInsert, "a1", 1, storage.Row{"title": "Low Stock: Milk"})

	assert.True(t, ix.Apply(insert))
	assert.False(t, ix.Apply(insert))
	assert.Equal(t, 1, ix.Len())

	update := ev(storage.EventUpdate, "a1", 2, storage.Row{"title": "Low Stock: Milk", "is_read": true})
	assert.True(t, ix.Apply(update))
	assert.False(t, ix.Apply(update))
	assert.False(t, ix.Apply(insert), "stale insert is ignored")

	row, ok := ix.Get("a1")
	require.True(t, ok)
	assert.Equal(t, true, row["is_read"])

	del := ev(storage.EventDelete, "a1", 3, nil)
	assert.True(t, ix.Apply(del))
	assert.False(t, ix.Apply(del))
	assert.False(t, ix.Apply(update), "tombstone blocks older update")
	assert.Equal(t, 0, ix.Len())
}

func TestApplyIsOrderInsensitive(t *testing.T) {
	cases := map[string]struct {
		events []storage.Event
		want   []storage.Row
	}{
		"insert then update": {
			events: []storage.Event{
				ev(storage.EventInsert, "a1", 1, storage.Row{"v": 1.0}),
				ev(storage.EventUpdate, "a1", 2, storage.Row{"v": 2.0}),
				ev(storage.EventInsert, "a2", 1, storage.Row{"v": 1.0}),
			},
			want: []storage.Row{{"id": "a1", "v": 2.0}, {"id": "a2", "v": 1.0}},
		},
		"deleted": {
			events: []storage.Event{
				ev(storage.EventInsert, "a1", 1, nil),
				ev(storage.EventUpdate, "a1", 2, storage.Row{"v": 2.0}),
				ev(storage.EventDelete, "a1", 3, nil),
			},
			want: []storage.Row{},
		},
		"delete wins a tie": {
			events: []storage.Event{
				ev(storage.EventUpdate, "a1", 2, storage.Row{"v": 2.0}),
				ev(storage.EventDelete, "a1", 2, nil),
			},
			want: []storage.Row{},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			for _, order := range permutations(tc.events) {
				ix := NewIndex("alerts", nil)
				for _, e := range order {
					ix.Apply(e)
				}
				for _, e := range order {
					ix.Apply(e)
				}
				assert.Equal(t, tc.want, ix.Rows())
				assert.Equal(t, len(tc.want), ix.Len())
			}
		})
	}
}

func TestFilterRemovesRowsThatStopMatching(t *testing.T) {
	ix := NewIndex("alerts", storage.NewQuery().IsNull("resolved_at"))
	assert.True(t, ix.Apply(ev(storage.EventInsert, "a1", 1, storage.Row{"resolved_at": nil})))
	assert.True(t, ix.Apply(ev(storage.EventUpdate, "a1", 2, storage.Row{"resolved_at": "2026-10-19T09:00:02Z"})))
	assert.Equal(t, 0, ix.Len())
	assert.False(t, ix.Apply(ev(storage.EventInsert, "a2", 1, storage.Row{"resolved_at": "2026-10-19T09:00:01Z"})))
	assert.False(t, ix.Apply(storage.Event{Kind: storage.EventInsert, Table: "ingredients", New: storage.Row{"id": "x"}}))
	assert.False(t, ix.Apply(storage.Event{Kind: storage.EventInsert, Table: "alerts", New: storage.Row{}}))
}

func TestCompactDropsOldTombstones(t *testing.T) {
	ix := NewIndex("alerts", nil)
	ix.Apply(ev(storage.EventDelete, "a1", 1, nil))
	ix.Apply(ev(storage.EventDelete, "a2", 10, nil))
	assert.Equal(t, 1, ix.Compact(t0.Add(5*time.Second)))
	assert.False(t, ix.Apply(ev(storage.EventInsert, "a2", 5, nil)))
	assert.True(t, ix.Apply(ev(storage.EventInsert, "a1", 0, nil)))
}

func TestSeedKeepsNewerEntries(t *testing.T) {
	ix := NewIndex("alerts", nil)
	ix.Apply(ev(storage.EventUpdate, "a1", 10, storage.Row{"v": 2.0}))
	ix.Seed([]storage.Row{{"id": "a1", "v": 1.0}, {"id": "a2"}}, t0.Add(5*time.Second))
	row, ok := ix.Get("a1")
	require.True(t, ok)
	assert.Equal(t, 2.0, row["v"])
	assert.Equal(t, 2, ix.Len())
}

func TestWatchFollowsStore(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	_, err := store.Insert(ctx, "alerts",
		storage.Row{"id": "a1", "title": "Rent Due", "resolved_at": nil},
		storage.Row{"id": "a2", "title": "Old", "resolved_at": "2026-10-01T00:00:00Z"},
	)
	require.NoError(t, err)

	view, err := Watch(ctx, store, "alerts", storage.NewQuery().IsNull("resolved_at"), logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, 1, view.Len())

	_, err = store.Insert(ctx, "alerts", storage.Row{"id": "a3", "title": "Low Stock: Milk", "resolved_at": nil})
	require.NoError(t, err)
	assert.Equal(t, 2, view.Len())

	_, err = store.Update(ctx, "alerts", storage.Row{"resolved_at": "2026-10-19T10:00:00Z"}, storage.Where("id", "a1"))
	require.NoError(t, err)
	_, ok := view.Get("a1")
	assert.False(t, ok)

	type alertRow struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	var rows []alertRow
	require.NoError(t, view.DecodeInto(&rows))
	assert.Equal(t, []alertRow{{ID: "a3", Title: "Low Stock: Milk"}}, rows)

	require.NoError(t, view.Close())
	require.NoError(t, view.Close())
	_, err = store.Insert(ctx, "alerts", storage.Row{"id": "a4", "resolved_at": nil})
	require.NoError(t, err)
	assert.Equal(t, 1, view.Len())
}

func TestResyncDropsRowsMissingFromReload(t *testing.T) {
	ix := NewIndex("alerts", nil)
	ix.Apply(ev(storage.EventInsert, "a1", 1, storage.Row{"v": 1.0}))
	ix.Apply(ev(storage.EventInsert, "a2", 2, nil))
	ix.Apply(ev(storage.EventInsert, "a3", 20, nil))

	removed := ix.Resync([]storage.Row{{"id": "a1", "v": 2.0}}, t0.Add(10*time.Second))
	assert.Equal(t, 1, removed)

	row, ok := ix.Get("a1")
	require.True(t, ok)
	assert.Equal(t, 2.0, row["v"])
	_, ok = ix.Get("a2")
	assert.False(t, ok)
	_, ok = ix.Get("a3")
	assert.True(t, ok, "rows written after the reload started are kept")
	assert.Equal(t, 2, ix.Len())

	// A stale insert for the removed row cannot bring it back.
	assert.False(t, ix.Apply(ev(storage.EventInsert, "a2", 5, nil)))
}

// gappyStore drops events while paused and lets the test announce a resync,
// the way a reconnecting socket does.
type gappyStore struct {
	*memory.Store
	paused atomic.Bool

	mu       sync.Mutex
	handlers []storage.Handler
}

func (g *gappyStore) Subscribe(ctx context.Context, table string, kinds []storage.EventKind, handler storage.Handler) (storage.Subscription, error) {
	g.mu.Lock()
	g.handlers = append(g.handlers, handler)
	g.mu.Unlock()
	return g.Store.Subscribe(ctx, table, kinds, func(e storage.Event) {
		if !g.paused.Load() {
			handler(e)
		}
	})
}

func (g *gappyStore) resync(table string) {
	g.mu.Lock()
	handlers := append([]storage.Handler(nil), g.handlers...)
	g.mu.Unlock()
	for _, h := range handlers {
		h(storage.Event{Kind: storage.EventResync, Table: table})
	}
}

func TestWatchReloadsAfterResync(t *testing.T) {
	ctx := context.Background()
	store := &gappyStore{Store: memory.New()}
	_, err := store.Insert(ctx, "alerts",
		storage.Row{"id": "a1", "resolved_at": nil},
		storage.Row{"id": "a2", "resolved_at": nil},
	)
	require.NoError(t, err)

	view, err := Watch(ctx, store, "alerts", storage.NewQuery().IsNull("resolved_at"), logger.Discard())
	require.NoError(t, err)
	defer view.Close()
	require.Equal(t, 2, view.Len())

	store.paused.Store(true)
	_, err = store.Insert(ctx, "alerts", storage.Row{"id": "a3", "resolved_at": nil})
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "alerts", storage.Where("id", "a1")))
	store.paused.Store(false)

	_, ok := view.Get("a3")
	require.False(t, ok, "missed while paused")

	store.resync("alerts")
	require.Eventually(t, func() bool {
		_, hasNew := view.Get("a3")
		_, hasDeleted := view.Get("a1")
		return hasNew && !hasDeleted
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, view.Len())
}
