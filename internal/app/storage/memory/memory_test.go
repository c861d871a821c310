package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafy-life/cafe/internal/app/storage"
)

func TestStore_InsertSelectUpdateDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	inserted, err := s.Insert(ctx, "ingredients",
		storage.Row{"name": "Milk", "current_stock": 10.0},
		storage.Row{"id": "beans", "name": "Beans", "current_stock": 2.0},
	)
	require.NoError(t, err)
	require.Len(t, inserted, 2)
	assert.NotEmpty(t, inserted[0].ID())
	assert.Equal(t, "beans", inserted[1].ID())

	low, err := s.Select(ctx, "ingredients", storage.NewQuery().Lte("current_stock", 5))
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "Beans", low[0]["name"])

	updated, err := s.Update(ctx, "ingredients", storage.Row{"current_stock": 8.0}, storage.Where("id", "beans"))
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, 8.0, updated[0]["current_stock"])

	require.NoError(t, s.Delete(ctx, "ingredients", storage.Where("id", "beans")))
	all, err := s.Select(ctx, "ingredients", nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_SelectReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Insert(ctx, "orders", storage.Row{"id": "o1", "items": []any{map[string]any{"quantity": 1.0}}})
	require.NoError(t, err)

	rows, err := s.Select(ctx, "orders", nil)
	require.NoError(t, err)
	rows[0]["items"].([]any)[0].(map[string]any)["quantity"] = 99.0

	again, err := s.Select(ctx, "orders", nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, again[0]["items"].([]any)[0].(map[string]any)["quantity"])
}

func TestStore_UniqueKeys(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Insert(ctx, storage.TableDailyRevenue, storage.Row{"date": "2026-10-01"})
	require.NoError(t, err)

	_, err = s.Insert(ctx, storage.TableDailyRevenue, storage.Row{"date": "2026-10-01"})
	require.Error(t, err)
	assert.True(t, storage.IsStoreError(err))

	_, err = s.Insert(ctx, storage.TableDailyRevenue, storage.Row{"id": "x"}, storage.Row{"id": "x"})
	require.Error(t, err)
}

func TestStore_OrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, d := range []string{"2026-10-03", "2026-10-01", "2026-10-02"} {
		_, err := s.Insert(ctx, "daily_revenue", storage.Row{"date": d})
		require.NoError(t, err)
	}
	rows, err := s.Select(ctx, "daily_revenue", storage.NewQuery().Order("date", false).Limit(2))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2026-10-03", rows[0]["date"])
	assert.Equal(t, "2026-10-02", rows[1]["date"])
}

func TestStore_SubscribeDeliversEvents(t *testing.T) {
	ctx := context.Background()
	s := New()

	var got []storage.Event
	sub, err := s.Subscribe(ctx, "alerts", []storage.EventKind{storage.EventInsert, storage.EventDelete}, func(ev storage.Event) {
		got = append(got, ev)
	})
	require.NoError(t, err)

	_, err = s.Insert(ctx, "alerts", storage.Row{"id": "a1"})
	require.NoError(t, err)
	_, err = s.Update(ctx, "alerts", storage.Row{"is_read": true}, storage.Where("id", "a1"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "alerts", storage.Where("id", "a1")))

	require.Len(t, got, 2)
	assert.Equal(t, storage.EventInsert, got[0].Kind)
	assert.Equal(t, storage.EventDelete, got[1].Kind)
	assert.Equal(t, "a1", got[1].RowID())
	assert.True(t, got[1].CommitTime.After(got[0].CommitTime))

	require.NoError(t, sub.Close())
	_, err = s.Insert(ctx, "alerts", storage.Row{"id": "a2"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestStore_FailOn(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.FailOn("insert", "orders", errors.New("connection reset"))

	_, err := s.Insert(ctx, "orders", storage.Row{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	s.ClearFailures()
	_, err = s.Insert(ctx, "orders", storage.Row{})
	require.NoError(t, err)
}
