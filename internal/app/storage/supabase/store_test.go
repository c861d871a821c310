package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafy-life/cafe/internal/app/storage"
	"github.com/leafy-life/cafe/pkg/logger"
	"github.com/leafy-life/cafe/supabase/client"
)

type recorded struct {
	method string
	path   string
	query  url.Values
	body   []byte
}

func newTestStore(t *testing.T, status int, response string) (*Store, *[]recorded) {
	t.Helper()
	var calls []recorded
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		calls = append(calls, recorded{method: r.Method, path: r.URL.Path, query: r.URL.Query(), body: body})
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(server.Close)

	rest, err := client.New(client.Config{URL: server.URL, APIKey: "k"})
	require.NoError(t, err)
	return New(rest, logger.Discard()), &calls
}

func TestSelectTranslatesQuery(t *testing.T) {
	store, calls := newTestStore(t, http.StatusOK, `[{"id":"o1","total":120.5}]`)

	q := storage.NewQuery().
		Gte("created_at", "2026-10-01").
		Lt("created_at", "2026-10-02").
		In("id", []string{"o1", "o2"}).
		IsNull("resolved_at").
		NotNull("related_entity_id").
		Eq("is_active", true).
		Order("created_at", false).
		Limit(5)
	rows, err := store.Select(context.Background(), storage.TableOrders, q)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 120.5, rows[0]["total"])

	call := (*calls)[0]
	assert.Equal(t, http.MethodGet, call.method)
	assert.Equal(t, "/rest/v1/orders", call.path)
	assert.Equal(t, []string{"gte.2026-10-01", "lt.2026-10-02"}, call.query["created_at"])
	assert.Equal(t, "in.(o1,o2)", call.query.Get("id"))
	assert.Equal(t, "is.null", call.query.Get("resolved_at"))
	assert.Equal(t, "not.is.null", call.query.Get("related_entity_id"))
	assert.Equal(t, "eq.true", call.query.Get("is_active"))
	assert.Equal(t, "created_at.desc", call.query.Get("order"))
	assert.Equal(t, "5", call.query.Get("limit"))
}

func TestInsertAssignsIDs(t *testing.T) {
	store, calls := newTestStore(t, http.StatusCreated, ``)

	rows, err := store.Insert(context.Background(), storage.TableAlerts, storage.Row{"title": "Rent Due"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotEmpty(t, rows[0].ID())

	var sent []map[string]any
	require.NoError(t, json.Unmarshal((*calls)[0].body, &sent))
	assert.Equal(t, rows[0].ID(), sent[0]["id"])
}

func TestErrorsCarryStoreMessage(t *testing.T) {
	store, _ := newTestStore(t, http.StatusConflict, `{"message":"duplicate key value violates unique constraint"}`)

	_, err := store.Update(context.Background(), storage.TableDailyRevenue, storage.Row{"total_orders": 3}, storage.Where("date", "2026-10-01"))
	require.Error(t, err)
	assert.True(t, storage.IsStoreError(err))
	assert.Contains(t, err.Error(), "duplicate key value violates unique constraint")

	var apiErr *client.APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.True(t, storage.IsConflict(err))

	store, _ = newTestStore(t, http.StatusBadRequest, `{"message":"invalid input syntax","code":"22P02"}`)
	_, err = store.Insert(context.Background(), storage.TableDailyRevenue, storage.Row{"date": "x"})
	require.Error(t, err)
	assert.False(t, storage.IsConflict(err))
}

func TestDeleteRequiresFilter(t *testing.T) {
	store, calls := newTestStore(t, http.StatusNoContent, ``)

	require.Error(t, store.Delete(context.Background(), storage.TableTasks, nil))
	assert.Empty(t, *calls)

	require.NoError(t, store.Delete(context.Background(), storage.TableTasks, storage.Where("id", "t1")))
	assert.Equal(t, http.MethodDelete, (*calls)[0].method)
	assert.Equal(t, "eq.t1", (*calls)[0].query.Get("id"))
}

func TestToEvent(t *testing.T) {
	ts := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	event, ok := toEvent("alerts", client.Change{
		Type:            "DELETE",
		CommitTimestamp: ts,
		Record:          json.RawMessage(`{"id":"a1"}`),
		OldRecord:       json.RawMessage(`{"id":"a1"}`),
	})
	require.True(t, ok)
	assert.Equal(t, storage.EventDelete, event.Kind)
	assert.Nil(t, event.New)
	assert.Equal(t, "a1", event.RowID())
	assert.Equal(t, ts, event.CommitTime)

	_, ok = toEvent("alerts", client.Change{Type: "INSERT", Record: json.RawMessage(`{"title":"x"}`)})
	assert.False(t, ok)
}
