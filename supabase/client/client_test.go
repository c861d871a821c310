package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	_, err := New(Config{APIKey: "k"})
	require.Error(t, err)
	_, err = New(Config{URL: "http://x"})
	require.Error(t, err)
}

func TestQueryBuilderExecute(t *testing.T) {
	var got *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		_, _ = w.Write([]byte(`[{"id":"1","name":"Milk"}]`))
	}))
	defer server.Close()

	c, err := New(Config{URL: server.URL, APIKey: "secret"})
	require.NoError(t, err)

	resp, err := c.From("ingredients").
		Select("id,name").
		Eq("is_active", true).
		Gte("current_stock", 0).
		In("id", []string{"a", "b c"}).
		Is("deleted_at", "null").
		Order("name", true).
		Limit(10).
		Execute(context.Background())
	require.NoError(t, err)
	require.NoError(t, resp.Err())

	assert.Equal(t, "/rest/v1/ingredients", got.URL.Path)
	q := got.URL.Query()
	assert.Equal(t, "id,name", q.Get("select"))
	assert.Equal(t, "eq.true", q.Get("is_active"))
	assert.Equal(t, "gte.0", q.Get("current_stock"))
	assert.Equal(t, `in.(a,"b c")`, q.Get("id"))
	assert.Equal(t, "is.null", q.Get("deleted_at"))
	assert.Equal(t, "name.asc", q.Get("order"))
	assert.Equal(t, "10", q.Get("limit"))
	assert.Equal(t, "secret", got.Header.Get("apikey"))
	assert.Equal(t, "Bearer secret", got.Header.Get("Authorization"))

	var rows []map[string]any
	require.NoError(t, resp.JSON(&rows))
	assert.Equal(t, "Milk", rows[0]["name"])
}

func TestQueryBuilderUpsert(t *testing.T) {
	var prefer string
	var query url.Values
	var body []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefer = r.Header.Get("Prefer")
		query = r.URL.Query()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(raw)
	}))
	defer server.Close()

	c, err := New(Config{URL: server.URL, APIKey: "k"})
	require.NoError(t, err)

	resp, err := c.From("daily_revenue").Upsert("date").ExecuteInsert(context.Background(), []map[string]any{{"date": "2026-10-01"}})
	require.NoError(t, err)
	require.NoError(t, resp.Err())
	assert.Equal(t, "resolution=merge-duplicates,return=representation", prefer)
	assert.Equal(t, "date", query.Get("on_conflict"))
	assert.Equal(t, "2026-10-01", body[0]["date"])
}

func TestResponseErr(t *testing.T) {
	resp := &Response{StatusCode: 409, Body: []byte(`{"message":"duplicate key","code":"23505","details":"Key exists"}`)}
	err := resp.Err()
	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, "23505", apiErr.Code)
	assert.Contains(t, err.Error(), "duplicate key (Key exists)")

	resp = &Response{StatusCode: 500, Body: []byte(`oops`)}
	assert.Contains(t, resp.Err().Error(), "Internal Server Error")

	assert.NoError(t, (&Response{StatusCode: 200}).Err())
}

func TestParseChange(t *testing.T) {
	payload := []byte(`{"data":{"type":"UPDATE","schema":"public","table":"alerts",
		"commit_timestamp":"2026-10-01T10:00:00.123Z",
		"record":{"id":"a1","is_read":true},"old_record":{"id":"a1"}},"ids":[1]}`)

	change, ok := ParseChange("realtime:public:alerts", "postgres_changes", payload)
	require.True(t, ok)
	assert.Equal(t, "UPDATE", change.Type)
	assert.Equal(t, "alerts", change.Table)
	assert.Equal(t, 2026, change.CommitTimestamp.Year())
	assert.JSONEq(t, `{"id":"a1","is_read":true}`, string(change.Record))
	assert.JSONEq(t, `{"id":"a1"}`, string(change.OldRecord))

	legacy := []byte(`{"type":"DELETE","table":"tasks","old_record":{"id":"t1"}}`)
	change, ok = ParseChange("realtime:public:tasks", "DELETE", legacy)
	require.True(t, ok)
	assert.Equal(t, "DELETE", change.Type)
	assert.Nil(t, change.Record)

	_, ok = ParseChange("phoenix", "phx_reply", []byte(`{"status":"ok"}`))
	assert.False(t, ok)
}
