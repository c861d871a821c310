// Package supabase implements the row store on a hosted Supabase project:
// PostgREST for queries and mutations, Realtime for change notifications.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/leafy-life/cafe/internal/app/storage"
	"github.com/leafy-life/cafe/pkg/logger"
	"github.com/leafy-life/cafe/supabase/client"
)

// Store adapts a Supabase client to storage.Store.
type Store struct {
	rest *client.Client
	log  *logger.Logger

	mu       sync.Mutex
	realtime *client.RealtimeClient
	subs     map[uint64]*subscriber
	nextSub  uint64
}

var _ storage.Store = (*Store)(nil)

// New wraps an existing REST client. Realtime is dialled on first Subscribe.
func New(rest *client.Client, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewDefault("supabase-store")
	}
	return &Store{rest: rest, log: log}
}

func (s *Store) filtered(table string, q *storage.Query) *client.QueryBuilder {
	qb := s.rest.From(table)
	if q == nil {
		return qb
	}
	for _, c := range q.Conditions {
		switch c.Op {
		case storage.OpIn:
			var values []string
			switch list := c.Value.(type) {
			case []string:
				values = list
			case []any:
				for _, v := range list {
					values = append(values, storage.FormatValue(v))
				}
			}
			qb.In(c.Column, values)
		case storage.OpIs:
			if c.Value == nil {
				qb.Is(c.Column, "null")
			} else {
				qb.Not(c.Column, "is", "null")
			}
		default:
			qb.Filter(c.Column, string(c.Op), storage.FormatValue(c.Value))
		}
	}
	return qb
}

func decodeRows(op, table string, resp *client.Response) ([]storage.Row, error) {
	if err := resp.Err(); err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && (apiErr.Code == "23505" || apiErr.StatusCode == http.StatusConflict) {
			err = storage.MarkConflict(err)
		}
		return nil, storage.Wrap(op, table, err)
	}
	if len(resp.Body) == 0 {
		return nil, nil
	}
	var rows []storage.Row
	if err := json.Unmarshal(resp.Body, &rows); err != nil {
		return nil, storage.Wrap(op, table, fmt.Errorf("decode response: %w", err))
	}
	return rows, nil
}

// Select runs q through PostgREST.
func (s *Store) Select(ctx context.Context, table string, q *storage.Query) ([]storage.Row, error) {
	qb := s.filtered(table, q).Select("*")
	if q != nil {
		for _, o := range q.Orders {
			qb.Order(o.Column, o.Ascending)
		}
		if q.Max > 0 {
			qb.Limit(q.Max)
		}
	}
	resp, err := qb.Execute(ctx)
	if err != nil {
		return nil, storage.Wrap("select", table, err)
	}
	rows, err := decodeRows("select", table, resp)
	if rows == nil && err == nil {
		rows = []storage.Row{}
	}
	return rows, err
}

// Insert writes rows, assigning ids client-side so callers can reference them
// before the round trip completes.
func (s *Store) Insert(ctx context.Context, table string, rows ...storage.Row) ([]storage.Row, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	payload := make([]storage.Row, len(rows))
	for i, r := range rows {
		r = r.Clone()
		if r.ID() == "" {
			r["id"] = uuid.NewString()
		}
		payload[i] = r
	}
	resp, err := s.rest.From(table).ExecuteInsert(ctx, payload)
	if err != nil {
		return nil, storage.Wrap("insert", table, err)
	}
	stored, err := decodeRows("insert", table, resp)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return payload, nil
	}
	return stored, nil
}

// Update patches every row matching q.
func (s *Store) Update(ctx context.Context, table string, patch storage.Row, q *storage.Query) ([]storage.Row, error) {
	patch = patch.Clone()
	delete(patch, "id")
	resp, err := s.filtered(table, q).ExecuteUpdate(ctx, patch)
	if err != nil {
		return nil, storage.Wrap("update", table, err)
	}
	return decodeRows("update", table, resp)
}

// Delete removes every row matching q. PostgREST refuses unfiltered deletes,
// so a nil query is rejected here as well.
func (s *Store) Delete(ctx context.Context, table string, q *storage.Query) error {
	if q == nil || len(q.Conditions) == 0 {
		return storage.Wrap("delete", table, fmt.Errorf("delete requires a filter"))
	}
	resp, err := s.filtered(table, q).ExecuteDelete(ctx)
	if err != nil {
		return storage.Wrap("delete", table, err)
	}
	return storage.Wrap("delete", table, resp.Err())
}

func (s *Store) realtimeClient(ctx context.Context) (*client.RealtimeClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.realtime != nil {
		return s.realtime, nil
	}
	rt := client.NewRealtimeClient(s.rest.BaseURL(), s.rest.APIKey())
	rt.OnError(func(err error) {
		s.log.WithError(err).Warn("realtime connection error")
	})
	rt.OnReconnect(s.resync)
	if err := rt.Connect(ctx); err != nil {
		return nil, err
	}
	s.realtime = rt
	return rt, nil
}

// resync tells every subscriber that changes may have been lost while the
// socket was down.
func (s *Store) resync() {
	s.mu.Lock()
	subs := make([]*subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	s.log.WithField("subscriptions", len(subs)).Info("realtime reconnected; resyncing subscribers")
	for _, sub := range subs {
		sub.handler(storage.Event{Kind: storage.EventResync, Table: sub.table})
	}
}

type subscriber struct {
	table   string
	handler storage.Handler
}

// Subscribe joins a Realtime channel for table. Events for kinds outside the
// requested set are dropped before reaching handler. Several subscriptions
// on one table share a channel.
func (s *Store) Subscribe(ctx context.Context, table string, kinds []storage.EventKind, handler storage.Handler) (storage.Subscription, error) {
	rt, err := s.realtimeClient(ctx)
	if err != nil {
		return nil, storage.Wrap("subscribe", table, err)
	}
	cfg := client.PostgresChangesConfig{
		Event:  "*",
		Schema: s.rest.Schema(),
		Table:  table,
	}
	sub, err := rt.SubscribeToPostgresChanges(ctx, cfg, func(change client.Change) {
		event, ok := toEvent(table, change)
		if !ok || !storage.WantsKind(kinds, event.Kind) {
			return
		}
		handler(event)
	})
	if err != nil {
		return nil, storage.Wrap("subscribe", table, err)
	}

	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	if s.subs == nil {
		s.subs = make(map[uint64]*subscriber)
	}
	s.subs[id] = &subscriber{table: table, handler: handler}
	s.mu.Unlock()

	return storage.SubscriptionFunc(func() error {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		return sub.Unsubscribe(context.Background())
	}), nil
}

// Close disconnects the realtime socket if one was opened.
func (s *Store) Close() error {
	s.mu.Lock()
	rt := s.realtime
	s.realtime = nil
	s.subs = nil
	s.mu.Unlock()
	if rt == nil {
		return nil
	}
	return rt.Disconnect()
}

func toEvent(table string, change client.Change) (storage.Event, bool) {
	event := storage.Event{
		Kind:       storage.EventKind(change.Type),
		Table:      table,
		CommitTime: change.CommitTimestamp,
	}
	if len(change.Record) > 0 {
		if err := json.Unmarshal(change.Record, &event.New); err != nil {
			return storage.Event{}, false
		}
	}
	if len(change.OldRecord) > 0 {
		if err := json.Unmarshal(change.OldRecord, &event.Old); err != nil {
			return storage.Event{}, false
		}
	}
	if event.Kind == storage.EventDelete {
		event.New = nil
	}
	return event, event.RowID() != ""
}
