package liveview

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/leafy-life/cafe/internal/app/storage"
	"github.com/leafy-life/cafe/pkg/logger"
)

// View is an Index kept current by a store subscription.
type View struct {
	*Index

	sub  storage.Subscription
	once sync.Once
}

// Watch subscribes to table, then seeds an index from a select. Events that
// race the select are reconciled by commit time. The snapshot is versioned
// with the local clock at the start of the select.
func Watch(ctx context.Context, store storage.Store, table string, filter *storage.Query, log *logger.Logger) (*View, error) {
	if log == nil {
		log = logger.NewDefault("liveview")
	}
	ix := NewIndex(table, filter)
	sub, err := store.Subscribe(ctx, table, storage.AllEvents, func(ev storage.Event) {
		if ev.Kind == storage.EventResync {
			go reload(store, ix, log)
			return
		}
		if ix.Apply(ev) {
			log.WithField("table", table).
				WithField("kind", string(ev.Kind)).
				WithField("id", ev.RowID()).
				Debug("live view updated")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", table, storage.Wrap("subscribe", table, err))
	}

	asOf := time.Now().UTC()
	rows, err := store.Select(ctx, table, filter)
	if err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("seed %s: %w", table, storage.Wrap("select", table, err))
	}
	ix.Seed(rows, asOf)
	return &View{Index: ix, sub: sub}, nil
}

const reloadTimeout = 30 * time.Second

// reload re-reads the table after the feed reported lost changes.
func reload(store storage.Store, ix *Index, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()

	asOf := time.Now().UTC()
	rows, err := store.Select(ctx, ix.Table(), ix.filter)
	if err != nil {
		log.WithError(err).WithField("table", ix.Table()).Warn("live view reload failed")
		return
	}
	removed := ix.Resync(rows, asOf)
	log.WithField("table", ix.Table()).
		WithField("rows", ix.Len()).
		WithField("removed", removed).
		Info("live view reloaded")
}

// Close stops the subscription. The index keeps its last state.
func (v *View) Close() error {
	var err error
	v.once.Do(func() { err = v.sub.Close() })
	return err
}
