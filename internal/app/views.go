package app

import (
	"context"
	"sync"
	"time"

	"github.com/leafy-life/cafe/internal/app/liveview"
	"github.com/leafy-life/cafe/internal/app/storage"
	"github.com/leafy-life/cafe/internal/app/system"
	"github.com/leafy-life/cafe/pkg/logger"
)

const (
	tombstoneTTL    = time.Hour
	compactInterval = 10 * time.Minute
)

var _ system.Service = (*liveViews)(nil)

// liveViews keeps the open alerts and the ingredient list in memory for the
// dashboard.
type liveViews struct {
	store storage.Store
	log   *logger.Logger

	mu          sync.RWMutex
	alerts      *liveview.View
	ingredients *liveview.View
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

func newLiveViews(store storage.Store, log *logger.Logger) *liveViews {
	return &liveViews{store: store, log: log}
}

func openAlertsFilter() *storage.Query { return storage.NewQuery().IsNull("resolved_at") }

func (v *liveViews) Name() string { return "live-views" }

func (v *liveViews) Start(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.alerts != nil {
		return nil
	}

	alertsView, err := liveview.Watch(ctx, v.store, storage.TableAlerts, openAlertsFilter(), v.log)
	if err != nil {
		return err
	}
	ingredientsView, err := liveview.Watch(ctx, v.store, storage.TableIngredients, nil, v.log)
	if err != nil {
		_ = alertsView.Close()
		return err
	}
	v.alerts, v.ingredients = alertsView, ingredientsView

	runCtx, cancel := context.WithCancel(context.Background())
	v.cancel = cancel
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		ticker := time.NewTicker(compactInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case now := <-ticker.C:
				cutoff := now.Add(-tombstoneTTL)
				n := alertsView.Compact(cutoff) + ingredientsView.Compact(cutoff)
				if n > 0 {
					v.log.WithField("tombstones", n).Debug("live views compacted")
				}
			}
		}
	}()

	v.log.WithField("alerts", alertsView.Len()).
		WithField("ingredients", ingredientsView.Len()).
		Info("live views seeded")
	return nil
}

func (v *liveViews) Stop(context.Context) error {
	v.mu.Lock()
	alertsView, ingredientsView, cancel := v.alerts, v.ingredients, v.cancel
	v.alerts, v.ingredients, v.cancel = nil, nil, nil
	v.mu.Unlock()
	if alertsView == nil {
		return nil
	}

	cancel()
	v.wg.Wait()
	if err := alertsView.Close(); err != nil {
		v.log.WithError(err).Warn("close alerts view")
	}
	if err := ingredientsView.Close(); err != nil {
		v.log.WithError(err).Warn("close ingredients view")
	}
	return nil
}

// snapshot returns the live indexes, or nil ones when not running.
func (v *liveViews) snapshot() (*liveview.Index, *liveview.Index) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.alerts == nil {
		return nil, nil
	}
	return v.alerts.Index, v.ingredients.Index
}
