package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafy-life/cafe/internal/app/domain/alert"
	"github.com/leafy-life/cafe/internal/app/storage"
	"github.com/leafy-life/cafe/internal/app/storage/memory"
	"github.com/leafy-life/cafe/pkg/logger"
)

func TestSweeperRunsAtStart(t *testing.T) {
	store := memory.New()
	addRule(t, store, "stock", alert.ConditionStockBelowThreshold, nil)
	addRows(t, store, storage.TableIngredients,
		storage.Row{"id": "milk", "name": "Milk", "current_stock": 1.0, "minimum_threshold": 10.0})

	sweeper := NewSweeper(newEngine(store, at(2026, 10, 19)), "@every 1h", logger.Discard())
	assert.Equal(t, "alert-sweeper", sweeper.Name())
	require.NoError(t, sweeper.Start(context.Background()))
	require.NoError(t, sweeper.Start(context.Background()), "second start is a no-op")

	assert.Eventually(t, func() bool {
		rows, err := store.Select(context.Background(), storage.TableAlerts, nil)
		return err == nil && len(rows) == 1
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sweeper.Stop(ctx))
	require.NoError(t, sweeper.Stop(ctx))
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	sweeper := NewSweeper(newEngine(memory.New(), at(2026, 10, 19)), "every now and then", logger.Discard())
	require.Error(t, sweeper.Start(context.Background()))
	require.NoError(t, sweeper.Stop(context.Background()))
}

func TestNewSweeperDefaults(t *testing.T) {
	sweeper := NewSweeper(NewEngine(memory.New(), nil), "", nil)
	assert.Equal(t, DefaultSchedule, sweeper.schedule)
}
