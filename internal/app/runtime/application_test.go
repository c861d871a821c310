package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafy-life/cafe/internal/app/domain/alert"
	"github.com/leafy-life/cafe/internal/app/migrations"
	"github.com/leafy-life/cafe/internal/app/services/alerts"
	"github.com/leafy-life/cafe/internal/app/storage"
	"github.com/leafy-life/cafe/internal/config"
	"github.com/leafy-life/cafe/pkg/logger"
)

func testConfig(backend, dsn string) *config.Config {
	cfg := config.New()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Store.Backend = backend
	cfg.Store.DSN = dsn
	cfg.Alerts.Enabled = false
	cfg.Location = "UTC"
	return cfg
}

func TestOpenStoreRejectsUnknownBackend(t *testing.T) {
	_, _, _, err := OpenStore(context.Background(), config.StoreConfig{Backend: "mongo"}, logger.Discard())
	assert.Error(t, err)
}

func TestOpenStoreSupabaseNeedsURL(t *testing.T) {
	_, _, _, err := OpenStore(context.Background(), config.StoreConfig{Backend: config.BackendSupabase}, logger.Discard())
	assert.Error(t, err)
}

func TestSQLiteBackendEndToEnd(t *testing.T) {
	ctx := context.Background()
	rt, err := NewApplication(ctx, testConfig(config.BackendSQLite, ":memory:"), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Shutdown(context.Background()) })

	require.NoError(t, rt.Migrate(ctx))
	// A second run finds everything recorded in the SQL ledger.
	applied, err := rt.App().Migrate(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)

	rules, err := rt.App().Rules.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, rules, len(migrations.DefaultRules()))

	store := rt.App().Store()
	_, err = store.Insert(ctx, storage.TableIngredients, storage.Row{
		"id": "beans", "name": "Beans", "unit": "g", "current_stock": 0.0, "minimum_threshold": 100.0,
	})
	require.NoError(t, err)

	// The rent reminder may also fire depending on today's date.
	report, err := rt.SweepOnce(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, report.Inserted, 1)
	assert.Empty(t, report.FailedRules)

	list, err := rt.App().Alerts.List(ctx, alerts.Filter{OpenOnly: true, Type: alert.TypeLowStock})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Low Stock: Beans", list[0].Title)
	assert.Equal(t, alert.SeverityCritical, list[0].Severity)

	again, err := rt.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Inserted)
}

func TestRunStopsOnCancel(t *testing.T) {
	rt, err := NewApplication(context.Background(), testConfig(config.BackendMemory, ""), logger.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(rt.App().Services()) > 0
	}, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	// Shutdown after Run is a no-op.
	assert.NoError(t, rt.Shutdown(context.Background()))
}
