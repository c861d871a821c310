package migrations

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/leafy-life/cafe/internal/app/domain/alert"
	"github.com/leafy-life/cafe/internal/app/domain/order"
	"github.com/leafy-life/cafe/internal/app/domain/settings"
	"github.com/leafy-life/cafe/internal/app/storage"
)

// Builtin returns the migrations every deployment runs, in order.
func Builtin() []Migration {
	return []Migration{
		{
			ID:          "0001_default_settings",
			Description: "seed default app settings",
			Up:          seedSettings,
		},
		{
			ID:          "0002_default_alert_rules",
			Description: "seed default alert rules",
			Up:          seedAlertRules,
		},
		{
			ID:          "0003_payment_breakdown_buckets",
			Description: "normalise daily revenue payment breakdowns",
			Up:          normalisePaymentBreakdowns,
		},
	}
}

// DefaultSettings are written when the key is missing. Values are JSON.
var DefaultSettings = map[string]string{
	settings.KeyMinimumGuaranteeRent: "18000",
	settings.KeyRevenueSharePercent:  "20",
	settings.KeyCafeName:             `"Leafy Life"`,
}

func seedSettings(ctx context.Context, store storage.Store) error {
	rows, err := store.Select(ctx, storage.TableAppSettings, nil)
	if err != nil {
		return storage.Wrap("select", storage.TableAppSettings, err)
	}
	existing := make(map[string]bool, len(rows))
	for _, r := range rows {
		if k, ok := r["key"].(string); ok {
			existing[k] = true
		}
	}
	now := time.Now().UTC()
	for _, key := range []string{settings.KeyMinimumGuaranteeRent, settings.KeyRevenueSharePercent, settings.KeyCafeName} {
		if existing[key] {
			continue
		}
		row := settings.Setting{Key: key, Value: DefaultSettings[key], UpdatedAt: now}
		if err := storage.InsertValue(ctx, store, storage.TableAppSettings, row, nil); err != nil {
			return err
		}
	}
	return nil
}

// DefaultRules are installed on an empty alert_rules table.
func DefaultRules() []alert.Rule {
	rule := func(name string, p alert.Params) alert.Rule {
		raw, _ := json.Marshal(p)
		return alert.Rule{Name: name, Type: string(p.Condition()), Condition: p.Condition(), Parameters: raw, IsActive: true}
	}
	return []alert.Rule{
		rule("Low stock", alert.StockBelowThreshold{}),
		rule("Rent reminder", alert.MonthlyRentDue{DayOfMonth: 1, ReminderDaysBefore: 3}),
		rule("Expiring stock", alert.ExpiryWithinDays{Days: 3}),
		rule("Overdue tasks", alert.TaskOverdue{}),
	}
}

func seedAlertRules(ctx context.Context, store storage.Store) error {
	rows, err := store.Select(ctx, storage.TableAlertRules, storage.NewQuery().Limit(1))
	if err != nil {
		return storage.Wrap("select", storage.TableAlertRules, err)
	}
	if len(rows) > 0 {
		return nil
	}
	now := time.Now().UTC()
	defaults := DefaultRules()
	batch := make([]storage.Row, 0, len(defaults))
	for _, r := range defaults {
		r.CreatedAt = now
		row, err := storage.Encode(r)
		if err != nil {
			return err
		}
		batch = append(batch, row)
	}
	_, err = store.Insert(ctx, storage.TableAlertRules, batch...)
	return storage.Wrap("insert", storage.TableAlertRules, err)
}

// normalisePaymentBreakdowns lowercases payment buckets and adds the
// default ones, merging keys that differ only in case.
func normalisePaymentBreakdowns(ctx context.Context, store storage.Store) error {
	var rows []order.DailyRevenue
	if err := storage.SelectInto(ctx, store, storage.TableDailyRevenue, nil, &rows); err != nil {
		return err
	}
	for _, r := range rows {
		merged := order.NewPaymentBreakdown()
		for k, v := range r.PaymentBreakdown {
			merged[strings.ToLower(strings.TrimSpace(k))] += v
		}
		if sameBreakdown(merged, r.PaymentBreakdown) {
			continue
		}
		if err := storage.UpdateByID(ctx, store, storage.TableDailyRevenue, r.ID, storage.Row{"payment_breakdown": merged}, nil); err != nil {
			return fmt.Errorf("normalise %s: %w", r.Date, err)
		}
	}
	return nil
}

func sameBreakdown(a, b map[string]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}
