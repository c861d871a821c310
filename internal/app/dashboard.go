package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/leafy-life/cafe/internal/app/domain/alert"
	"github.com/leafy-life/cafe/internal/app/domain/calendar"
	"github.com/leafy-life/cafe/internal/app/domain/inventory"
	"github.com/leafy-life/cafe/internal/app/domain/order"
	"github.com/leafy-life/cafe/internal/app/liveview"
	"github.com/leafy-life/cafe/internal/app/storage"
)

const recentAlertLimit = 5

// Dashboard is the at-a-glance summary shown on the home screen.
type Dashboard struct {
	GeneratedAt      time.Time              `json:"generated_at"`
	Date             string                 `json:"date"`
	OpenAlerts       int                    `json:"open_alerts"`
	UnreadAlerts     int                    `json:"unread_alerts"`
	AlertsBySeverity map[string]int         `json:"alerts_by_severity"`
	RecentAlerts     []alert.Alert          `json:"recent_alerts"`
	LowStock         []inventory.Ingredient `json:"low_stock"`
	Today            order.DailyRevenue     `json:"today"`
}

// Dashboard summarises open alerts, low stock and today's revenue. Alerts
// and ingredients come from the live views while they run; before Start the
// store is read directly.
func (a *Application) Dashboard(ctx context.Context) (Dashboard, error) {
	now := time.Now().In(a.loc)
	alertsIx, ingredientsIx := a.views.snapshot()
	if alertsIx == nil {
		var err error
		if alertsIx, err = a.loadIndex(ctx, storage.TableAlerts, openAlertsFilter()); err != nil {
			return Dashboard{}, err
		}
		if ingredientsIx, err = a.loadIndex(ctx, storage.TableIngredients, nil); err != nil {
			return Dashboard{}, err
		}
	}

	var open []alert.Alert
	if err := alertsIx.DecodeInto(&open); err != nil {
		return Dashboard{}, fmt.Errorf("decode alerts: %w", err)
	}
	var ingredients []inventory.Ingredient
	if err := ingredientsIx.DecodeInto(&ingredients); err != nil {
		return Dashboard{}, fmt.Errorf("decode ingredients: %w", err)
	}

	d := Dashboard{
		GeneratedAt: now.UTC(),
		Date:        calendar.Format(now),
		OpenAlerts:  len(open),
		AlertsBySeverity: map[string]int{
			alert.SeverityCritical: 0,
			alert.SeverityHigh:     0,
			alert.SeverityMedium:   0,
			alert.SeverityLow:      0,
		},
		LowStock: []inventory.Ingredient{},
	}
	for _, al := range open {
		if !al.IsRead {
			d.UnreadAlerts++
		}
		d.AlertsBySeverity[al.Severity]++
	}
	sort.SliceStable(open, func(i, j int) bool { return open[i].CreatedAt.After(open[j].CreatedAt) })
	if len(open) > recentAlertLimit {
		open = open[:recentAlertLimit]
	}
	d.RecentAlerts = open

	for _, ing := range ingredients {
		if ing.IsLow() {
			d.LowStock = append(d.LowStock, ing)
		}
	}
	sort.Slice(d.LowStock, func(i, j int) bool { return d.LowStock[i].Name < d.LowStock[j].Name })

	today, err := a.Orders.DailyRevenue(ctx, d.Date)
	switch {
	case err == nil:
		d.Today = today
	case errors.Is(err, storage.ErrNotFound):
		d.Today = order.DailyRevenue{Date: d.Date, PaymentBreakdown: order.NewPaymentBreakdown()}
	default:
		return Dashboard{}, fmt.Errorf("load today's revenue: %w", err)
	}
	return d, nil
}

func (a *Application) loadIndex(ctx context.Context, table string, filter *storage.Query) (*liveview.Index, error) {
	started := time.Now().UTC()
	rows, err := a.store.Select(ctx, table, filter)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", table, storage.Wrap("select", table, err))
	}
	ix := liveview.NewIndex(table, filter)
	ix.Seed(rows, started)
	return ix, nil
}
