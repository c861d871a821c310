package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/leafy-life/cafe/internal/app/domain/alert"
	"github.com/leafy-life/cafe/internal/app/domain/calendar"
	"github.com/leafy-life/cafe/internal/app/domain/expense"
	"github.com/leafy-life/cafe/internal/app/domain/inventory"
	"github.com/leafy-life/cafe/internal/app/domain/order"
	"github.com/leafy-life/cafe/internal/app/domain/task"
	"github.com/leafy-life/cafe/internal/app/storage"
)

// Related entity kinds recorded on alerts.
const (
	EntityIngredient   = "ingredient"
	EntityRent         = "rent"
	EntityDailyRevenue = "daily_revenue"
	EntityExpenses     = "expenses"
	EntityTask         = "task"
)

func newAlert(typ, severity, title, description, entityType, entityID string) alert.Alert {
	a := alert.Alert{Type: typ, Severity: severity, Title: title, Description: description}
	if entityID != "" {
		a.RelatedEntityID = &entityID
		a.RelatedEntityType = &entityType
	}
	return a
}

func amount(v float64) string {
	return decimal.NewFromFloat(v).Round(2).String()
}

func (e *Engine) ingredients(ctx context.Context) ([]inventory.Ingredient, error) {
	var out []inventory.Ingredient
	if err := storage.SelectInto(ctx, e.store, storage.TableIngredients, storage.NewQuery().Order("name", true), &out); err != nil {
		return nil, fmt.Errorf("load ingredients: %w", err)
	}
	return out, nil
}

func (e *Engine) checkLowStock(ctx context.Context) ([]alert.Alert, error) {
	items, err := e.ingredients(ctx)
	if err != nil {
		return nil, err
	}
	var out []alert.Alert
	for _, ing := range items {
		if !ing.IsLow() {
			continue
		}
		severity := alert.SeverityMedium
		switch {
		case ing.CurrentStock == 0:
			severity = alert.SeverityCritical
		case ing.CurrentStock <= ing.MinimumThreshold*0.5:
			severity = alert.SeverityHigh
		}
		desc := fmt.Sprintf("%s is at %s %s, minimum is %s %s",
			ing.Name, amount(ing.CurrentStock), ing.Unit, amount(ing.MinimumThreshold), ing.Unit)
		out = append(out, newAlert(alert.TypeLowStock, severity, "Low Stock: "+ing.Name, desc, EntityIngredient, ing.ID))
	}
	return out, nil
}

// checkRentDue fires from reminderDaysBefore days ahead up to the due day of
// the current month. Days past the due day never fire, and the check does
// not look into the next month.
func checkRentDue(p alert.MonthlyRentDue, today time.Time) []alert.Alert {
	month := calendar.MonthOf(today)
	due := p.DayOfMonth
	if due > month.Days() {
		due = month.Days()
	}
	if today.Day() > due {
		return nil
	}
	daysUntil := due - today.Day()
	if daysUntil > p.ReminderDaysBefore {
		return nil
	}
	severity := alert.SeverityMedium
	desc := fmt.Sprintf("Rent for %s is due in %d day(s), on day %d", month.Key(), daysUntil, due)
	if daysUntil == 0 {
		severity = alert.SeverityHigh
		desc = fmt.Sprintf("Rent for %s is due today", month.Key())
	}
	return []alert.Alert{newAlert(alert.TypeRentDue, severity, "Rent Due", desc, EntityRent, month.Key())}
}

// yesterday loads the rollup of the day before today. A missing row means
// nothing was sold or recorded, and the revenue rules stay quiet.
func (e *Engine) yesterday(ctx context.Context, today time.Time) (order.DailyRevenue, bool, error) {
	date := calendar.Format(today.AddDate(0, 0, -1))
	var rows []order.DailyRevenue
	if err := storage.SelectInto(ctx, e.store, storage.TableDailyRevenue, storage.Where("date", date).Limit(1), &rows); err != nil {
		return order.DailyRevenue{}, false, fmt.Errorf("load revenue of %s: %w", date, err)
	}
	if len(rows) == 0 {
		return order.DailyRevenue{}, false, nil
	}
	return rows[0], true, nil
}

func (e *Engine) checkRevenueBelow(ctx context.Context, p alert.DailyRevenueBelow, today time.Time) ([]alert.Alert, error) {
	rev, ok, err := e.yesterday(ctx, today)
	if err != nil || !ok {
		return nil, err
	}
	if rev.TotalSales >= p.Amount {
		return nil, nil
	}
	severity := alert.SeverityMedium
	if rev.TotalSales < p.Amount/2 {
		severity = alert.SeverityHigh
	}
	desc := fmt.Sprintf("Sales on %s were %s, below the target of %s", rev.Date, amount(rev.TotalSales), amount(p.Amount))
	return []alert.Alert{newAlert(alert.TypeRevenueThreshold, severity, "Low Revenue Yesterday", desc, EntityDailyRevenue, rev.Date)}, nil
}

func (e *Engine) checkRevenueAbove(ctx context.Context, p alert.DailyRevenueAbove, today time.Time) ([]alert.Alert, error) {
	rev, ok, err := e.yesterday(ctx, today)
	if err != nil || !ok {
		return nil, err
	}
	if rev.TotalSales <= p.Amount {
		return nil, nil
	}
	desc := fmt.Sprintf("Sales on %s reached %s, above the target of %s", rev.Date, amount(rev.TotalSales), amount(p.Amount))
	return []alert.Alert{newAlert(alert.TypeRevenueMilestone, alert.SeverityLow, "Great Revenue Day", desc, EntityDailyRevenue, rev.Date)}, nil
}

func (e *Engine) checkExpenses(ctx context.Context, p alert.ExpenseExceedsBudget, today time.Time) ([]alert.Alert, error) {
	month := calendar.MonthOf(today)
	first, last := month.Range()
	var expenses []expense.Expense
	q := storage.NewQuery().Gte("date", first).Lte("date", last)
	if err := storage.SelectInto(ctx, e.store, storage.TableExpenses, q, &expenses); err != nil {
		return nil, fmt.Errorf("load expenses: %w", err)
	}
	total := decimal.Zero
	for _, exp := range expenses {
		total = total.Add(decimal.NewFromFloat(exp.Amount))
	}
	budget := decimal.NewFromFloat(p.MonthlyBudget)
	spent := total.InexactFloat64()

	switch {
	case total.GreaterThan(budget):
		severity := alert.SeverityHigh
		if total.GreaterThan(budget.Mul(decimal.RequireFromString("1.2"))) {
			severity = alert.SeverityCritical
		}
		desc := fmt.Sprintf("Expenses for %s are %s against a budget of %s", month.Key(), amount(spent), amount(p.MonthlyBudget))
		return []alert.Alert{newAlert(alert.TypeHighExpense, severity, "Monthly Budget Exceeded", desc, EntityExpenses, month.Key())}, nil
	case total.GreaterThan(budget.Mul(decimal.RequireFromString("0.8"))):
		pct := total.Div(budget).Mul(decimal.NewFromInt(100)).Round(0).String()
		desc := fmt.Sprintf("Expenses for %s are %s, %s%% of the %s budget", month.Key(), amount(spent), pct, amount(p.MonthlyBudget))
		return []alert.Alert{newAlert(alert.TypeHighExpense, alert.SeverityMedium, "Approaching Monthly Budget", desc, EntityExpenses, month.Key())}, nil
	}
	return nil, nil
}

func (e *Engine) checkExpiry(ctx context.Context, p alert.ExpiryWithinDays, today time.Time) ([]alert.Alert, error) {
	items, err := e.ingredients(ctx)
	if err != nil {
		return nil, err
	}
	var out []alert.Alert
	for _, ing := range items {
		if ing.ExpiryDate == nil || *ing.ExpiryDate == "" {
			continue
		}
		expiry, err := calendar.Parse(*ing.ExpiryDate, today.Location())
		if err != nil {
			e.log.WithError(err).WithField("ingredient_id", ing.ID).Debug("skipping unparsable expiry date")
			continue
		}
		days := calendar.DaysBetween(today, expiry)
		switch {
		case days < 0:
			desc := fmt.Sprintf("%s expired %d day(s) ago", ing.Name, -days)
			out = append(out, newAlert(alert.TypeExpiryWarning, alert.SeverityCritical, "Expired: "+ing.Name, desc, EntityIngredient, ing.ID))
		case days <= p.Days:
			severity := alert.SeverityMedium
			if days <= 1 {
				severity = alert.SeverityHigh
			}
			desc := fmt.Sprintf("%s expires in %d day(s)", ing.Name, days)
			if days == 0 {
				desc = ing.Name + " expires today"
			}
			out = append(out, newAlert(alert.TypeExpiryWarning, severity, "Expiring Soon: "+ing.Name, desc, EntityIngredient, ing.ID))
		}
	}
	return out, nil
}

func (e *Engine) checkTasks(ctx context.Context, today time.Time) ([]alert.Alert, error) {
	var tasks []task.Task
	q := storage.NewQuery().Neq("status", task.StatusCompleted).NotNull("due_date")
	if err := storage.SelectInto(ctx, e.store, storage.TableTasks, q, &tasks); err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	var out []alert.Alert
	for _, t := range tasks {
		if !t.IsOpen() || t.DueDate == nil {
			continue
		}
		due, err := calendar.Parse(*t.DueDate, today.Location())
		if err != nil {
			e.log.WithError(err).WithField("task_id", t.ID).Debug("skipping unparsable due date")
			continue
		}
		late := calendar.DaysBetween(due, today)
		switch {
		case late > 0:
			severity := alert.SeverityMedium
			switch {
			case t.Priority == task.PriorityUrgent || late > 3:
				severity = alert.SeverityCritical
			case t.Priority == task.PriorityHigh || late > 1:
				severity = alert.SeverityHigh
			}
			desc := fmt.Sprintf("%s was due on %s, %d day(s) ago", t.Title, calendar.Format(due), late)
			out = append(out, newAlert(alert.TypeTaskOverdue, severity, "Task Overdue: "+t.Title, desc, EntityTask, t.ID))
		case late == 0:
			severity := alert.SeverityLow
			if t.Priority == task.PriorityUrgent {
				severity = alert.SeverityHigh
			}
			desc := fmt.Sprintf("%s is due today", t.Title)
			out = append(out, newAlert(alert.TypeTaskDueToday, severity, "Task Due Today: "+t.Title, desc, EntityTask, t.ID))
		}
	}
	return out, nil
}
