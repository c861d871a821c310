// Package finance computes the café's rent and monthly profit and loss.
package finance

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/leafy-life/cafe/internal/app/domain/calendar"
	"github.com/leafy-life/cafe/internal/app/domain/expense"
	"github.com/leafy-life/cafe/internal/app/domain/order"
	"github.com/leafy-life/cafe/internal/app/domain/settings"
	"github.com/leafy-life/cafe/internal/app/storage"
	"github.com/leafy-life/cafe/pkg/logger"
)

// Rent types.
const (
	RentTypeRevenueShare     = "Revenue Share"
	RentTypeMinimumGuarantee = "Minimum Guarantee"
)

var hundred = decimal.NewFromInt(100)

// RentCalculation is the outcome of the revenue share rule for one month.
type RentCalculation struct {
	Year                int     `json:"year"`
	Month               int     `json:"month"`
	TotalMonthlyRevenue float64 `json:"total_monthly_revenue"`
	RevenueSharePercent float64 `json:"revenue_share_percent"`
	MinimumGuarantee    float64 `json:"minimum_guarantee"`
	RevenueShareAmount  float64 `json:"revenue_share_amount"`
	EffectiveRent       float64 `json:"effective_rent"`
	RentType            string  `json:"rent_type"`
	BreakEvenRevenue    float64 `json:"break_even_revenue"`
}

// ExpenseBreakdown buckets a month's expenses.
type ExpenseBreakdown struct {
	Rent        float64 `json:"rent"`
	Electricity float64 `json:"electricity"`
	Water       float64 `json:"water"`
	Ingredients float64 `json:"ingredients"`
	Salaries    float64 `json:"salaries"`
	Other       float64 `json:"other"`
}

// DayBreakdown is one calendar day of a P&L.
type DayBreakdown struct {
	Date     string  `json:"date"`
	Revenue  float64 `json:"revenue"`
	Orders   int     `json:"orders"`
	Expenses float64 `json:"expenses"`
}

// ProfitAndLoss is a monthly statement.
type ProfitAndLoss struct {
	Year                 int              `json:"year"`
	Month                int              `json:"month"`
	TotalRevenue         float64          `json:"total_revenue"`
	TotalOrders          int              `json:"total_orders"`
	Expenses             ExpenseBreakdown `json:"expenses"`
	TotalExpenses        float64          `json:"total_expenses"`
	RentFromRevenueShare bool             `json:"rent_from_revenue_share"`
	GrossProfit          float64          `json:"gross_profit"`
	NetProfit            float64          `json:"net_profit"`
	ProfitMargin         float64          `json:"profit_margin"`
	DailyBreakdown       []DayBreakdown   `json:"daily_breakdown"`
}

// Service reads revenue, expenses and settings from the row store.
type Service struct {
	store storage.Store
	log   *logger.Logger
}

// New constructs a finance service.
func New(store storage.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("finance")
	}
	return &Service{store: store, log: log}
}

// RentSettings are the inputs of the revenue share rule.
type RentSettings struct {
	MinimumGuarantee    float64 `json:"minimum_guarantee"`
	RevenueSharePercent float64 `json:"revenue_share_percent"`
}

// RentSettings loads the rent configuration. Missing, unreadable or
// non-positive values fall back to defaults; this never fails.
func (s *Service) RentSettings(ctx context.Context) RentSettings {
	out := RentSettings{
		MinimumGuarantee:    settings.DefaultMinimumGuaranteeRent,
		RevenueSharePercent: settings.DefaultRevenueSharePercent,
	}
	var rows []settings.Setting
	q := storage.NewQuery().In("key", []string{settings.KeyMinimumGuaranteeRent, settings.KeyRevenueSharePercent})
	if err := storage.SelectInto(ctx, s.store, storage.TableAppSettings, q, &rows); err != nil {
		s.log.WithError(err).Warn("load rent settings; using defaults")
		return out
	}
	for _, row := range rows {
		v, ok := ParseNumber(row.Value)
		if !ok {
			s.log.WithField("key", row.Key).Warn("unparsable setting; using default")
			continue
		}
		switch row.Key {
		case settings.KeyMinimumGuaranteeRent:
			if v >= 0 {
				out.MinimumGuarantee = v
			}
		case settings.KeyRevenueSharePercent:
			if v > 0 {
				out.RevenueSharePercent = v
			}
		}
	}
	return out
}

// ParseNumber reads a JSON-encoded setting value holding a number, or a
// string containing one ("18000" and "\"18000\"" both parse).
func ParseNumber(value string) (float64, bool) {
	if !gjson.Valid(value) {
		return 0, false
	}
	res := gjson.Parse(value)
	switch res.Type {
	case gjson.Number:
		return res.Num, true
	case gjson.String:
		d, err := decimal.NewFromString(res.Str)
		if err != nil {
			return 0, false
		}
		return d.InexactFloat64(), true
	}
	return 0, false
}

func (s *Service) monthRevenue(ctx context.Context, m calendar.Month) ([]order.DailyRevenue, error) {
	first, last := m.Range()
	var rows []order.DailyRevenue
	q := storage.NewQuery().Gte("date", first).Lte("date", last).Order("date", true)
	if err := storage.SelectInto(ctx, s.store, storage.TableDailyRevenue, q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// RevenueShare computes the effective rent for a zero-based month.
func (s *Service) RevenueShare(ctx context.Context, year, month0 int) (RentCalculation, error) {
	m, err := calendar.NewMonth(year, month0)
	if err != nil {
		return RentCalculation{}, err
	}
	rows, err := s.monthRevenue(ctx, m)
	if err != nil {
		return RentCalculation{}, fmt.Errorf("load monthly revenue: %w", err)
	}
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(decimal.NewFromFloat(r.TotalSales))
	}
	return Calculate(year, month0, total, s.RentSettings(ctx)), nil
}

// Calculate applies the revenue share rule to a month's revenue. The tie
// between share and guarantee goes to the revenue share.
func Calculate(year, month0 int, revenue decimal.Decimal, cfg RentSettings) RentCalculation {
	pct := decimal.NewFromFloat(cfg.RevenueSharePercent)
	guarantee := decimal.NewFromFloat(cfg.MinimumGuarantee)
	share := revenue.Mul(pct).Div(hundred)

	calc := RentCalculation{
		Year:                year,
		Month:               month0,
		TotalMonthlyRevenue: revenue.InexactFloat64(),
		RevenueSharePercent: cfg.RevenueSharePercent,
		MinimumGuarantee:    cfg.MinimumGuarantee,
		RevenueShareAmount:  share.InexactFloat64(),
		EffectiveRent:       decimal.Max(share, guarantee).InexactFloat64(),
		RentType:            RentTypeMinimumGuarantee,
	}
	if share.GreaterThanOrEqual(guarantee) {
		calc.RentType = RentTypeRevenueShare
	}
	if pct.IsPositive() {
		calc.BreakEvenRevenue = guarantee.Div(pct.Div(hundred)).InexactFloat64()
	}
	return calc
}

// MonthlyPL builds the profit and loss statement for a zero-based month.
func (s *Service) MonthlyPL(ctx context.Context, year, month0 int) (ProfitAndLoss, error) {
	m, err := calendar.NewMonth(year, month0)
	if err != nil {
		return ProfitAndLoss{}, err
	}
	revenueRows, err := s.monthRevenue(ctx, m)
	if err != nil {
		return ProfitAndLoss{}, fmt.Errorf("load monthly revenue: %w", err)
	}
	first, last := m.Range()
	var expenses []expense.Expense
	q := storage.NewQuery().Gte("date", first).Lte("date", last)
	if err := storage.SelectInto(ctx, s.store, storage.TableExpenses, q, &expenses); err != nil {
		return ProfitAndLoss{}, fmt.Errorf("load monthly expenses: %w", err)
	}

	type day struct {
		revenue  decimal.Decimal
		orders   int
		expenses decimal.Decimal
	}
	days := make(map[string]*day, m.Days())
	for _, d := range m.Dates() {
		days[d] = &day{revenue: decimal.Zero, expenses: decimal.Zero}
	}

	totalRevenue := decimal.Zero
	totalOrders := 0
	for _, r := range revenueRows {
		amount := decimal.NewFromFloat(r.TotalSales)
		totalRevenue = totalRevenue.Add(amount)
		totalOrders += r.NumberOfOrders
		if d, ok := days[dateKey(r.Date)]; ok {
			d.revenue = d.revenue.Add(amount)
			d.orders += r.NumberOfOrders
		}
	}

	var rent, electricity, water, ingredients, salaries, other decimal.Decimal
	rentCount := 0
	for _, e := range expenses {
		amount := decimal.NewFromFloat(e.Amount)
		switch expense.NormalizeCategory(e.Category) {
		case "rent", "revenueshare":
			rent = rent.Add(amount)
			rentCount++
		case "electricity":
			electricity = electricity.Add(amount)
		case "water":
			water = water.Add(amount)
		case "ingredients":
			ingredients = ingredients.Add(amount)
		case "salaries":
			salaries = salaries.Add(amount)
		default:
			other = other.Add(amount)
		}
		if d, ok := days[dateKey(e.Date)]; ok {
			d.expenses = d.expenses.Add(amount)
		}
	}

	pl := ProfitAndLoss{Year: year, Month: month0, TotalOrders: totalOrders}
	if rentCount == 0 {
		calc := Calculate(year, month0, totalRevenue, s.RentSettings(ctx))
		rent = decimal.NewFromFloat(calc.EffectiveRent)
		pl.RentFromRevenueShare = true
	}

	totalExpenses := rent.Add(electricity).Add(water).Add(ingredients).Add(salaries).Add(other)
	netProfit := totalRevenue.Sub(totalExpenses)

	pl.TotalRevenue = totalRevenue.InexactFloat64()
	pl.Expenses = ExpenseBreakdown{
		Rent:        rent.InexactFloat64(),
		Electricity: electricity.InexactFloat64(),
		Water:       water.InexactFloat64(),
		Ingredients: ingredients.InexactFloat64(),
		Salaries:    salaries.InexactFloat64(),
		Other:       other.InexactFloat64(),
	}
	pl.TotalExpenses = totalExpenses.InexactFloat64()
	pl.GrossProfit = totalRevenue.Sub(ingredients).InexactFloat64()
	pl.NetProfit = netProfit.InexactFloat64()
	if !totalRevenue.IsZero() {
		pl.ProfitMargin = netProfit.Div(totalRevenue).Mul(hundred).InexactFloat64()
	}

	pl.DailyBreakdown = make([]DayBreakdown, 0, m.Days())
	for _, date := range m.Dates() {
		d := days[date]
		pl.DailyBreakdown = append(pl.DailyBreakdown, DayBreakdown{
			Date:     date,
			Revenue:  d.revenue.InexactFloat64(),
			Orders:   d.orders,
			Expenses: d.expenses.InexactFloat64(),
		})
	}
	return pl, nil
}

// CurrentMonth returns (year, zero-based month) of now.
func CurrentMonth(now time.Time) (int, int) {
	m := calendar.MonthOf(now)
	return m.Year, m.Month0
}

func dateKey(date string) string {
	if len(date) >= len(calendar.DateLayout) {
		return date[:len(calendar.DateLayout)]
	}
	return date
}
