package alert

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Condition is the check a rule performs.
type Condition string

const (
	ConditionStockBelowThreshold  Condition = "stock_below_threshold"
	ConditionMonthlyRentDue       Condition = "monthly_rent_due"
	ConditionDailyRevenueBelow    Condition = "daily_revenue_below"
	ConditionDailyRevenueAbove    Condition = "daily_revenue_above"
	ConditionExpenseExceedsBudget Condition = "expense_exceeds_budget"
	ConditionExpiryWithinDays     Condition = "expiry_within_days"
	ConditionTaskOverdue          Condition = "task_overdue"
)

// Conditions lists every supported condition.
var Conditions = []Condition{
	ConditionStockBelowThreshold,
	ConditionMonthlyRentDue,
	ConditionDailyRevenueBelow,
	ConditionDailyRevenueAbove,
	ConditionExpenseExceedsBudget,
	ConditionExpiryWithinDays,
	ConditionTaskOverdue,
}

// Params is the typed parameter set of one condition.
type Params interface {
	Condition() Condition
	Validate() error
}

// StockBelowThreshold compares every ingredient with its own threshold.
type StockBelowThreshold struct{}

// MonthlyRentDue reminds ahead of the rent day.
type MonthlyRentDue struct {
	DayOfMonth         int `json:"dayOfMonth"`
	ReminderDaysBefore int `json:"reminderDaysBefore"`
}

// DailyRevenueBelow fires when yesterday's sales were under Amount.
type DailyRevenueBelow struct {
	Amount float64 `json:"amount"`
}

// DailyRevenueAbove fires when yesterday's sales exceeded Amount.
type DailyRevenueAbove struct {
	Amount float64 `json:"amount"`
}

// ExpenseExceedsBudget watches the current month's spending.
type ExpenseExceedsBudget struct {
	MonthlyBudget float64 `json:"monthlyBudget"`
}

// ExpiryWithinDays warns about stock expiring within Days.
type ExpiryWithinDays struct {
	Days int `json:"days"`
}

// TaskOverdue reports open tasks that are late or due today.
type TaskOverdue struct{}

func (StockBelowThreshold) Condition() Condition { return ConditionStockBelowThreshold }
func (MonthlyRentDue) Condition() Condition { return ConditionMonthlyRentDue }
func (DailyRevenueBelow) Condition() Condition { return ConditionDailyRevenueBelow }
func (DailyRevenueAbove) Condition() Condition { return ConditionDailyRevenueAbove }
func (ExpenseExceedsBudget) Condition() Condition { return ConditionExpenseExceedsBudget }
func (ExpiryWithinDays) Condition() Condition { return ConditionExpiryWithinDays }
func (TaskOverdue) Condition() Condition { return ConditionTaskOverdue }

func (StockBelowThreshold) Validate() error { return nil }
func (TaskOverdue) Validate() error { return nil }

func (p MonthlyRentDue) Validate() error {
	if p.DayOfMonth < 1 || p.DayOfMonth > 31 {
		return fmt.Errorf("dayOfMonth must be between 1 and 31")
	}
	if p.ReminderDaysBefore < 0 {
		return fmt.Errorf("reminderDaysBefore must not be negative")
	}
	return nil
}

func (p DailyRevenueBelow) Validate() error {
	if p.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

func (p DailyRevenueAbove) Validate() error {
	if p.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

func (p ExpenseExceedsBudget) Validate() error {
	if p.MonthlyBudget <= 0 {
		return fmt.Errorf("monthlyBudget must be positive")
	}
	return nil
}

func (p ExpiryWithinDays) Validate() error {
	if p.Days < 0 {
		return fmt.Errorf("days must not be negative")
	}
	return nil
}

// ParseParams decodes raw parameters for condition, filling defaults for
// absent keys. Numeric strings are accepted for rows written by older clients.
// The result is not validated.
func ParseParams(condition Condition, raw []byte) (Params, error) {
	if len(raw) > 0 && !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("parameters are not valid JSON")
	}
	doc := gjson.ParseBytes(raw)
	intOr := func(key string, def int) int {
		if v := doc.Get(key); v.Exists() && v.Type != gjson.Null {
			return int(v.Int())
		}
		return def
	}

	switch condition {
	case ConditionStockBelowThreshold:
		return StockBelowThreshold{}, nil
	case ConditionMonthlyRentDue:
		return MonthlyRentDue{
			DayOfMonth:         intOr("dayOfMonth", 1),
			ReminderDaysBefore: intOr("reminderDaysBefore", 3),
		}, nil
	case ConditionDailyRevenueBelow:
		return DailyRevenueBelow{Amount: doc.Get("amount").Float()}, nil
	case ConditionDailyRevenueAbove:
		return DailyRevenueAbove{Amount: doc.Get("amount").Float()}, nil
	case ConditionExpenseExceedsBudget:
		return ExpenseExceedsBudget{MonthlyBudget: doc.Get("monthlyBudget").Float()}, nil
	case ConditionExpiryWithinDays:
		return ExpiryWithinDays{Days: intOr("days", 3)}, nil
	case ConditionTaskOverdue:
		return TaskOverdue{}, nil
	default:
		return nil, fmt.Errorf("unknown condition %q", condition)
	}
}

// EncodeParams renders p as the stored parameters object.
func EncodeParams(p Params) (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode parameters: %w", err)
	}
	return data, nil
}
