package expense

import (
	"strings"
	"time"
)

// Category names accepted on entry.
const (
	CategoryRent         = "Rent"
	CategoryRevenueShare = "RevenueShare"
	CategoryElectricity  = "Electricity"
	CategoryWater        = "Water"
	CategoryIngredients  = "Ingredients"
	CategorySalaries     = "Salaries"
	CategoryMaintenance  = "Maintenance"
	CategoryMarketing    = "Marketing"
	CategoryOther        = "Other"
)

// Categories lists every accepted category.
var Categories = []string{
	CategoryRent,
	CategoryRevenueShare,
	CategoryElectricity,
	CategoryWater,
	CategoryIngredients,
	CategorySalaries,
	CategoryMaintenance,
	CategoryMarketing,
	CategoryOther,
}

// Expense is a manually entered cost.
type Expense struct {
	ID          string    `json:"id,omitempty"`
	Date        string    `json:"date"`
	Category    string    `json:"category"`
	Description string    `json:"description,omitempty"`
	Amount      float64   `json:"amount"`
	IsRecurring bool      `json:"is_recurring"`
	CreatedAt   time.Time `json:"created_at"`
}

// NormalizeCategory lowercases a category and strips spaces, underscores and
// hyphens so "Revenue Share" and "revenue_share" compare equal.
func NormalizeCategory(category string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(category)))
}

// CanonicalCategory returns the accepted spelling of category.
func CanonicalCategory(category string) (string, bool) {
	norm := NormalizeCategory(category)
	for _, c := range Categories {
		if NormalizeCategory(c) == norm {
			return c, true
		}
	}
	return "", false
}
