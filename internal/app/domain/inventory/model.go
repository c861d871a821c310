package inventory

import "time"

// Ingredient is a stocked raw material.
type Ingredient struct {
	ID               string    `json:"id,omitempty"`
	Name             string    `json:"name"`
	Category         string    `json:"category"`
	Unit             string    `json:"unit"`
	CurrentStock     float64   `json:"current_stock"`
	MinimumThreshold float64   `json:"minimum_threshold"`
	CostPerUnit      float64   `json:"cost_per_unit"`
	ExpiryDate       *string   `json:"expiry_date"`
	StorageType      string    `json:"storage_type,omitempty"`
	ShelfLifeDays    *int      `json:"shelf_life_days,omitempty"`
	Supplier         string    `json:"supplier,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// IsLow reports whether stock has reached the reorder threshold.
func (i Ingredient) IsLow() bool {
	return i.CurrentStock <= i.MinimumThreshold
}

// Deduct returns the stock left after removing qty, never below zero.
func Deduct(stock, qty float64) float64 {
	if left := stock - qty; left > 0 {
		return left
	}
	return 0
}
