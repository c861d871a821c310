package settings

import "time"

// Well-known keys.
const (
	KeyMinimumGuaranteeRent = "minimumGuaranteeRent"
	KeyRevenueSharePercent  = "revenueSharePercent"
	KeyCafeName             = "cafeName"
)

// Defaults used when a key is missing or unparsable.
const (
	DefaultMinimumGuaranteeRent = 18000.0
	DefaultRevenueSharePercent  = 20.0
)

// Setting is one key/value pair. Value holds a JSON document.
type Setting struct {
	ID        string    `json:"id,omitempty"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
