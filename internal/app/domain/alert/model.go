package alert

import (
	"encoding/json"
	"time"
)

// Severity levels.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Alert types.
const (
	TypeLowStock         = "low_stock"
	TypeRentDue          = "rent_due"
	TypeRevenueThreshold = "revenue_threshold"
	TypeRevenueMilestone = "revenue_milestone"
	TypeHighExpense      = "high_expense"
	TypeExpiryWarning    = "expiry_warning"
	TypeTaskOverdue      = "task_overdue"
	TypeTaskDueToday     = "task_due_today"
)

// Alert is a notification raised by a rule. ResolvedAt is nil while open.
type Alert struct {
	ID                string     `json:"id,omitempty"`
	Type              string     `json:"type"`
	Severity          string     `json:"severity"`
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	RelatedEntityID   *string    `json:"related_entity_id"`
	RelatedEntityType *string    `json:"related_entity_type"`
	IsRead            bool       `json:"is_read"`
	ResolvedAt        *time.Time `json:"resolved_at"`
	CreatedAt         time.Time  `json:"created_at"`
}

// IsOpen reports whether the alert is unresolved.
func (a Alert) IsOpen() bool { return a.ResolvedAt == nil }

// DedupKey identifies equivalent alerts: same type, related entity and title.
func (a Alert) DedupKey() string {
	related := ""
	if a.RelatedEntityID != nil {
		related = *a.RelatedEntityID
	}
	return a.Type + "\x00" + related + "\x00" + a.Title
}

// Rule is a configured check evaluated by the alert engine.
type Rule struct {
	ID            string          `json:"id,omitempty"`
	Name          string          `json:"name"`
	Type          string          `json:"type"`
	Condition     Condition       `json:"condition"`
	Parameters    json.RawMessage `json:"parameters"`
	IsActive      bool            `json:"is_active"`
	LastTriggered *time.Time      `json:"last_triggered"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Params decodes the rule's parameters for its condition.
func (r Rule) Params() (Params, error) {
	return ParseParams(r.Condition, r.Parameters)
}
