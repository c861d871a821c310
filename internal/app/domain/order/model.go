package order

import "time"

// Order types.
const (
	TypeDineIn   = "dine_in"
	TypeTakeaway = "takeaway"
	TypeDelivery = "delivery"
)

// LineItem is one menu item on an order.
type LineItem struct {
	MenuItemID          string            `json:"menu_item_id"`
	Name                string            `json:"name,omitempty"`
	Size                string            `json:"size"`
	Quantity            int               `json:"quantity"`
	UnitPrice           float64           `json:"unit_price"`
	LineTotal           float64           `json:"line_total"`
	ExcludedIngredients []string          `json:"excluded_ingredients,omitempty"`
	SpecialInstructions string            `json:"special_instructions,omitempty"`
	Customizations      map[string]string `json:"customizations,omitempty"`
}

// HasCustomizations reports whether the item was made to a custom spec, in
// which case its recipe no longer describes what was used.
func (l LineItem) HasCustomizations() bool { return len(l.Customizations) > 0 }

// Order is a placed order. Orders are never updated.
type Order struct {
	ID            string     `json:"id,omitempty"`
	OrderNumber   string     `json:"order_number"`
	OrderType     string     `json:"order_type"`
	Date          string     `json:"date"`
	Items         []LineItem `json:"items"`
	Subtotal      float64    `json:"subtotal"`
	Discount      float64    `json:"discount"`
	TotalAmount   float64    `json:"total_amount"`
	PaymentMethod string     `json:"payment_method"`
	Notes         string     `json:"notes,omitempty"`
	CustomerName  string     `json:"customer_name,omitempty"`
	CustomerPhone string     `json:"customer_phone,omitempty"`
	CreatedBy     string     `json:"created_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// DailyRevenue is the per-date sales rollup. Date is unique.
type DailyRevenue struct {
	ID                string             `json:"id,omitempty"`
	Date              string             `json:"date"`
	TotalSales        float64            `json:"total_sales"`
	NumberOfOrders    int                `json:"number_of_orders"`
	PaymentBreakdown  map[string]float64 `json:"payment_breakdown"`
	AverageOrderValue float64            `json:"average_order_value"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// DefaultPaymentBuckets are present on every rollup row.
var DefaultPaymentBuckets = []string{"cash", "upi", "card"}

// NewPaymentBreakdown returns a breakdown with the default buckets zeroed.
func NewPaymentBreakdown() map[string]float64 {
	out := make(map[string]float64, len(DefaultPaymentBuckets))
	for _, b := range DefaultPaymentBuckets {
		out[b] = 0
	}
	return out
}

// OutboxEntry records inventory deductions that could not be applied when
// the order was placed. Deductions holds only the writes still outstanding.
type OutboxEntry struct {
	ID          string             `json:"id,omitempty"`
	OrderID     string             `json:"order_id"`
	Items       []LineItem         `json:"items"`
	Deductions  map[string]float64 `json:"deductions"`
	Attempts    int                `json:"attempts"`
	LastError   string             `json:"last_error"`
	CreatedAt   time.Time          `json:"created_at"`
	ProcessedAt *time.Time         `json:"processed_at"`
}
