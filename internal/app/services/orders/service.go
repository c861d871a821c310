// Package orders places orders and keeps inventory and the daily revenue
// rollup in step with them.
//
// Only the order row is written authoritatively. Inventory deduction and the
// revenue rollup run afterwards on a best-effort basis; deductions that fail
// are parked in the inventory outbox and replayed by the OutboxRetrier.
package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/leafy-life/cafe/internal/app/domain/calendar"
	"github.com/leafy-life/cafe/internal/app/domain/order"
	"github.com/leafy-life/cafe/internal/app/metrics"
	"github.com/leafy-life/cafe/internal/app/storage"
	"github.com/leafy-life/cafe/pkg/logger"
)

// Service places and lists orders.
type Service struct {
	store storage.Store
	log   *logger.Logger
	loc   *time.Location
	now   func() time.Time
}

// New constructs an order service. Dates are computed in the local zone
// unless WithLocation is used.
func New(store storage.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("orders")
	}
	return &Service{
		store: store,
		log:   log,
		loc:   time.Local,
		now:   time.Now,
	}
}

// WithLocation sets the zone used to derive an order's calendar date.
func (s *Service) WithLocation(loc *time.Location) *Service {
	if loc != nil {
		s.loc = loc
	}
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// PlaceOrderRequest is the checkout payload.
type PlaceOrderRequest struct {
	Items         []order.LineItem `json:"items"`
	PaymentMethod string           `json:"payment_method"`
	OrderType     string           `json:"order_type"`
	Discount      float64          `json:"discount"`
	Notes         string           `json:"notes,omitempty"`
	Date          string           `json:"date,omitempty"`
	CustomerName  string           `json:"customer_name,omitempty"`
	CustomerPhone string           `json:"customer_phone,omitempty"`
	CreatedBy     string           `json:"created_by,omitempty"`
}

func (s *Service) normalize(req PlaceOrderRequest) (PlaceOrderRequest, error) {
	if len(req.Items) == 0 {
		return req, fmt.Errorf("at least one item is required")
	}
	req.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
	if req.PaymentMethod == "" {
		return req, fmt.Errorf("payment_method is required")
	}
	req.OrderType = strings.TrimSpace(req.OrderType)
	if req.OrderType == "" {
		return req, fmt.Errorf("order_type is required")
	}
	if req.Discount < 0 {
		return req, fmt.Errorf("discount must not be negative")
	}

	items := make([]order.LineItem, len(req.Items))
	for i, item := range req.Items {
		item.MenuItemID = strings.TrimSpace(item.MenuItemID)
		if item.MenuItemID == "" {
			return req, fmt.Errorf("items[%d].menu_item_id is required", i)
		}
		if item.Quantity <= 0 {
			return req, fmt.Errorf("items[%d].quantity must be positive", i)
		}
		if item.UnitPrice < 0 || item.LineTotal < 0 {
			return req, fmt.Errorf("items[%d] prices must not be negative", i)
		}
		if item.LineTotal == 0 && item.UnitPrice > 0 {
			item.LineTotal = decimal.NewFromFloat(item.UnitPrice).Mul(decimal.NewFromInt(int64(item.Quantity))).InexactFloat64()
		}
		items[i] = item
	}
	req.Items = items

	if req.Date == "" {
		req.Date = calendar.Format(s.now().In(s.loc))
	} else {
		d, err := calendar.Parse(req.Date, s.loc)
		if err != nil {
			return req, err
		}
		req.Date = calendar.Format(d)
	}
	return req, nil
}

// Totals returns the subtotal and the total after discount, never negative.
func Totals(items []order.LineItem, discount float64) (float64, float64) {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(decimal.NewFromFloat(item.LineTotal))
	}
	total := decimal.Max(subtotal.Sub(decimal.NewFromFloat(discount)), decimal.Zero)
	return subtotal.InexactFloat64(), total.InexactFloat64()
}

// OrderNumber formats the date-scoped order number.
func OrderNumber(date string, seq int) string {
	return fmt.Sprintf("LL-%s-%03d", strings.ReplaceAll(date, "-", ""), seq)
}

// nextOrderNumber counts the orders already on date. Two concurrent
// checkouts can read the same count and share a number.
func (s *Service) nextOrderNumber(ctx context.Context, date string) (string, error) {
	rows, err := s.store.Select(ctx, storage.TableOrders, storage.Where("date", date))
	if err != nil {
		return "", storage.Wrap("select", storage.TableOrders, err)
	}
	return OrderNumber(date, len(rows)+1), nil
}

// PlaceOrder stores the order and returns its id. Only a failure to store
// the order itself is returned; inventory and revenue updates are best-effort.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (string, error) {
	req, err := s.normalize(req)
	if err != nil {
		return "", err
	}

	number, err := s.nextOrderNumber(ctx, req.Date)
	if err != nil {
		return "", fmt.Errorf("derive order number: %w", err)
	}
	subtotal, total := Totals(req.Items, req.Discount)

	ord := order.Order{
		OrderNumber:   number,
		OrderType:     req.OrderType,
		Date:          req.Date,
		Items:         req.Items,
		Subtotal:      subtotal,
		Discount:      req.Discount,
		TotalAmount:   total,
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		CreatedBy:     req.CreatedBy,
		CreatedAt:     s.now().UTC(),
	}
	if err := storage.InsertValue(ctx, s.store, storage.TableOrders, ord, &ord); err != nil {
		return "", fmt.Errorf("create order: %w", err)
	}
	metrics.RecordOrderPlaced(ord.OrderType, ord.PaymentMethod, ord.TotalAmount)
	s.log.WithField("order_id", ord.ID).
		WithField("order_number", ord.OrderNumber).
		WithField("total", ord.TotalAmount).
		Info("order placed")

	s.deductInventory(ctx, ord)

	if err := s.recordRevenue(ctx, ord); err != nil {
		metrics.RecordBestEffortFailure("revenue")
		s.log.WithError(err).WithField("order_id", ord.ID).Warn("daily revenue update failed")
	}
	return ord.ID, nil
}

// GetOrder loads one order.
func (s *Service) GetOrder(ctx context.Context, id string) (order.Order, error) {
	var ord order.Order
	if err := storage.Get(ctx, s.store, storage.TableOrders, id, &ord); err != nil {
		return order.Order{}, err
	}
	return ord, nil
}

// ListOrders returns the orders of date (all dates when empty), oldest first.
func (s *Service) ListOrders(ctx context.Context, date string, limit int) ([]order.Order, error) {
	q := storage.NewQuery().Order("created_at", true)
	if date = strings.TrimSpace(date); date != "" {
		q.Eq("date", date)
	}
	if limit > 0 {
		q.Limit(limit)
	}
	var out []order.Order
	if err := storage.SelectInto(ctx, s.store, storage.TableOrders, q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DailyRevenue returns the rollup row of date.
func (s *Service) DailyRevenue(ctx context.Context, date string) (order.DailyRevenue, error) {
	var rows []order.DailyRevenue
	if err := storage.SelectInto(ctx, s.store, storage.TableDailyRevenue, storage.Where("date", date).Limit(1), &rows); err != nil {
		return order.DailyRevenue{}, err
	}
	if len(rows) == 0 {
		return order.DailyRevenue{}, fmt.Errorf("daily revenue %s: %w", date, storage.ErrNotFound)
	}
	return rows[0], nil
}
