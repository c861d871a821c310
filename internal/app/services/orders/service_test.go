package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafy-life/cafe/internal/app/domain/inventory"
	"github.com/leafy-life/cafe/internal/app/domain/order"
	"github.com/leafy-life/cafe/internal/app/storage"
	"github.com/leafy-life/cafe/internal/app/storage/memory"
	"github.com/leafy-life/cafe/pkg/logger"
)

var fixedNow = time.Date(2026, 10, 19, 10, 30, 0, 0, time.UTC)

type fixture struct {
	store *memory.Store
	svc   *Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	_, err := store.Insert(ctx, storage.TableIngredients,
		storage.Row{"id": "milk", "name": "Milk", "current_stock": 1000.0, "minimum_threshold": 200.0},
		storage.Row{"id": "sugar", "name": "Sugar", "current_stock": 500.0, "minimum_threshold": 50.0},
		storage.Row{"id": "beans", "name": "Coffee Beans", "current_stock": 30.0, "minimum_threshold": 10.0},
	)
	require.NoError(t, err)
	_, err = store.Insert(ctx, storage.TableRecipes,
		storage.Row{"id": "latte-regular", "menu_item_id": "latte", "size": "Regular", "name": "Latte", "created_at": "2026-01-01T00:00:00Z"},
		storage.Row{"id": "latte-large", "menu_item_id": "latte", "size": "Large", "name": "Latte L", "created_at": "2026-01-02T00:00:00Z"},
	)
	require.NoError(t, err)
	_, err = store.Insert(ctx, storage.TableRecipeIngredients,
		storage.Row{"recipe_id": "latte-regular", "ingredient_id": "milk", "quantity": 150.0, "unit": "ml"},
		storage.Row{"recipe_id": "latte-regular", "ingredient_id": "sugar", "quantity": 10.0, "unit": "g", "is_optional": true},
		storage.Row{"recipe_id": "latte-regular", "ingredient_id": "beans", "quantity": 18.0, "unit": "g"},
		storage.Row{"recipe_id": "latte-large", "ingredient_id": "milk", "quantity": 250.0, "unit": "ml"},
	)
	require.NoError(t, err)

	svc := New(store, logger.Discard()).WithLocation(time.UTC).WithClock(func() time.Time { return fixedNow })
	return fixture{store: store, svc: svc}
}

func (f fixture) stock(t *testing.T, id string) float64 {
	t.Helper()
	var ing inventory.Ingredient
	require.NoError(t, storage.Get(context.Background(), f.store, storage.TableIngredients, id, &ing))
	return ing.CurrentStock
}

func latte(size string, qty int, price float64) order.LineItem {
	return order.LineItem{MenuItemID: "latte", Size: size, Quantity: qty, UnitPrice: price, LineTotal: price * float64(qty)}
}

func TestPlaceOrderTotalsAndNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.PlaceOrder(ctx, PlaceOrderRequest{
		Items:         []order.LineItem{latte("Regular", 2, 120), latte("Large", 1, 160)},
		PaymentMethod: "UPI",
		OrderType:     order.TypeDineIn,
		Discount:      50,
	})
	require.NoError(t, err)

	ord, err := f.svc.GetOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "LL-20261019-001", ord.OrderNumber)
	assert.Equal(t, "2026-10-19", ord.Date)
	assert.Equal(t, 400.0, ord.Subtotal)
	assert.Equal(t, 350.0, ord.TotalAmount)

	id2, err := f.svc.PlaceOrder(ctx, PlaceOrderRequest{
		Items:         []order.LineItem{latte("Regular", 1, 120)},
		PaymentMethod: "cash",
		OrderType:     order.TypeTakeaway,
		Discount:      500,
	})
	require.NoError(t, err)
	ord2, err := f.svc.GetOrder(ctx, id2)
	require.NoError(t, err)
	assert.Equal(t, "LL-20261019-002", ord2.OrderNumber)
	assert.Equal(t, 0.0, ord2.TotalAmount)
}

func TestTotalsNeverNegative(t *testing.T) {
	items := []order.LineItem{{LineTotal: 99.5}, {LineTotal: 0.5}}
	for _, tc := range []struct{ discount, want float64 }{{0, 100}, {30, 70}, {100, 0}, {250, 0}} {
		subtotal, total := Totals(items, tc.discount)
		assert.Equal(t, 100.0, subtotal)
		assert.Equal(t, tc.want, total)
	}
}

func TestDailyRevenueAccumulates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.PlaceOrder(ctx, PlaceOrderRequest{Items: []order.LineItem{latte("Regular", 1, 120)}, PaymentMethod: "Cash", OrderType: order.TypeDineIn})
	require.NoError(t, err)
	_, err = f.svc.PlaceOrder(ctx, PlaceOrderRequest{Items: []order.LineItem{latte("Large", 1, 160)}, PaymentMethod: "UPI", OrderType: order.TypeDineIn, Discount: 10})
	require.NoError(t, err)

	rev, err := f.svc.DailyRevenue(ctx, "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, 270.0, rev.TotalSales)
	assert.Equal(t, 2, rev.NumberOfOrders)
	assert.InDelta(t, rev.TotalSales/float64(rev.NumberOfOrders), rev.AverageOrderValue, 1e-9)
	assert.Equal(t, map[string]float64{"cash": 120, "upi": 150, "card": 0}, rev.PaymentBreakdown)
}

// racingStore creates the day's revenue row just before the service's own
// insert, the way a concurrent checkout would.
type racingStore struct {
	*memory.Store
	raced bool
}

func (s *racingStore) Insert(ctx context.Context, table string, rows ...storage.Row) ([]storage.Row, error) {
	if table == storage.TableDailyRevenue && !s.raced {
		s.raced = true
		if _, err := s.Store.Insert(ctx, table, storage.Row{
			"date": "2026-10-19", "total_sales": 50.0, "number_of_orders": 1,
			"payment_breakdown": map[string]any{"cash": 50.0, "upi": 0.0, "card": 0.0}, "average_order_value": 50.0,
		}); err != nil {
			return nil, err
		}
	}
	return s.Store.Insert(ctx, table, rows...)
}

func TestDailyRevenueRetriesOnConflict(t *testing.T) {
	f := newFixture(t)
	store := &racingStore{Store: f.store}
	svc := New(store, logger.Discard()).WithLocation(time.UTC).WithClock(func() time.Time { return fixedNow })

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{Items: []order.LineItem{latte("Regular", 1, 120)}, PaymentMethod: "Cash", OrderType: order.TypeDineIn})
	require.NoError(t, err)
	require.True(t, store.raced)

	rev, err := svc.DailyRevenue(context.Background(), "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, 170.0, rev.TotalSales)
	assert.Equal(t, 2, rev.NumberOfOrders)
	assert.Equal(t, 170.0, rev.PaymentBreakdown["cash"])
}

// lostReplyStore applies revenue updates and then reports a timeout, as when
// the connection drops after the commit.
type lostReplyStore struct {
	*memory.Store
	updates int
}

func (s *lostReplyStore) Update(ctx context.Context, table string, patch storage.Row, q *storage.Query) ([]storage.Row, error) {
	if table != storage.TableDailyRevenue {
		return s.Store.Update(ctx, table, patch, q)
	}
	s.updates++
	if _, err := s.Store.Update(ctx, table, patch, q); err != nil {
		return nil, err
	}
	return nil, &storage.Error{Op: "update", Table: table, Err: errors.New("i/o timeout")}
}

func TestDailyRevenueDoesNotRetryOtherErrors(t *testing.T) {
	f := newFixture(t)
	store := &lostReplyStore{Store: f.store}
	svc := New(store, logger.Discard()).WithLocation(time.UTC).WithClock(func() time.Time { return fixedNow })
	ctx := context.Background()

	_, err := svc.PlaceOrder(ctx, PlaceOrderRequest{Items: []order.LineItem{latte("Regular", 1, 120)}, PaymentMethod: "cash", OrderType: order.TypeDineIn})
	require.NoError(t, err)
	_, err = svc.PlaceOrder(ctx, PlaceOrderRequest{Items: []order.LineItem{latte("Regular", 1, 80)}, PaymentMethod: "cash", OrderType: order.TypeDineIn})
	require.NoError(t, err, "revenue is best effort")

	assert.Equal(t, 1, store.updates)
	rev, err := svc.DailyRevenue(ctx, "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, 200.0, rev.TotalSales, "the applied update is counted once")
	assert.Equal(t, 2, rev.NumberOfOrders)
}

func TestDateOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.PlaceOrder(ctx, PlaceOrderRequest{
		Items: []order.LineItem{latte("Regular", 1, 120)}, PaymentMethod: "Card", OrderType: order.TypeDelivery, Date: "2026-10-01",
	})
	require.NoError(t, err)
	ord, err := f.svc.GetOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "LL-20261001-001", ord.OrderNumber)

	list, err := f.svc.ListOrders(ctx, "2026-10-01", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	list, err = f.svc.ListOrders(ctx, "2026-10-19", 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestInventoryDeduction(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:         []order.LineItem{latte("Regular", 2, 120)},
		PaymentMethod: "cash",
		OrderType:     order.TypeDineIn,
	})
	require.NoError(t, err)
	assert.Equal(t, 700.0, f.stock(t, "milk"))
	assert.Equal(t, 480.0, f.stock(t, "sugar"))
	assert.Equal(t, 0.0, f.stock(t, "beans"), "stock is clamped at zero")
}

func TestExcludedIngredientIsNotDeducted(t *testing.T) {
	f := newFixture(t)
	item := latte("Regular", 3, 120)
	item.ExcludedIngredients = []string{"  sugar "}
	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []order.LineItem{item}, PaymentMethod: "cash", OrderType: order.TypeDineIn,
	})
	require.NoError(t, err)
	assert.Equal(t, 500.0, f.stock(t, "sugar"))
	assert.Equal(t, 550.0, f.stock(t, "milk"))
}

func TestRecipeSizeFallbackAndCustomizations(t *testing.T) {
	f := newFixture(t)
	custom := latte("Regular", 1, 120)
	custom.Customizations = map[string]string{"milk": "oat"}
	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:         []order.LineItem{latte("Large", 1, 160), latte("Small", 1, 90), custom},
		PaymentMethod: "cash",
		OrderType:     order.TypeDineIn,
	})
	require.NoError(t, err)
	// Large uses its own recipe (250), Small falls back to the first recipe (150),
	// the customised latte is skipped.
	assert.Equal(t, 600.0, f.stock(t, "milk"))
	assert.Equal(t, 490.0, f.stock(t, "sugar"))
}

func TestOrderInsertFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.store.FailOn("insert", storage.TableOrders, errors.New("permission denied for table orders"))

	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []order.LineItem{latte("Regular", 1, 120)}, PaymentMethod: "cash", OrderType: order.TypeDineIn,
	})
	require.Error(t, err)
	assert.True(t, storage.IsStoreError(err))
	assert.Contains(t, err.Error(), "permission denied for table orders")
	assert.Equal(t, 1000.0, f.stock(t, "milk"))
}

func TestBestEffortStepsDoNotFailOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.FailOn("update", storage.TableIngredients, errors.New("timeout"))
	f.store.FailOn("select", storage.TableDailyRevenue, errors.New("timeout"))

	id, err := f.svc.PlaceOrder(ctx, PlaceOrderRequest{
		Items: []order.LineItem{latte("Large", 2, 160)}, PaymentMethod: "cash", OrderType: order.TypeDineIn,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, 1000.0, f.stock(t, "milk"))

	pending, err := f.svc.PendingOutbox(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].OrderID)
	assert.Equal(t, map[string]float64{"milk": 500}, pending[0].Deductions)
	assert.Contains(t, pending[0].LastError, "timeout")

	f.store.ClearFailures()
	done, err := f.svc.ProcessOutbox(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, done)
	assert.Equal(t, 500.0, f.stock(t, "milk"))

	done, err = f.svc.ProcessOutbox(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, done)
	assert.Equal(t, 500.0, f.stock(t, "milk"), "processed entries are not replayed")
}

// flakyStore fails updates of one ingredient until healed.
type flakyStore struct {
	*memory.Store
	failID string
}

func (s *flakyStore) Update(ctx context.Context, table string, patch storage.Row, q *storage.Query) ([]storage.Row, error) {
	if table == storage.TableIngredients && s.failID != "" && q != nil {
		for _, c := range q.Conditions {
			if c.Column == "id" && c.Value == s.failID {
				return nil, &storage.Error{Op: "update", Table: table, Err: errors.New("row locked")}
			}
		}
	}
	return s.Store.Update(ctx, table, patch, q)
}

func TestOutboxRetryNeverReappliesCompletedWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flaky := &flakyStore{Store: f.store, failID: "milk"}
	svc := New(flaky, logger.Discard()).WithLocation(time.UTC).WithClock(func() time.Time { return fixedNow })

	_, err := svc.PlaceOrder(ctx, PlaceOrderRequest{
		Items: []order.LineItem{latte("Regular", 1, 120)}, PaymentMethod: "cash", OrderType: order.TypeDineIn,
	})
	require.NoError(t, err)
	// beans sorts before milk and is written; milk and sugar are outstanding.
	assert.Equal(t, 12.0, f.stock(t, "beans"))
	assert.Equal(t, 1000.0, f.stock(t, "milk"))
	assert.Equal(t, 500.0, f.stock(t, "sugar"))

	pending, err := svc.PendingOutbox(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, map[string]float64{"milk": 150, "sugar": 10}, pending[0].Deductions)

	done, err := svc.ProcessOutbox(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, done)
	pending, err = svc.PendingOutbox(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pending[0].Attempts)

	flaky.failID = ""
	done, err = svc.ProcessOutbox(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, done)
	assert.Equal(t, 12.0, f.stock(t, "beans"))
	assert.Equal(t, 850.0, f.stock(t, "milk"))
	assert.Equal(t, 490.0, f.stock(t, "sugar"))
}

func TestOutboxGivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.Insert(ctx, storage.TableInventoryOutbox, storage.Row{
		"order_id": "o1", "deductions": map[string]any{"milk": 100.0}, "attempts": 3, "processed_at": nil,
	})
	require.NoError(t, err)

	done, err := f.svc.ProcessOutbox(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, done)
	assert.Equal(t, 1000.0, f.stock(t, "milk"))
}

func TestPlaceOrderValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	good := PlaceOrderRequest{Items: []order.LineItem{latte("Regular", 1, 120)}, PaymentMethod: "cash", OrderType: order.TypeDineIn}

	tests := map[string]func(r *PlaceOrderRequest){
		"no items":         func(r *PlaceOrderRequest) { r.Items = nil },
		"no payment":       func(r *PlaceOrderRequest) { r.PaymentMethod = " " },
		"no order type":    func(r *PlaceOrderRequest) { r.OrderType = "" },
		"negative":         func(r *PlaceOrderRequest) { r.Discount = -1 },
		"zero quantity":    func(r *PlaceOrderRequest) { r.Items = []order.LineItem{latte("Regular", 0, 120)} },
		"missing menu id":  func(r *PlaceOrderRequest) { r.Items = []order.LineItem{{Quantity: 1}} },
		"bad date":         func(r *PlaceOrderRequest) { r.Date = "yesterday" },
		"negative pricing": func(r *PlaceOrderRequest) { r.Items = []order.LineItem{{MenuItemID: "x", Quantity: 1, UnitPrice: -5}} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			req := good
			mutate(&req)
			_, err := f.svc.PlaceOrder(ctx, req)
			require.Error(t, err)
			assert.False(t, storage.IsStoreError(err))
		})
	}
}

func TestLineTotalDerivedFromUnitPrice(t *testing.T) {
	f := newFixture(t)
	id, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:         []order.LineItem{{MenuItemID: "latte", Size: "Regular", Quantity: 3, UnitPrice: 110}},
		PaymentMethod: "card",
		OrderType:     order.TypeTakeaway,
	})
	require.NoError(t, err)
	ord, err := f.svc.GetOrder(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 330.0, ord.Subtotal)
}
