package orders

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/leafy-life/cafe/internal/app/domain/order"
	"github.com/leafy-life/cafe/internal/app/storage"
)

// recordRevenue folds ord into the rollup row of its date. The read and the
// write are separate round trips, so concurrent orders can lose an update.
func (s *Service) recordRevenue(ctx context.Context, ord order.Order) error {
	err := s.upsertRevenue(ctx, ord)
	if err == nil || !storage.IsConflict(err) {
		// Other failures may have been applied before the error surfaced;
		// running again could count the order twice.
		return err
	}
	// A concurrent checkout created the row between our read and insert.
	s.log.WithError(err).WithField("date", ord.Date).Debug("retrying daily revenue upsert")
	return s.upsertRevenue(ctx, ord)
}

func (s *Service) upsertRevenue(ctx context.Context, ord order.Order) error {
	var rows []order.DailyRevenue
	if err := storage.SelectInto(ctx, s.store, storage.TableDailyRevenue, storage.Where("date", ord.Date).Limit(1), &rows); err != nil {
		return err
	}
	bucket := strings.ToLower(strings.TrimSpace(ord.PaymentMethod))
	now := s.now().UTC()

	if len(rows) == 0 {
		breakdown := order.NewPaymentBreakdown()
		breakdown[bucket] = ord.TotalAmount
		row := order.DailyRevenue{
			Date:              ord.Date,
			TotalSales:        ord.TotalAmount,
			NumberOfOrders:    1,
			PaymentBreakdown:  breakdown,
			AverageOrderValue: ord.TotalAmount,
			UpdatedAt:         now,
		}
		return storage.InsertValue(ctx, s.store, storage.TableDailyRevenue, row, nil)
	}

	current := rows[0]
	breakdown := order.NewPaymentBreakdown()
	for k, v := range current.PaymentBreakdown {
		breakdown[strings.ToLower(k)] += v
	}
	amount := decimal.NewFromFloat(ord.TotalAmount)
	breakdown[bucket] = decimal.NewFromFloat(breakdown[bucket]).Add(amount).InexactFloat64()

	total := decimal.NewFromFloat(current.TotalSales).Add(amount)
	count := current.NumberOfOrders + 1
	patch := storage.Row{
		"total_sales":         total.InexactFloat64(),
		"number_of_orders":    count,
		"payment_breakdown":   breakdown,
		"average_order_value": total.Div(decimal.NewFromInt(int64(count))).InexactFloat64(),
		"updated_at":          now,
	}
	return storage.UpdateByID(ctx, s.store, storage.TableDailyRevenue, current.ID, patch, nil)
}
