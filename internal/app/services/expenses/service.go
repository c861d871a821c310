// Package expenses records manually entered costs.
package expenses

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/leafy-life/cafe/internal/app/domain/calendar"
	"github.com/leafy-life/cafe/internal/app/domain/expense"
	"github.com/leafy-life/cafe/internal/app/storage"
	"github.com/leafy-life/cafe/pkg/logger"
)

// Service manages expenses.
type Service struct {
	store storage.Store
	log   *logger.Logger
	now   func() time.Time
}

// New constructs the expense service.
func New(store storage.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("expenses")
	}
	return &Service{store: store, log: log, now: time.Now}
}

// Create validates and stores an expense. The category is stored in its
// canonical spelling.
func (s *Service) Create(ctx context.Context, exp expense.Expense) (expense.Expense, error) {
	category, ok := expense.CanonicalCategory(exp.Category)
	if !ok {
		return expense.Expense{}, fmt.Errorf("category must be one of %s", strings.Join(expense.Categories, ", "))
	}
	if exp.Amount <= 0 {
		return expense.Expense{}, fmt.Errorf("amount must be positive")
	}
	d, err := calendar.Parse(exp.Date, nil)
	if err != nil {
		return expense.Expense{}, fmt.Errorf("date: %w", err)
	}

	exp.ID = ""
	exp.Category = category
	exp.Date = calendar.Format(d)
	exp.Description = strings.TrimSpace(exp.Description)
	exp.CreatedAt = s.now().UTC()

	var out expense.Expense
	if err := storage.InsertValue(ctx, s.store, storage.TableExpenses, exp, &out); err != nil {
		return expense.Expense{}, fmt.Errorf("create expense: %w", err)
	}
	s.log.WithField("expense_id", out.ID).WithField("category", out.Category).Info("expense recorded")
	return out, nil
}

// List returns the expenses of month, oldest first.
func (s *Service) List(ctx context.Context, month calendar.Month) ([]expense.Expense, error) {
	first, last := month.Range()
	q := storage.NewQuery().Gte("date", first).Lte("date", last).Order("date", true)
	var out []expense.Expense
	if err := storage.SelectInto(ctx, s.store, storage.TableExpenses, q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes an expense.
func (s *Service) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("id is required")
	}
	return storage.DeleteByID(ctx, s.store, storage.TableExpenses, id)
}
