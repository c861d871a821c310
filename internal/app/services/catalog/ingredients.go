package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/leafy-life/cafe/internal/app/domain/calendar"
	"github.com/leafy-life/cafe/internal/app/domain/inventory"
	"github.com/leafy-life/cafe/internal/app/storage"
)

func validateIngredient(ing inventory.Ingredient) (inventory.Ingredient, error) {
	ing.Name = strings.TrimSpace(ing.Name)
	if ing.Name == "" {
		return ing, fmt.Errorf("name is required")
	}
	ing.Unit = strings.TrimSpace(ing.Unit)
	if ing.Unit == "" {
		return ing, fmt.Errorf("unit is required")
	}
	if ing.CurrentStock < 0 {
		return ing, fmt.Errorf("current_stock must not be negative")
	}
	if ing.MinimumThreshold < 0 {
		return ing, fmt.Errorf("minimum_threshold must not be negative")
	}
	if ing.CostPerUnit < 0 {
		return ing, fmt.Errorf("cost_per_unit must not be negative")
	}
	if ing.ExpiryDate != nil {
		if strings.TrimSpace(*ing.ExpiryDate) == "" {
			ing.ExpiryDate = nil
		} else {
			d, err := calendar.Parse(*ing.ExpiryDate, nil)
			if err != nil {
				return ing, fmt.Errorf("expiry_date: %w", err)
			}
			formatted := calendar.Format(d)
			ing.ExpiryDate = &formatted
		}
	}
	if ing.ShelfLifeDays != nil && *ing.ShelfLifeDays < 0 {
		return ing, fmt.Errorf("shelf_life_days must not be negative")
	}
	return ing, nil
}

// CreateIngredient stores a new ingredient.
func (s *Service) CreateIngredient(ctx context.Context, ing inventory.Ingredient) (inventory.Ingredient, error) {
	ing, err := validateIngredient(ing)
	if err != nil {
		return inventory.Ingredient{}, err
	}
	now := s.now().UTC()
	ing.ID = ""
	ing.CreatedAt = now
	ing.UpdatedAt = now

	var out inventory.Ingredient
	if err := storage.InsertValue(ctx, s.store, storage.TableIngredients, ing, &out); err != nil {
		return inventory.Ingredient{}, fmt.Errorf("create ingredient: %w", err)
	}
	return out, nil
}

// UpdateIngredient replaces the editable fields of an ingredient.
func (s *Service) UpdateIngredient(ctx context.Context, id string, ing inventory.Ingredient) (inventory.Ingredient, error) {
	ing, err := validateIngredient(ing)
	if err != nil {
		return inventory.Ingredient{}, err
	}
	patch := storage.Row{
		"name":              ing.Name,
		"category":          ing.Category,
		"unit":              ing.Unit,
		"current_stock":     ing.CurrentStock,
		"minimum_threshold": ing.MinimumThreshold,
		"cost_per_unit":     ing.CostPerUnit,
		"expiry_date":       ing.ExpiryDate,
		"storage_type":      ing.StorageType,
		"shelf_life_days":   ing.ShelfLifeDays,
		"supplier":          ing.Supplier,
		"updated_at":        s.now().UTC(),
	}
	var out inventory.Ingredient
	if err := storage.UpdateByID(ctx, s.store, storage.TableIngredients, id, patch, &out); err != nil {
		return inventory.Ingredient{}, fmt.Errorf("update ingredient: %w", err)
	}
	return out, nil
}

// Restock adds quantity to an ingredient's stock. A new expiry date, when
// given, replaces the old one.
func (s *Service) Restock(ctx context.Context, id string, quantity float64, expiryDate string) (inventory.Ingredient, error) {
	if quantity <= 0 {
		return inventory.Ingredient{}, fmt.Errorf("quantity must be positive")
	}
	var current inventory.Ingredient
	if err := storage.Get(ctx, s.store, storage.TableIngredients, id, &current); err != nil {
		return inventory.Ingredient{}, err
	}
	stock := decimal.NewFromFloat(current.CurrentStock).Add(decimal.NewFromFloat(quantity))
	patch := storage.Row{
		"current_stock": stock.InexactFloat64(),
		"updated_at":    s.now().UTC(),
	}
	if expiryDate = strings.TrimSpace(expiryDate); expiryDate != "" {
		d, err := calendar.Parse(expiryDate, nil)
		if err != nil {
			return inventory.Ingredient{}, fmt.Errorf("expiry_date: %w", err)
		}
		patch["expiry_date"] = calendar.Format(d)
	}
	var out inventory.Ingredient
	if err := storage.UpdateByID(ctx, s.store, storage.TableIngredients, id, patch, &out); err != nil {
		return inventory.Ingredient{}, fmt.Errorf("restock ingredient: %w", err)
	}
	s.log.WithField("ingredient_id", id).WithField("quantity", quantity).Info("ingredient restocked")
	return out, nil
}

// DeleteIngredient removes an ingredient.
func (s *Service) DeleteIngredient(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("id is required")
	}
	return storage.DeleteByID(ctx, s.store, storage.TableIngredients, id)
}

// GetIngredient loads one ingredient.
func (s *Service) GetIngredient(ctx context.Context, id string) (inventory.Ingredient, error) {
	var out inventory.Ingredient
	if err := storage.Get(ctx, s.store, storage.TableIngredients, id, &out); err != nil {
		return inventory.Ingredient{}, err
	}
	return out, nil
}

// ListIngredients returns ingredients by name, optionally of one category.
func (s *Service) ListIngredients(ctx context.Context, category string) ([]inventory.Ingredient, error) {
	q := storage.NewQuery().Order("name", true)
	if category = strings.TrimSpace(category); category != "" {
		q.Eq("category", category)
	}
	var out []inventory.Ingredient
	if err := storage.SelectInto(ctx, s.store, storage.TableIngredients, q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LowStock returns ingredients at or below their minimum threshold.
func (s *Service) LowStock(ctx context.Context) ([]inventory.Ingredient, error) {
	all, err := s.ListIngredients(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]inventory.Ingredient, 0)
	for _, ing := range all {
		if ing.IsLow() {
			out = append(out, ing)
		}
	}
	return out, nil
}
