package orders

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/leafy-life/cafe/internal/app/domain/inventory"
	"github.com/leafy-life/cafe/internal/app/domain/menu"
	"github.com/leafy-life/cafe/internal/app/domain/order"
	"github.com/leafy-life/cafe/internal/app/metrics"
	"github.com/leafy-life/cafe/internal/app/storage"
)

// deductInventory applies the recipe quantities of ord. Any failure is logged
// and the outstanding work is written to the outbox; the order stands.
func (s *Service) deductInventory(ctx context.Context, ord order.Order) {
	deductions, err := s.computeDeductions(ctx, ord.Items)
	if err != nil {
		s.parkDeductions(ctx, ord, nil, err)
		return
	}
	if len(deductions) == 0 {
		return
	}
	remaining, err := s.applyDeductions(ctx, deductions)
	if err != nil {
		s.parkDeductions(ctx, ord, remaining, err)
	}
}

func (s *Service) parkDeductions(ctx context.Context, ord order.Order, remaining map[string]float64, cause error) {
	metrics.RecordBestEffortFailure("inventory")
	s.log.WithError(cause).WithField("order_id", ord.ID).Warn("inventory deduction failed; queued for retry")

	entry := order.OutboxEntry{
		OrderID:    ord.ID,
		Items:      ord.Items,
		Deductions: remaining,
		Attempts:   1,
		LastError:  cause.Error(),
		CreatedAt:  s.now().UTC(),
	}
	if err := storage.InsertValue(ctx, s.store, storage.TableInventoryOutbox, entry, nil); err != nil {
		metrics.RecordBestEffortFailure("outbox")
		s.log.WithError(err).WithField("order_id", ord.ID).Error("write inventory outbox")
	}
}

type recipeKey struct {
	menuItemID string
	size       string
}

// computeDeductions sums recipe quantities per ingredient across items.
// Customised items are skipped because their recipe no longer applies, and
// excluded ingredient names (case-insensitive) are left untouched.
func (s *Service) computeDeductions(ctx context.Context, items []order.LineItem) (map[string]float64, error) {
	deductions := make(map[string]float64)
	recipes := make(map[recipeKey][]menu.RecipeIngredient)
	names := make(map[string]string)

	for _, item := range items {
		if item.HasCustomizations() {
			continue
		}
		key := recipeKey{menuItemID: item.MenuItemID, size: item.Size}
		lines, cached := recipes[key]
		if !cached {
			var err error
			lines, err = s.recipeLines(ctx, item.MenuItemID, item.Size)
			if err != nil {
				return nil, err
			}
			recipes[key] = lines
		}
		if len(lines) == 0 {
			continue
		}

		excluded := make(map[string]struct{}, len(item.ExcludedIngredients))
		for _, name := range item.ExcludedIngredients {
			if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
				excluded[name] = struct{}{}
			}
		}
		if len(excluded) > 0 {
			if err := s.resolveNames(ctx, lines, names); err != nil {
				return nil, err
			}
		}

		for _, line := range lines {
			if _, skip := excluded[strings.ToLower(strings.TrimSpace(names[line.IngredientID]))]; skip {
				continue
			}
			deductions[line.IngredientID] += line.Quantity * float64(item.Quantity)
		}
	}
	return deductions, nil
}

// recipeLines finds the recipe for size, falling back to the item's first
// recipe, and returns its ingredient lines.
func (s *Service) recipeLines(ctx context.Context, menuItemID, size string) ([]menu.RecipeIngredient, error) {
	var recipes []menu.Recipe
	q := storage.Where("menu_item_id", menuItemID).Order("created_at", true)
	if err := storage.SelectInto(ctx, s.store, storage.TableRecipes, q, &recipes); err != nil {
		return nil, fmt.Errorf("load recipes: %w", err)
	}
	if len(recipes) == 0 {
		return nil, nil
	}
	chosen := recipes[0]
	for _, r := range recipes {
		if r.Size != nil && *r.Size == size {
			chosen = r
			break
		}
	}

	var lines []menu.RecipeIngredient
	if err := storage.SelectInto(ctx, s.store, storage.TableRecipeIngredients, storage.Where("recipe_id", chosen.ID), &lines); err != nil {
		return nil, fmt.Errorf("load recipe ingredients: %w", err)
	}
	return lines, nil
}

// resolveNames fills names with the ingredient names of lines not yet known.
func (s *Service) resolveNames(ctx context.Context, lines []menu.RecipeIngredient, names map[string]string) error {
	var missing []string
	for _, line := range lines {
		if _, ok := names[line.IngredientID]; !ok {
			missing = append(missing, line.IngredientID)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	var found []inventory.Ingredient
	if err := storage.SelectInto(ctx, s.store, storage.TableIngredients, storage.NewQuery().In("id", missing), &found); err != nil {
		return fmt.Errorf("resolve ingredient names: %w", err)
	}
	for _, id := range missing {
		names[id] = ""
	}
	for _, ing := range found {
		names[ing.ID] = ing.Name
	}
	return nil
}

// applyDeductions batch-reads stock and writes max(0, stock - qty) per
// ingredient. On failure it returns the deductions not yet written.
// Ingredients that no longer exist are dropped.
func (s *Service) applyDeductions(ctx context.Context, deductions map[string]float64) (map[string]float64, error) {
	ids := make([]string, 0, len(deductions))
	for id := range deductions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var current []inventory.Ingredient
	if err := storage.SelectInto(ctx, s.store, storage.TableIngredients, storage.NewQuery().In("id", ids), &current); err != nil {
		return copyDeductions(deductions), fmt.Errorf("load stock: %w", err)
	}
	stock := make(map[string]float64, len(current))
	for _, ing := range current {
		stock[ing.ID] = ing.CurrentStock
	}

	for i, id := range ids {
		have, ok := stock[id]
		if !ok {
			s.log.WithField("ingredient_id", id).Warn("ingredient missing; deduction dropped")
			continue
		}
		patch := storage.Row{
			"current_stock": inventory.Deduct(have, deductions[id]),
			"updated_at":    s.now().UTC(),
		}
		if err := storage.UpdateByID(ctx, s.store, storage.TableIngredients, id, patch, nil); err != nil {
			remaining := make(map[string]float64, len(ids)-i)
			for _, rest := range ids[i:] {
				if _, exists := stock[rest]; exists {
					remaining[rest] = deductions[rest]
				}
			}
			return remaining, fmt.Errorf("update stock of %s: %w", id, err)
		}
	}
	return nil, nil
}

func copyDeductions(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
