package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/leafy-life/cafe/internal/app/domain/inventory"
	"github.com/leafy-life/cafe/internal/app/domain/menu"
	"github.com/leafy-life/cafe/internal/app/storage"
)

// RecipeDetail is a recipe with its ingredient lines.
type RecipeDetail struct {
	menu.Recipe
	Ingredients []menu.RecipeIngredient `json:"ingredients"`
}

// ExclusionOption is an ingredient a customer may leave out.
type ExclusionOption struct {
	IngredientID string `json:"ingredient_id"`
	Name         string `json:"name"`
	IsOptional   bool   `json:"is_optional"`
}

// CreateRecipe stores a recipe and its ingredient lines. The lines are
// written after the recipe; if that fails the recipe row is removed again.
func (s *Service) CreateRecipe(ctx context.Context, recipe menu.Recipe, lines []menu.RecipeIngredient) (RecipeDetail, error) {
	recipe.MenuItemID = strings.TrimSpace(recipe.MenuItemID)
	if recipe.MenuItemID == "" {
		return RecipeDetail{}, fmt.Errorf("menu_item_id is required")
	}
	if recipe.Size != nil {
		size := strings.TrimSpace(*recipe.Size)
		if size == "" {
			recipe.Size = nil
		} else {
			recipe.Size = &size
		}
	}
	if len(lines) == 0 {
		return RecipeDetail{}, fmt.Errorf("at least one ingredient is required")
	}
	for i, line := range lines {
		if strings.TrimSpace(line.IngredientID) == "" {
			return RecipeDetail{}, fmt.Errorf("ingredients[%d].ingredient_id is required", i)
		}
		if line.Quantity <= 0 {
			return RecipeDetail{}, fmt.Errorf("ingredients[%d].quantity must be positive", i)
		}
	}
	if _, err := s.GetMenuItem(ctx, recipe.MenuItemID); err != nil {
		return RecipeDetail{}, err
	}

	recipe.ID = ""
	recipe.CreatedAt = s.now().UTC()
	var stored menu.Recipe
	if err := storage.InsertValue(ctx, s.store, storage.TableRecipes, recipe, &stored); err != nil {
		return RecipeDetail{}, fmt.Errorf("create recipe: %w", err)
	}

	rows := make([]storage.Row, 0, len(lines))
	for _, line := range lines {
		line.ID = ""
		line.RecipeID = stored.ID
		line.IngredientID = strings.TrimSpace(line.IngredientID)
		row, err := storage.Encode(line)
		if err != nil {
			return RecipeDetail{}, err
		}
		rows = append(rows, row)
	}
	inserted, err := s.store.Insert(ctx, storage.TableRecipeIngredients, rows...)
	if err != nil {
		if delErr := storage.DeleteByID(ctx, s.store, storage.TableRecipes, stored.ID); delErr != nil {
			s.log.WithError(delErr).WithField("recipe_id", stored.ID).Error("remove recipe after failed ingredient insert")
		}
		return RecipeDetail{}, fmt.Errorf("create recipe ingredients: %w", storage.Wrap("insert", storage.TableRecipeIngredients, err))
	}

	detail := RecipeDetail{Recipe: stored}
	if err := storage.DecodeRows(inserted, &detail.Ingredients); err != nil {
		return RecipeDetail{}, err
	}
	return detail, nil
}

// DeleteRecipe removes a recipe and its ingredient lines.
func (s *Service) DeleteRecipe(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("id is required")
	}
	if err := s.store.Delete(ctx, storage.TableRecipeIngredients, storage.Where("recipe_id", id)); err != nil {
		return storage.Wrap("delete", storage.TableRecipeIngredients, err)
	}
	return storage.DeleteByID(ctx, s.store, storage.TableRecipes, id)
}

// ListRecipes returns the recipes of a menu item, oldest first.
func (s *Service) ListRecipes(ctx context.Context, menuItemID string) ([]RecipeDetail, error) {
	var recipes []menu.Recipe
	q := storage.Where("menu_item_id", menuItemID).Order("created_at", true)
	if err := storage.SelectInto(ctx, s.store, storage.TableRecipes, q, &recipes); err != nil {
		return nil, err
	}
	out := make([]RecipeDetail, 0, len(recipes))
	if len(recipes) == 0 {
		return out, nil
	}
	ids := make([]string, len(recipes))
	for i, r := range recipes {
		ids[i] = r.ID
	}
	var lines []menu.RecipeIngredient
	if err := storage.SelectInto(ctx, s.store, storage.TableRecipeIngredients, storage.NewQuery().In("recipe_id", ids), &lines); err != nil {
		return nil, err
	}
	byRecipe := make(map[string][]menu.RecipeIngredient, len(recipes))
	for _, l := range lines {
		byRecipe[l.RecipeID] = append(byRecipe[l.RecipeID], l)
	}
	for _, r := range recipes {
		out = append(out, RecipeDetail{Recipe: r, Ingredients: byRecipe[r.ID]})
	}
	return out, nil
}

// ExclusionOptions lists the ingredients of the recipe an order for size
// would use, optional ingredients first, then by name.
func (s *Service) ExclusionOptions(ctx context.Context, menuItemID, size string) ([]ExclusionOption, error) {
	recipes, err := s.ListRecipes(ctx, menuItemID)
	if err != nil {
		return nil, err
	}
	if len(recipes) == 0 {
		return []ExclusionOption{}, nil
	}
	chosen := recipes[0]
	for _, r := range recipes {
		if r.Size != nil && *r.Size == size {
			chosen = r
			break
		}
	}
	if len(chosen.Ingredients) == 0 {
		return []ExclusionOption{}, nil
	}

	ids := make([]string, len(chosen.Ingredients))
	for i, l := range chosen.Ingredients {
		ids[i] = l.IngredientID
	}
	var ingredients []inventory.Ingredient
	if err := storage.SelectInto(ctx, s.store, storage.TableIngredients, storage.NewQuery().In("id", ids), &ingredients); err != nil {
		return nil, err
	}
	names := make(map[string]string, len(ingredients))
	for _, ing := range ingredients {
		names[ing.ID] = ing.Name
	}

	out := make([]ExclusionOption, 0, len(chosen.Ingredients))
	for _, l := range chosen.Ingredients {
		name, ok := names[l.IngredientID]
		if !ok {
			continue
		}
		out = append(out, ExclusionOption{IngredientID: l.IngredientID, Name: name, IsOptional: l.IsOptional})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsOptional != out[j].IsOptional {
			return out[i].IsOptional
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
