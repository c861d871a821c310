package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/leafy-life/cafe/internal/app/domain/menu"
	"github.com/leafy-life/cafe/internal/app/storage"
)

func validateMenuItem(item menu.Item) (menu.Item, error) {
	item.Name = strings.TrimSpace(item.Name)
	if item.Name == "" {
		return item, fmt.Errorf("name is required")
	}
	item.Category = strings.TrimSpace(item.Category)
	if item.Category == "" {
		return item, fmt.Errorf("category is required")
	}
	if len(item.Variants) == 0 {
		return item, fmt.Errorf("at least one variant is required")
	}
	seen := make(map[string]struct{}, len(item.Variants))
	variants := make([]menu.Variant, len(item.Variants))
	for i, v := range item.Variants {
		v.Size = strings.TrimSpace(v.Size)
		if v.Size == "" {
			return item, fmt.Errorf("variants[%d].size is required", i)
		}
		if v.Price < 0 {
			return item, fmt.Errorf("variants[%d].price must not be negative", i)
		}
		if _, dup := seen[v.Size]; dup {
			return item, fmt.Errorf("duplicate variant size %q", v.Size)
		}
		seen[v.Size] = struct{}{}
		variants[i] = v
	}
	item.Variants = variants
	return item, nil
}

// CreateMenuItem stores a new menu item. New items are active.
func (s *Service) CreateMenuItem(ctx context.Context, item menu.Item) (menu.Item, error) {
	item, err := validateMenuItem(item)
	if err != nil {
		return menu.Item{}, err
	}
	now := s.now().UTC()
	item.ID = ""
	item.IsActive = true
	item.CreatedAt = now
	item.UpdatedAt = now

	var out menu.Item
	if err := storage.InsertValue(ctx, s.store, storage.TableMenuItems, item, &out); err != nil {
		return menu.Item{}, fmt.Errorf("create menu item: %w", err)
	}
	return out, nil
}

// UpdateMenuItem replaces name, category, description and variants.
func (s *Service) UpdateMenuItem(ctx context.Context, id string, item menu.Item) (menu.Item, error) {
	item, err := validateMenuItem(item)
	if err != nil {
		return menu.Item{}, err
	}
	patch := storage.Row{
		"name":        item.Name,
		"category":    item.Category,
		"description": item.Description,
		"variants":    item.Variants,
		"updated_at":  s.now().UTC(),
	}
	var out menu.Item
	if err := storage.UpdateByID(ctx, s.store, storage.TableMenuItems, id, patch, &out); err != nil {
		return menu.Item{}, fmt.Errorf("update menu item: %w", err)
	}
	return out, nil
}

// SetMenuItemActive shows or hides an item on the menu.
func (s *Service) SetMenuItemActive(ctx context.Context, id string, active bool) (menu.Item, error) {
	patch := storage.Row{"is_active": active, "updated_at": s.now().UTC()}
	var out menu.Item
	if err := storage.UpdateByID(ctx, s.store, storage.TableMenuItems, id, patch, &out); err != nil {
		return menu.Item{}, fmt.Errorf("update menu item: %w", err)
	}
	return out, nil
}

// GetMenuItem loads one menu item.
func (s *Service) GetMenuItem(ctx context.Context, id string) (menu.Item, error) {
	var out menu.Item
	if err := storage.Get(ctx, s.store, storage.TableMenuItems, id, &out); err != nil {
		return menu.Item{}, err
	}
	return out, nil
}

// ListMenuItems returns menu items by category and name.
func (s *Service) ListMenuItems(ctx context.Context, activeOnly bool) ([]menu.Item, error) {
	q := storage.NewQuery().Order("category", true).Order("name", true)
	if activeOnly {
		q.Eq("is_active", true)
	}
	var out []menu.Item
	if err := storage.SelectInto(ctx, s.store, storage.TableMenuItems, q, &out); err != nil {
		return nil, err
	}
	return out, nil
}
