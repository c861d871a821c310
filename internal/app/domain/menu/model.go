package menu

import "time"

// Variant is a sellable size of a menu item.
type Variant struct {
	Size  string  `json:"size"`
	Price float64 `json:"price"`
}

// Item is an entry on the menu.
type Item struct {
	ID          string    `json:"id,omitempty"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Description string    `json:"description,omitempty"`
	Variants    []Variant `json:"variants"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Price returns the price of size, if the item sells it.
func (i Item) Price(size string) (float64, bool) {
	for _, v := range i.Variants {
		if v.Size == size {
			return v.Price, true
		}
	}
	return 0, false
}

// Recipe maps a menu item, optionally one size of it, to ingredients.
type Recipe struct {
	ID           string    `json:"id,omitempty"`
	MenuItemID   string    `json:"menu_item_id"`
	Size         *string   `json:"size"`
	Name         string    `json:"name"`
	Instructions string    `json:"instructions,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// RecipeIngredient is one ingredient line of a recipe, quantity per unit sold.
type RecipeIngredient struct {
	ID           string  `json:"id,omitempty"`
	RecipeID     string  `json:"recipe_id"`
	IngredientID string  `json:"ingredient_id"`
	Quantity     float64 `json:"quantity"`
	Unit         string  `json:"unit"`
	IsOptional   bool    `json:"is_optional"`
}
