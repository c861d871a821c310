package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/leafy-life/cafe/internal/app/domain/inventory"
	"github.com/leafy-life/cafe/internal/app/domain/menu"
)

var errIsActiveRequired = errors.New("is_active is required")

func (h *handler) listIngredients(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Catalog.ListIngredients(r.Context(), trimmed(r, "category"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) lowStock(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Catalog.LowStock(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) createIngredient(w http.ResponseWriter, r *http.Request) {
	var ing inventory.Ingredient
	if err := decodeJSON(r.Body, &ing); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	created, err := h.app.Catalog.CreateIngredient(r.Context(), ing)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) getIngredient(w http.ResponseWriter, r *http.Request) {
	ing, err := h.app.Catalog.GetIngredient(r.Context(), pathID(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ing)
}

func (h *handler) updateIngredient(w http.ResponseWriter, r *http.Request) {
	var ing inventory.Ingredient
	if err := decodeJSON(r.Body, &ing); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	updated, err := h.app.Catalog.UpdateIngredient(r.Context(), pathID(r, "id"), ing)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) deleteIngredient(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Catalog.DeleteIngredient(r.Context(), pathID(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) restock(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Quantity   float64 `json:"quantity"`
		ExpiryDate string  `json:"expiry_date"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ing, err := h.app.Catalog.Restock(r.Context(), pathID(r, "id"), payload.Quantity, payload.ExpiryDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ing)
}

func (h *handler) listMenuItems(w http.ResponseWriter, r *http.Request) {
	activeOnly, err := queryBool(r, "active")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	list, err := h.app.Catalog.ListMenuItems(r.Context(), activeOnly)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) createMenuItem(w http.ResponseWriter, r *http.Request) {
	var item menu.Item
	if err := decodeJSON(r.Body, &item); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	created, err := h.app.Catalog.CreateMenuItem(r.Context(), item)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) getMenuItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.app.Catalog.GetMenuItem(r.Context(), pathID(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *handler) updateMenuItem(w http.ResponseWriter, r *http.Request) {
	var item menu.Item
	if err := decodeJSON(r.Body, &item); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	updated, err := h.app.Catalog.UpdateMenuItem(r.Context(), pathID(r, "id"), item)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) setMenuItemActive(w http.ResponseWriter, r *http.Request) {
	active, err := decodeActive(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	item, err := h.app.Catalog.SetMenuItemActive(r.Context(), pathID(r, "id"), active)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *handler) listRecipes(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Catalog.ListRecipes(r.Context(), trimmed(r, "menu_item_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) createRecipe(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		MenuItemID   string                  `json:"menu_item_id"`
		Size         *string                 `json:"size"`
		Name         string                  `json:"name"`
		Instructions string                  `json:"instructions"`
		Ingredients  []menu.RecipeIngredient `json:"ingredients"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	recipe := menu.Recipe{
		MenuItemID:   payload.MenuItemID,
		Size:         payload.Size,
		Name:         payload.Name,
		Instructions: payload.Instructions,
	}
	detail, err := h.app.Catalog.CreateRecipe(r.Context(), recipe, payload.Ingredients)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

func (h *handler) deleteRecipe(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Catalog.DeleteRecipe(r.Context(), pathID(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) exclusionOptions(w http.ResponseWriter, r *http.Request) {
	menuItemID := trimmed(r, "menu_item_id")
	if menuItemID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("menu_item_id is required"))
		return
	}
	opts, err := h.app.Catalog.ExclusionOptions(r.Context(), menuItemID, trimmed(r, "size"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}
