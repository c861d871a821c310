package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/leafy-life/cafe/internal/app/domain/calendar"
	"github.com/leafy-life/cafe/internal/app/domain/expense"
	"github.com/leafy-life/cafe/internal/app/domain/task"
)

func trimmed(r *http.Request, name string) string {
	return strings.TrimSpace(r.URL.Query().Get(name))
}

func (h *handler) listExpenses(w http.ResponseWriter, r *http.Request) {
	year, month0, err := h.monthParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	m, _ := calendar.NewMonth(year, month0)
	list, err := h.app.Expenses.List(r.Context(), m)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) createExpense(w http.ResponseWriter, r *http.Request) {
	var exp expense.Expense
	if err := decodeJSON(r.Body, &exp); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	created, err := h.app.Expenses.Create(r.Context(), exp)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) deleteExpense(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Expenses.Delete(r.Context(), pathID(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listSettings(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Settings.All(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getSetting(w http.ResponseWriter, r *http.Request) {
	setting, err := h.app.Settings.Get(r.Context(), pathID(r, "key"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, setting)
}

// putSetting stores the request body, any JSON document, as the value.
func (h *handler) putSetting(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}
	setting, err := h.app.Settings.Set(r.Context(), pathID(r, "key"), json.RawMessage(body))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, setting)
}

func (h *handler) listTasks(w http.ResponseWriter, r *http.Request) {
	openOnly, err := queryBool(r, "open")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	list, err := h.app.Tasks.List(r.Context(), openOnly)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) createTask(w http.ResponseWriter, r *http.Request) {
	var t task.Task
	if err := decodeJSON(r.Body, &t); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	created, err := h.app.Tasks.Create(r.Context(), t)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) setTaskStatus(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	updated, err := h.app.Tasks.SetStatus(r.Context(), pathID(r, "id"), strings.TrimSpace(payload.Status))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Tasks.Delete(r.Context(), pathID(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
