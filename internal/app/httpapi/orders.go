package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/leafy-life/cafe/internal/app/domain/calendar"
	"github.com/leafy-life/cafe/internal/app/services/finance"
	"github.com/leafy-life/cafe/internal/app/services/orders"
)

func (h *handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.PlaceOrderRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := h.app.Orders.PlaceOrder(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ord, err := h.app.Orders.GetOrder(r.Context(), id)
	if err != nil {
		// The order is stored; report the id even if the read-back failed.
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
		return
	}
	writeJSON(w, http.StatusCreated, ord)
}

func (h *handler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	list, err := h.app.Orders.ListOrders(r.Context(), r.URL.Query().Get("date"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ord, err := h.app.Orders.GetOrder(r.Context(), pathID(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ord)
}

func (h *handler) dailyRevenue(w http.ResponseWriter, r *http.Request) {
	day, err := calendar.Parse(pathID(r, "date"), h.app.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rev, err := h.app.Orders.DailyRevenue(r.Context(), calendar.Format(day))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

func (h *handler) pendingOutbox(w http.ResponseWriter, r *http.Request) {
	entries, err := h.app.Orders.PendingOutbox(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) processOutbox(w http.ResponseWriter, r *http.Request) {
	n, err := h.app.Orders.ProcessOutbox(r.Context(), orders.DefaultMaxOutboxAttempts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"completed": n})
}

// monthParam reads ?year=&month= (zero-based), defaulting to the current
// month in the application's zone.
func (h *handler) monthParam(r *http.Request) (int, int, error) {
	year, month0 := finance.CurrentMonth(time.Now().In(h.app.Location()))
	var err error
	if year, err = queryInt(r, "year", year); err != nil {
		return 0, 0, err
	}
	if month0, err = queryInt(r, "month", month0); err != nil {
		return 0, 0, err
	}
	if _, err := calendar.NewMonth(year, month0); err != nil {
		return 0, 0, fmt.Errorf("month: %w", err)
	}
	return year, month0, nil
}

func (h *handler) rent(w http.ResponseWriter, r *http.Request) {
	year, month0, err := h.monthParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	calc, err := h.app.Finance.RevenueShare(r.Context(), year, month0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, calc)
}

func (h *handler) profitAndLoss(w http.ResponseWriter, r *http.Request) {
	year, month0, err := h.monthParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	pl, err := h.app.Finance.MonthlyPL(r.Context(), year, month0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pl)
}
