package httpapi

import (
	"net/http"

	"github.com/leafy-life/cafe/internal/app/services/alerts"
	"github.com/leafy-life/cafe/internal/app/services/rules"
)

func (h *handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	openOnly, err := queryBool(r, "open")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	unreadOnly, err := queryBool(r, "unread")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	list, err := h.app.Alerts.List(r.Context(), alerts.Filter{
		OpenOnly:   openOnly,
		UnreadOnly: unreadOnly,
		Type:       trimmed(r, "type"),
		Limit:      limit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) unreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.app.Alerts.UnreadCount(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": n})
}

// sweep runs the rule engine on demand. It may overlap a scheduled sweep.
func (h *handler) sweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.app.AlertEngine.Sweep(r.Context(), alerts.TriggerManual)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handler) dismissAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.app.Alerts.DismissAll(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"dismissed": n})
}

func (h *handler) getAlert(w http.ResponseWriter, r *http.Request) {
	a, err := h.app.Alerts.Get(r.Context(), pathID(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *handler) markRead(w http.ResponseWriter, r *http.Request) {
	a, err := h.app.Alerts.MarkRead(r.Context(), pathID(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *handler) resolveAlert(w http.ResponseWriter, r *http.Request) {
	a, err := h.app.Alerts.Resolve(r.Context(), pathID(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *handler) listRules(w http.ResponseWriter, r *http.Request) {
	activeOnly, err := queryBool(r, "active")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	list, err := h.app.Rules.List(r.Context(), activeOnly)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) createRule(w http.ResponseWriter, r *http.Request) {
	var in rules.RuleInput
	if err := decodeJSON(r.Body, &in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rule, err := h.app.Rules.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (h *handler) getRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.app.Rules.Get(r.Context(), pathID(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *handler) updateRule(w http.ResponseWriter, r *http.Request) {
	var in rules.RuleInput
	if err := decodeJSON(r.Body, &in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rule, err := h.app.Rules.Update(r.Context(), pathID(r, "id"), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *handler) deleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Rules.Delete(r.Context(), pathID(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type activePayload struct {
	IsActive *bool `json:"is_active"`
}

func decodeActive(r *http.Request) (bool, error) {
	var payload activePayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		return false, err
	}
	if payload.IsActive == nil {
		return false, errIsActiveRequired
	}
	return *payload.IsActive, nil
}

func (h *handler) setRuleActive(w http.ResponseWriter, r *http.Request) {
	active, err := decodeActive(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rule, err := h.app.Rules.SetActive(r.Context(), pathID(r, "id"), active)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}
