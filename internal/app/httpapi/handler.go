// Package httpapi exposes the application services over a JSON REST API.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	app "github.com/leafy-life/cafe/internal/app"
	"github.com/leafy-life/cafe/internal/app/metrics"
	"github.com/leafy-life/cafe/internal/app/storage"
	"github.com/leafy-life/cafe/pkg/logger"
)

// APIPrefix is the mount point of the versioned API.
const APIPrefix = "/api/v1"

const maxBodyBytes = 1 << 20

// Options configure the middleware around the API routes.
type Options struct {
	Auth AuthOptions
	// RequestsPerSecond and Burst bound each client. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
	log *logger.Logger
}

// NewHandler returns the instrumented router: the API under APIPrefix plus
// /healthz and /metrics, which skip auth and rate limiting.
func NewHandler(application *app.Application, opts Options, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log}

	r := mux.NewRouter()
	r.Use(metrics.RouteTemplate)
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix(APIPrefix).Subrouter()
	api.Use(newAuthenticator(opts.Auth, log).handler)
	if opts.RequestsPerSecond > 0 && opts.Burst > 0 {
		api.Use(newRateLimiter(opts.RequestsPerSecond, opts.Burst, log).handler)
	}
	h.routes(api)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, fmt.Errorf("no route for %s %s", r.Method, r.URL.Path))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed on %s", r.Method, r.URL.Path))
	})
	return metrics.InstrumentHandler(r)
}

// routes mounts the API. Settings, alert rules, outbox replay and deletes of
// catalog and expense records need RoleAdmin.
func (h *handler) routes(api *mux.Router) {
	api.HandleFunc("/dashboard", h.dashboard).Methods(http.MethodGet)

	api.HandleFunc("/orders", h.listOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders", h.placeOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}", h.getOrder).Methods(http.MethodGet)
	api.HandleFunc("/revenue/{date}", h.dailyRevenue).Methods(http.MethodGet)
	api.HandleFunc("/inventory-outbox", h.pendingOutbox).Methods(http.MethodGet)
	api.Handle("/inventory-outbox/process", requireAdmin(h.processOutbox)).Methods(http.MethodPost)

	api.HandleFunc("/finance/rent", h.rent).Methods(http.MethodGet)
	api.HandleFunc("/finance/pnl", h.profitAndLoss).Methods(http.MethodGet)

	api.HandleFunc("/alerts", h.listAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/unread-count", h.unreadCount).Methods(http.MethodGet)
	api.HandleFunc("/alerts/sweep", h.sweep).Methods(http.MethodPost)
	api.HandleFunc("/alerts/dismiss-all", h.dismissAll).Methods(http.MethodPost)
	api.HandleFunc("/alerts/{id}", h.getAlert).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}/read", h.markRead).Methods(http.MethodPost)
	api.HandleFunc("/alerts/{id}/resolve", h.resolveAlert).Methods(http.MethodPost)

	api.HandleFunc("/alert-rules", h.listRules).Methods(http.MethodGet)
	api.Handle("/alert-rules", requireAdmin(h.createRule)).Methods(http.MethodPost)
	api.HandleFunc("/alert-rules/{id}", h.getRule).Methods(http.MethodGet)
	api.Handle("/alert-rules/{id}", requireAdmin(h.updateRule)).Methods(http.MethodPut)
	api.Handle("/alert-rules/{id}", requireAdmin(h.deleteRule)).Methods(http.MethodDelete)
	api.Handle("/alert-rules/{id}/active", requireAdmin(h.setRuleActive)).Methods(http.MethodPut)

	api.HandleFunc("/ingredients", h.listIngredients).Methods(http.MethodGet)
	api.HandleFunc("/ingredients", h.createIngredient).Methods(http.MethodPost)
	api.HandleFunc("/ingredients/low-stock", h.lowStock).Methods(http.MethodGet)
	api.HandleFunc("/ingredients/{id}", h.getIngredient).Methods(http.MethodGet)
	api.HandleFunc("/ingredients/{id}", h.updateIngredient).Methods(http.MethodPut)
	api.Handle("/ingredients/{id}", requireAdmin(h.deleteIngredient)).Methods(http.MethodDelete)
	api.HandleFunc("/ingredients/{id}/restock", h.restock).Methods(http.MethodPost)

	api.HandleFunc("/menu-items", h.listMenuItems).Methods(http.MethodGet)
	api.HandleFunc("/menu-items", h.createMenuItem).Methods(http.MethodPost)
	api.HandleFunc("/menu-items/{id}", h.getMenuItem).Methods(http.MethodGet)
	api.HandleFunc("/menu-items/{id}", h.updateMenuItem).Methods(http.MethodPut)
	api.HandleFunc("/menu-items/{id}/active", h.setMenuItemActive).Methods(http.MethodPut)

	api.HandleFunc("/recipes", h.listRecipes).Methods(http.MethodGet)
	api.HandleFunc("/recipes", h.createRecipe).Methods(http.MethodPost)
	api.HandleFunc("/recipes/exclusions", h.exclusionOptions).Methods(http.MethodGet)
	api.Handle("/recipes/{id}", requireAdmin(h.deleteRecipe)).Methods(http.MethodDelete)

	api.HandleFunc("/expenses", h.listExpenses).Methods(http.MethodGet)
	api.HandleFunc("/expenses", h.createExpense).Methods(http.MethodPost)
	api.Handle("/expenses/{id}", requireAdmin(h.deleteExpense)).Methods(http.MethodDelete)

	api.HandleFunc("/settings", h.listSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings/{key}", h.getSetting).Methods(http.MethodGet)
	api.Handle("/settings/{key}", requireAdmin(h.putSetting)).Methods(http.MethodPut)

	api.HandleFunc("/tasks", h.listTasks).Methods(http.MethodGet)
	api.HandleFunc("/tasks", h.createTask).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}/status", h.setTaskStatus).Methods(http.MethodPut)
	api.HandleFunc("/tasks/{id}", h.deleteTask).Methods(http.MethodDelete)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"services": h.app.Services(),
	})
}

func (h *handler) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.app.Dashboard(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// statusFor maps service errors onto HTTP statuses: missing rows are 404,
// failures reported by the row store 502, anything else a bad request.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case storage.IsStoreError(err):
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).
			WithField("method", r.Method).
			WithField("path", r.URL.Path).
			Warn("request failed")
	}
	writeError(w, status, err)
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func pathID(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

func queryBool(r *http.Request, name string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", name)
	}
	return v, nil
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return v, nil
}
