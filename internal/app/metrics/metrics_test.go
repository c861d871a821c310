package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestInstrumentHandlerLabelsRouteTemplates(t *testing.T) {
	r := mux.NewRouter()
	r.Use(RouteTemplate)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {}).Methods(http.MethodGet)
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}).Methods(http.MethodGet)
	api.HandleFunc("/finance/rent", func(w http.ResponseWriter, r *http.Request) {}).Methods(http.MethodGet)
	api.HandleFunc("/ingredients/{id}/restock", func(w http.ResponseWriter, r *http.Request) {}).Methods(http.MethodPost)
	h := InstrumentHandler(r)

	tests := []struct {
		method, path  string
		label, status string
	}{
		{http.MethodGet, "/api/v1/tasks/t1", "/api/v1/tasks/{id}", "418"},
		{http.MethodGet, "/api/v1/finance/rent", "/api/v1/finance/rent", "200"},
		{http.MethodPost, "/api/v1/ingredients/milk/restock", "/api/v1/ingredients/{id}/restock", "200"},
		{http.MethodGet, "/healthz", "/healthz", "200"},
		{http.MethodGet, "/api/v1/finance/rent/extra/segments", unmatchedPath, "404"},
	}
	for _, tc := range tests {
		counter := httpRequests.WithLabelValues(tc.method, tc.label, tc.status)
		before := testutil.ToFloat64(counter)
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, before+1, testutil.ToFloat64(counter), tc.path)
	}
}

func TestInstrumentHandlerWithoutRouter(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	counter := httpRequests.WithLabelValues("GET", unmatchedPath, "202")
	before := testutil.ToFloat64(counter)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/orders/o-1234", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestRecorders(t *testing.T) {
	RecordOrderPlaced("dine_in", "UPI", 240)
	assert.GreaterOrEqual(t, testutil.ToFloat64(ordersPlaced.WithLabelValues("dine_in", "upi")), 1.0)

	RecordRuleFailure("")
	assert.GreaterOrEqual(t, testutil.ToFloat64(ruleFailures.WithLabelValues("unknown")), 1.0)

	RecordAlertSweep("manual", 0, true)
	SetOutboxPending(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(outboxPending))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "leafy_alerts_sweeps_total"))
}
