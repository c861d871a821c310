package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "leafy",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leafy",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "leafy",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ordersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leafy",
			Subsystem: "orders",
			Name:      "placed_total",
			Help:      "Orders placed, by order type and payment method.",
		},
		[]string{"order_type", "payment_method"},
	)

	orderValue = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "leafy",
			Subsystem: "orders",
			Name:      "total_amount",
			Help:      "Total amount of placed orders.",
			Buckets:   prometheus.ExponentialBuckets(50, 2, 10),
		},
	)

	bestEffortFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leafy",
			Subsystem: "orders",
			Name:      "best_effort_failures_total",
			Help:      "Failures of the best-effort steps after an order was stored.",
		},
		[]string{"step"},
	)

	outboxPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "leafy",
			Subsystem: "orders",
			Name:      "inventory_outbox_pending",
			Help:      "Inventory outbox entries still waiting to be applied.",
		},
	)

	alertSweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leafy",
			Subsystem: "alerts",
			Name:      "sweeps_total",
			Help:      "Alert engine sweeps, by trigger and outcome.",
		},
		[]string{"trigger", "success"},
	)

	alertSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "leafy",
			Subsystem: "alerts",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of alert engine sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	alertsRaised = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leafy",
			Subsystem: "alerts",
			Name:      "raised_total",
			Help:      "Alerts inserted by the engine, by type and severity.",
		},
		[]string{"type", "severity"},
	)

	ruleFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leafy",
			Subsystem: "alerts",
			Name:      "rule_failures_total",
			Help:      "Rule evaluations that failed and were skipped.",
		},
		[]string{"condition"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ordersPlaced,
		orderValue,
		bestEffortFailures,
		outboxPending,
		alertSweeps,
		alertSweepDuration,
		alertsRaised,
		ruleFailures,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// unmatchedPath labels requests no route matched.
const unmatchedPath = "unmatched"

type routeKey struct{}

type routeLabel struct{ template string }

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
// The path label is the template recorded by RouteTemplate, so the router it
// wraps must use that middleware.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		label := &routeLabel{}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), routeKey{}, label)))

		duration := time.Since(start)
		path := label.template
		if path == "" {
			path = unmatchedPath
		}
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RouteTemplate is mux middleware that hands the matched route's path
// template to InstrumentHandler.
func RouteTemplate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if label, ok := r.Context().Value(routeKey{}).(*routeLabel); ok {
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					label.template = tpl
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RecordOrderPlaced records a successfully stored order.
func RecordOrderPlaced(orderType, paymentMethod string, total float64) {
	ordersPlaced.WithLabelValues(orDefault(orderType), strings.ToLower(orDefault(paymentMethod))).Inc()
	orderValue.Observe(total)
}

// RecordBestEffortFailure counts a swallowed failure of step ("inventory",
// "revenue", "outbox").
func RecordBestEffortFailure(step string) {
	bestEffortFailures.WithLabelValues(orDefault(step)).Inc()
}

// SetOutboxPending reports the current inventory outbox backlog.
func SetOutboxPending(n int) {
	outboxPending.Set(float64(n))
}

// RecordAlertSweep records one engine run.
func RecordAlertSweep(trigger string, duration time.Duration, success bool) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	alertSweeps.WithLabelValues(orDefault(trigger), strconv.FormatBool(success)).Inc()
	alertSweepDuration.Observe(duration.Seconds())
}

// RecordAlertRaised counts an inserted alert.
func RecordAlertRaised(alertType, severity string) {
	alertsRaised.WithLabelValues(orDefault(alertType), orDefault(severity)).Inc()
}

// RecordRuleFailure counts a rule skipped because its evaluation failed.
func RecordRuleFailure(condition string) {
	ruleFailures.WithLabelValues(orDefault(condition)).Inc()
}

func orDefault(v string) string {
	if strings.TrimSpace(v) == "" {
		return "unknown"
	}
	return v
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}
