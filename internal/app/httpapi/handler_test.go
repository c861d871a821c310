package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "github.com/leafy-life/cafe/internal/app"
	"github.com/leafy-life/cafe/internal/app/domain/calendar"
	"github.com/leafy-life/cafe/internal/app/storage/memory"
	"github.com/leafy-life/cafe/pkg/logger"
)

const testJWTSecret = "super-secret-jwt-token-with-at-least-32-characters"

type testServer struct {
	t       *testing.T
	store   *memory.Store
	app     *app.Application
	handler http.Handler
	token   string
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	store := memory.New()
	application, err := app.New(store, app.Options{Location: time.UTC}, logger.Discard())
	require.NoError(t, err)
	srv := &testServer{
		t:       t,
		store:   store,
		app:     application,
		handler: NewHandler(application, opts, logger.Discard()),
	}
	return srv
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		buf, err := json.Marshal(b)
		require.NoError(s.t, err)
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.10:4321"
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp := httptest.NewRecorder()
	s.handler.ServeHTTP(resp, req)
	return resp
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), out), resp.Body.String())
}

func (s *testServer) create(path string, body any) map[string]any {
	s.t.Helper()
	resp := s.do(http.MethodPost, path, body)
	require.Equal(s.t, http.StatusCreated, resp.Code, resp.Body.String())
	var out map[string]any
	decodeBody(s.t, resp, &out)
	return out
}

func TestOrderFlow(t *testing.T) {
	srv := newTestServer(t, Options{})

	milk := srv.create(APIPrefix+"/ingredients", map[string]any{
		"name": "Milk", "category": "Dairy", "unit": "ml",
		"current_stock": 1000, "minimum_threshold": 200,
	})
	latte := srv.create(APIPrefix+"/menu-items", map[string]any{
		"name": "Latte", "category": "Coffee",
		"variants": []map[string]any{{"size": "Regular", "price": 120}},
	})
	srv.create(APIPrefix+"/recipes", map[string]any{
		"menu_item_id": latte["id"], "size": "Regular", "name": "Latte",
		"ingredients": []map[string]any{{"ingredient_id": milk["id"], "quantity": 150, "unit": "ml"}},
	})

	placed := srv.create(APIPrefix+"/orders", map[string]any{
		"items": []map[string]any{{
			"menu_item_id": latte["id"], "size": "Regular", "quantity": 2, "unit_price": 120,
		}},
		"payment_method": "UPI",
		"order_type":     "dine_in",
		"discount":       40,
	})
	assert.Equal(t, 240.0, placed["subtotal"])
	assert.Equal(t, 200.0, placed["total_amount"])
	today := calendar.Format(time.Now().UTC())
	assert.Equal(t, today, placed["date"])

	resp := srv.do(http.MethodGet, APIPrefix+"/orders/"+placed["id"].(string), nil)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = srv.do(http.MethodGet, APIPrefix+"/ingredients/"+milk["id"].(string), nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var ing map[string]any
	decodeBody(t, resp, &ing)
	assert.Equal(t, 700.0, ing["current_stock"])

	resp = srv.do(http.MethodGet, APIPrefix+"/revenue/"+today, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var rev map[string]any
	decodeBody(t, resp, &rev)
	assert.Equal(t, 200.0, rev["total_sales"])
	assert.Equal(t, 1.0, rev["number_of_orders"])

	resp = srv.do(http.MethodGet, APIPrefix+"/dashboard", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var dash app.Dashboard
	decodeBody(t, resp, &dash)
	assert.Equal(t, 200.0, dash.Today.TotalSales)
	assert.Empty(t, dash.LowStock)

	resp = srv.do(http.MethodGet, APIPrefix+"/recipes/exclusions?menu_item_id="+latte["id"].(string)+"&size=Regular", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var opts []map[string]any
	decodeBody(t, resp, &opts)
	require.Len(t, opts, 1)
	assert.Equal(t, "Milk", opts[0]["name"])
}

func TestAlertSweepAndLifecycle(t *testing.T) {
	srv := newTestServer(t, Options{})

	srv.create(APIPrefix+"/ingredients", map[string]any{
		"name": "Beans", "unit": "g", "current_stock": 5, "minimum_threshold": 100,
	})
	srv.create(APIPrefix+"/alert-rules", map[string]any{
		"name": "Low stock", "condition": "stock_below_threshold", "parameters": map[string]any{},
	})

	resp := srv.do(http.MethodPost, APIPrefix+"/alerts/sweep", nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var report map[string]any
	decodeBody(t, resp, &report)
	assert.Equal(t, 1.0, report["inserted"])

	// A second sweep finds the alert already open.
	resp = srv.do(http.MethodPost, APIPrefix+"/alerts/sweep", nil)
	decodeBody(t, resp, &report)
	assert.Equal(t, 0.0, report["inserted"])

	resp = srv.do(http.MethodGet, APIPrefix+"/alerts?open=true", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var open []map[string]any
	decodeBody(t, resp, &open)
	require.Len(t, open, 1)
	assert.Equal(t, "Low Stock: Beans", open[0]["title"])
	assert.Equal(t, "high", open[0]["severity"])

	resp = srv.do(http.MethodGet, APIPrefix+"/alerts/unread-count", nil)
	var count map[string]int
	decodeBody(t, resp, &count)
	assert.Equal(t, 1, count["unread"])

	resp = srv.do(http.MethodGet, APIPrefix+"/dashboard", nil)
	var dash app.Dashboard
	decodeBody(t, resp, &dash)
	assert.Equal(t, 1, dash.OpenAlerts)
	assert.Equal(t, 1, dash.AlertsBySeverity["high"])
	require.Len(t, dash.LowStock, 1)
	assert.Equal(t, "Beans", dash.LowStock[0].Name)

	id := open[0]["id"].(string)
	resp = srv.do(http.MethodPost, APIPrefix+"/alerts/"+id+"/resolve", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var resolved map[string]any
	decodeBody(t, resp, &resolved)
	assert.NotNil(t, resolved["resolved_at"])

	resp = srv.do(http.MethodPost, APIPrefix+"/alerts/dismiss-all", nil)
	var dismissed map[string]int
	decodeBody(t, resp, &dismissed)
	assert.Equal(t, 0, dismissed["dismissed"])
}

func TestRuleValidationIsABadRequest(t *testing.T) {
	srv := newTestServer(t, Options{})
	resp := srv.do(http.MethodPost, APIPrefix+"/alert-rules", map[string]any{
		"name": "Rent", "condition": "monthly_rent_due", "parameters": map[string]any{"dayOfMonth": 45},
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "error")
}

func TestFinanceUsesStoredSettings(t *testing.T) {
	srv := newTestServer(t, Options{})

	resp := srv.do(http.MethodPut, APIPrefix+"/settings/minimumGuaranteeRent", "25000")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = srv.do(http.MethodGet, APIPrefix+"/finance/rent?year=2026&month=9", nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var calc map[string]any
	decodeBody(t, resp, &calc)
	assert.Equal(t, 25000.0, calc["minimum_guarantee"])
	assert.Equal(t, 25000.0, calc["effective_rent"])
	assert.Equal(t, "Minimum Guarantee", calc["rent_type"])

	srv.create(APIPrefix+"/expenses", map[string]any{
		"date": "2026-10-05", "category": "electricity", "amount": 3200,
	})
	resp = srv.do(http.MethodGet, APIPrefix+"/finance/pnl?year=2026&month=9", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var pl map[string]any
	decodeBody(t, resp, &pl)
	assert.Equal(t, 28200.0, pl["total_expenses"])
	assert.Equal(t, true, pl["rent_from_revenue_share"])

	resp = srv.do(http.MethodGet, APIPrefix+"/finance/rent?month=12", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestMetricsLabelRouteTemplates(t *testing.T) {
	srv := newTestServer(t, Options{})
	resp := srv.do(http.MethodGet, APIPrefix+"/finance/rent?year=2026&month=9", nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	srv.do(http.MethodPut, APIPrefix+"/tasks/missing/status", map[string]any{"status": "completed"})

	resp = srv.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	body := resp.Body.String()
	assert.Contains(t, body, `path="/api/v1/finance/rent",status="200"`)
	assert.Contains(t, body, `path="/api/v1/tasks/{id}/status"`)
	assert.NotContains(t, body, `path="/api/v1/finance/:id"`)
}

func TestTasks(t *testing.T) {
	srv := newTestServer(t, Options{})
	created := srv.create(APIPrefix+"/tasks", map[string]any{"title": "Descale machine", "due_date": "2026-10-20"})
	id := created["id"].(string)

	resp := srv.do(http.MethodPut, APIPrefix+"/tasks/"+id+"/status", map[string]any{"status": "completed"})
	require.Equal(t, http.StatusOK, resp.Code)

	resp = srv.do(http.MethodGet, APIPrefix+"/tasks?open=true", nil)
	var open []map[string]any
	decodeBody(t, resp, &open)
	assert.Empty(t, open)

	resp = srv.do(http.MethodPut, APIPrefix+"/tasks/"+id+"/status", map[string]any{"status": "someday"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestErrorStatuses(t *testing.T) {
	srv := newTestServer(t, Options{})

	resp := srv.do(http.MethodPost, APIPrefix+"/orders", map[string]any{"payment_method": "cash", "order_type": "takeaway"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = srv.do(http.MethodPost, APIPrefix+"/orders", `{"surprise": true}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = srv.do(http.MethodGet, APIPrefix+"/orders/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = srv.do(http.MethodGet, APIPrefix+"/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	srv.store.FailOn("select", "orders", errors.New("connection reset by peer"))
	resp = srv.do(http.MethodGet, APIPrefix+"/orders", nil)
	assert.Equal(t, http.StatusBadGateway, resp.Code)
	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Contains(t, body["error"], "connection reset by peer")
}

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func userClaims(sub, appRole string, expiresIn time.Duration) Claims {
	c := Claims{
		Email: sub + "@leafy.test",
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Audience:  jwt.ClaimStrings{"authenticated"},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}
	if appRole != "" {
		c.AppMetadata = map[string]any{"role": appRole}
	}
	return c
}

func authOptions() Options {
	return Options{Auth: AuthOptions{
		Secret:     testJWTSecret,
		Audience:   "authenticated",
		AdminRoles: []string{"admin"},
	}}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, authOptions())

	assert.Equal(t, http.StatusUnauthorized, srv.do(http.MethodGet, APIPrefix+"/dashboard", nil).Code)

	cases := map[string]string{
		"malformed":      "not-a-jwt",
		"wrong secret":   signToken(t, "another-secret-another-secret-1234", userClaims("u1", "", time.Hour)),
		"expired":        signToken(t, testJWTSecret, userClaims("u1", "", -time.Minute)),
		"wrong audience": signToken(t, testJWTSecret, func() Claims { c := userClaims("u1", "", time.Hour); c.Audience = jwt.ClaimStrings{"anon"}; return c }()),
		"no subject":     signToken(t, testJWTSecret, userClaims("", "", time.Hour)),
		"no expiry": signToken(t, testJWTSecret, func() Claims {
			c := userClaims("u1", "", time.Hour)
			c.ExpiresAt = nil
			return c
		}()),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			srv.token = token
			resp := srv.do(http.MethodGet, APIPrefix+"/dashboard", nil)
			assert.Equal(t, http.StatusUnauthorized, resp.Code, resp.Body.String())
		})
	}

	srv.token = signToken(t, testJWTSecret, userClaims("u1", "", time.Hour))
	assert.Equal(t, http.StatusOK, srv.do(http.MethodGet, APIPrefix+"/dashboard", nil).Code)

	srv.token = ""
	assert.Equal(t, http.StatusOK, srv.do(http.MethodGet, "/healthz", nil).Code)
}

func TestRolesFromClaims(t *testing.T) {
	srv := newTestServer(t, authOptions())

	srv.token = signToken(t, testJWTSecret, userClaims("staff-1", "", time.Hour))
	assert.Equal(t, http.StatusOK, srv.do(http.MethodGet, APIPrefix+"/settings", nil).Code)
	resp := srv.do(http.MethodPut, APIPrefix+"/settings/revenueSharePercent", `"25"`)
	assert.Equal(t, http.StatusForbidden, resp.Code, resp.Body.String())
	resp = srv.do(http.MethodPost, APIPrefix+"/tasks", map[string]any{"title": "Clean grinder", "priority": "low"})
	assert.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	srv.token = signToken(t, testJWTSecret, userClaims("owner-1", "Admin", time.Hour))
	resp = srv.do(http.MethodPut, APIPrefix+"/settings/revenueSharePercent", `"25"`)
	assert.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	// The service key has no audience or subject and acts as admin.
	srv.token = signToken(t, testJWTSecret, Claims{
		Role: "service_role",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "supabase",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	resp = srv.do(http.MethodPut, APIPrefix+"/settings/revenueSharePercent", `"30"`)
	assert.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
}

func TestValidateRejectsNonHMACTokens(t *testing.T) {
	a := newAuthenticator(AuthOptions{Secret: testJWTSecret}, logger.Discard())
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, userClaims("u1", "", time.Hour)).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = a.validate(unsigned)
	assert.Error(t, err)

	p, err := a.validate(signToken(t, testJWTSecret, userClaims("u1", "", time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "u1", Email: "u1@leafy.test", Role: RoleStaff}, p)
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, Options{RequestsPerSecond: 0.001, Burst: 2})
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, srv.do(http.MethodGet, APIPrefix+"/tasks", nil).Code, fmt.Sprintf("request %d", i))
	}
	resp := srv.do(http.MethodGet, APIPrefix+"/tasks", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Equal(t, "1", resp.Header().Get("Retry-After"))

	// Health checks are never limited.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "192.0.2.10:4321"
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(errors.New("name is required")))
}
