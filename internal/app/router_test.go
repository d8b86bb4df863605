package app

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/fechamento/internal/auth"
	"github.com/odyssey-erp/fechamento/internal/closing"
	closinghttp "github.com/odyssey-erp/fechamento/internal/closing/http"
	"github.com/odyssey-erp/fechamento/internal/identity"
	"github.com/odyssey-erp/fechamento/internal/observability"
	"github.com/odyssey-erp/fechamento/internal/rbac"
	"github.com/odyssey-erp/fechamento/internal/receivable"
	receivablehttp "github.com/odyssey-erp/fechamento/internal/receivable/http"
	"github.com/odyssey-erp/fechamento/internal/shared"
	"github.com/odyssey-erp/fechamento/internal/store/docstore"
	_ "github.com/odyssey-erp/fechamento/testing"
)

type client struct {
	t       *testing.T
	handler http.Handler
	cookies map[string]*http.Cookie
	csrf    string
}

func (c *client) do(method, path, body string) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if c.csrf != "" {
		req.Header.Set(shared.CSRFHeader, c.csrf)
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	rr := httptest.NewRecorder()
	c.handler.ServeHTTP(rr, req)
	for _, ck := range rr.Result().Cookies() {
		if ck.MaxAge < 0 {
			delete(c.cookies, ck.Name)
			continue
		}
		c.cookies[ck.Name] = ck
	}
	return rr
}

func (c *client) login(email, password string) {
	c.t.Helper()
	rr := c.do(http.MethodGet, "/auth/csrf", "")
	require.Equal(c.t, http.StatusOK, rr.Code)
	var token struct {
		CSRFToken string `json:"csrf_token"`
	}
	require.NoError(c.t, json.Unmarshal(rr.Body.Bytes(), &token))
	c.csrf = token.CSRFToken

	rr = c.do(http.MethodPost, "/auth/login", `{"email":"`+email+`","password":"`+password+`"}`)
	require.Equal(c.t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(c.t, json.Unmarshal(rr.Body.Bytes(), &token))
	c.csrf = token.CSRFToken
}

func newTestApp(t *testing.T, now time.Time) (http.Handler, *miniredis.Miniredis) {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.MinCost)
	require.NoError(t, err)
	directory, err := identity.NewDirectory([]identity.Entry{
		{Email: "admin@vistoria.com", Role: identity.RoleAdmin, PasswordHash: string(hashed)},
		{Email: "capao@vistoria.com", StoreID: "capao", Role: identity.RoleOperator, PasswordHash: string(hashed)},
		{Email: "centro@vistoria.com", StoreID: "centro", Role: identity.RoleOperator, PasswordHash: string(hashed)},
	})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	cfg := &Config{AppEnv: "test", RateLimitPerMin: 1000}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := shared.NewSessionManager(redisClient, "fechamento_session", "session-secret", time.Hour, false)
	csrf := shared.NewCSRFManager("csrf-secret")
	metrics := observability.NewMetrics()

	store := docstore.New(redisClient)
	calc := closing.NewCalculator(closing.DefaultCatalog())
	closingService := closing.NewService(store, store, directory, calc, closing.NewEditPolicy(0, time.UTC))
	closingService.WithNow(func() time.Time { return now })
	receivableService := receivable.NewService(store)
	receivableService.WithNow(func() time.Time { return now })

	rbacService := rbac.NewService(directory)
	rbacMiddleware := rbac.Middleware{Service: rbacService, Sessions: sessions, Logger: logger}
	idempotency := shared.NewRedisIdempotency(redisClient, time.Hour)

	router := NewRouter(RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessions,
		CSRFManager:        csrf,
		Store:              store,
		AuthHandler:        auth.NewHandler(logger, auth.NewService(directory), sessions, csrf),
		RBACMiddleware:     rbacMiddleware,
		PermissionsHandler: rbac.NewPermissionsHandler(rbacService),
		ClosingHandler:     closinghttp.NewHandler(logger, closingService, rbacMiddleware, idempotency, nil, metrics),
		ReceivableHandler:  receivablehttp.NewHandler(logger, receivableService, rbacMiddleware, nil, metrics),
		Metrics:            metrics,
	})
	return router, mr
}

func newClient(t *testing.T, h http.Handler) *client {
	return &client{t: t, handler: h, cookies: map[string]*http.Cookie{}}
}

func TestClosingFlowOverHTTP(t *testing.T) {
	now := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	router, _ := newTestApp(t, now)

	anon := newClient(t, router)
	assert.Equal(t, http.StatusUnauthorized, anon.do(http.MethodGet, "/closings", "").Code)

	op := newClient(t, router)
	op.login("capao@vistoria.com", "correctpass")

	rr := op.do(http.MethodGet, "/auth/me", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), rbac.PermClosingRecord)

	body := `{"date":"2024-03-01","entrances":{"carro":2},"fixed_exits":{"pix":"50","almoco":"20"},"new_receivables":[{"client_name":"Maria","plate":"ABC-1234","amount":"100"}]}`
	rr = op.do(http.MethodPost, "/closings", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"editable":true`)
	var created struct {
		ID     string `json:"id"`
		Totals struct {
			FinalCashBalance struct {
				Value string `json:"value"`
			} `json:"final_cash_balance"`
		} `json:"totals"`
		NewReceivables []struct {
			ReceivableID string `json:"receivable_id"`
		} `json:"new_receivables"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, "70.00", created.Totals.FinalCashBalance.Value)
	require.Len(t, created.NewReceivables, 1)

	rr = op.do(http.MethodPost, "/closings", body)
	assert.Equal(t, http.StatusConflict, rr.Code, "second closing for the same date")

	rr = op.do(http.MethodGet, "/closings/by-date/2024-03-01", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"editable":true`)

	rr = op.do(http.MethodGet, "/receivables?status=pending", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), created.NewReceivables[0].ReceivableID)

	other := newClient(t, router)
	other.login("centro@vistoria.com", "correctpass")
	assert.Equal(t, http.StatusNotFound, other.do(http.MethodGet, "/closings/"+created.ID, "").Code)

	boss := newClient(t, router)
	boss.login("admin@vistoria.com", "correctpass")
	rr = boss.do(http.MethodGet, "/admin/closings/overview?date=2024-03-01", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"store_id":"capao"`)
	assert.Contains(t, rr.Body.String(), `"store_id":"centro"`)
	assert.Equal(t, http.StatusForbidden, boss.do(http.MethodPost, "/closings", body).Code)

	rr = op.do(http.MethodPost, "/auth/logout", "")
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, http.StatusUnauthorized, op.do(http.MethodGet, "/closings", "").Code)
}

func TestUnsafeRequestsNeedCSRFToken(t *testing.T) {
	router, _ := newTestApp(t, time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC))

	c := newClient(t, router)
	rr := c.do(http.MethodPost, "/auth/login", `{"email":"capao@vistoria.com","password":"correctpass"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	c.login("capao@vistoria.com", "correctpass")
	c.csrf = "forged"
	rr = c.do(http.MethodPost, "/closings", `{"date":"2024-03-01"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestHealthzReportsStoreOutage(t *testing.T) {
	router, mr := newTestApp(t, time.Now())
	c := newClient(t, router)

	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/healthz", "").Code)

	mr.Close()
	rr := c.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "5", rr.Header().Get("Retry-After"))
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestApp(t, time.Now())
	c := newClient(t, router)
	c.do(http.MethodGet, "/healthz", "")

	rr := c.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `fechamento_http_requests_total{code="200",route="/healthz"}`)
}
