package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/fechamento/internal/auth"
	"github.com/odyssey-erp/fechamento/internal/identity"
	"github.com/odyssey-erp/fechamento/internal/shared"
	_ "github.com/odyssey-erp/fechamento/testing"
)

func newAuthRouter(t *testing.T) (http.Handler, *shared.SessionManager) {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	dir, err := identity.NewDirectory([]identity.Entry{
		{Email: "admin@vistoria.com", Role: identity.RoleAdmin},
		{Email: "capao@vistoria.com", StoreID: "capao", DisplayName: "Capão", Role: identity.RoleOperator, PasswordHash: string(hashed)},
	})
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })
	sessionManager := shared.NewSessionManager(redisClient, "test_session", "session-secret", time.Hour, false)
	csrfManager := shared.NewCSRFManager("csrfsecret")

	handler := auth.NewHandler(nil, auth.NewService(dir), sessionManager, csrfManager)
	r := chi.NewRouter()
	r.Route("/auth", handler.MountRoutes)
	return r, sessionManager
}

func do(t *testing.T, h http.Handler, sm *shared.SessionManager, sess *shared.Session, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	if err := sm.Commit(context.Background(), httptest.NewRecorder(), sess); err != nil {
		t.Fatalf("commit session: %v", err)
	}
	return res
}

func TestCSRFTokenEndpoint(t *testing.T) {
	h, sm := newAuthRouter(t)
	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	res := do(t, h, sm, sess, http.MethodGet, "/auth/csrf", "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["csrf_token"] == "" || body["csrf_token"] != sess.Get(shared.CSRFSessionKey) {
		t.Fatalf("token not bound to session")
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	h, sm := newAuthRouter(t)
	sess, _ := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))

	res := do(t, h, sm, sess, http.MethodPost, "/auth/login", `{"email":"capao@vistoria.com","password":"wrongpass"}`)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
	if sess.Email() != "" {
		t.Fatalf("session must stay anonymous")
	}

	res = do(t, h, sm, sess, http.MethodPost, "/auth/login", `{"email":"ghost@vistoria.com","password":"correctpass"}`)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("unknown identity: expected 401, got %d", res.Code)
	}
}

func TestLoginValidation(t *testing.T) {
	h, sm := newAuthRouter(t)
	sess, _ := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))

	res := do(t, h, sm, sess, http.MethodPost, "/auth/login", `{"email":"not-an-email","password":"short"}`)
	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), `"field":"email"`) || !strings.Contains(res.Body.String(), `"field":"password"`) {
		t.Fatalf("expected field errors, got %s", res.Body.String())
	}
}

func TestLoginAndLogout(t *testing.T) {
	h, sm := newAuthRouter(t)
	sess, _ := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	anonymousID := sess.ID

	res := do(t, h, sm, sess, http.MethodPost, "/auth/login", `{"email":"Capao@Vistoria.com","password":"correctpass"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if sess.Email() != "capao@vistoria.com" {
		t.Fatalf("session not bound, got %q", sess.Email())
	}
	if sess.ID == anonymousID {
		t.Fatalf("session id must rotate on login")
	}
	var body map[string]string
	_ = json.Unmarshal(res.Body.Bytes(), &body)
	if body["store_id"] != "capao" || body["role"] != "operator" || body["csrf_token"] == "" {
		t.Fatalf("unexpected login body %v", body)
	}

	res = do(t, h, sm, sess, http.MethodPost, "/auth/logout", "")
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sm.CookieName(), Value: sess.ID})
	reloaded, err := sm.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Email() != "" {
		t.Fatalf("logout must drop the identity")
	}
}
