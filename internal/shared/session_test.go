package shared

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestSessions(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "fechamento_session", "session-secret", time.Hour, false), mr
}

func TestSessionRoundTrip(t *testing.T) {
	sm, mr := newTestSessions(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.SetEmail("capao@vistoria.com")
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, sess))
	require.True(t, mr.Exists(sm.storageKey(sess.ID)))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "capao@vistoria.com", loaded.Email())

	sm.Destroy(loaded)
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), loaded))
	require.False(t, mr.Exists(sm.storageKey(sess.ID)))
}

func TestAnonymousSessionIsNotStored(t *testing.T) {
	sm, mr := newTestSessions(t)
	ctx := context.Background()
	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, sess))
	require.Empty(t, mr.Keys())
	require.Empty(t, rec.Result().Cookies())
}

func TestRotateDropsPreviousSession(t *testing.T) {
	sm, mr := newTestSessions(t)
	ctx := context.Background()
	sess, _ := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	sess.Set("k", "v")
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), sess))
	oldID := sess.ID

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "fechamento_session", Value: oldID})
	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	sm.Rotate(loaded)
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), loaded))

	require.NotEqual(t, oldID, loaded.ID)
	require.False(t, mr.Exists(sm.storageKey(oldID)))
	require.True(t, mr.Exists(sm.storageKey(loaded.ID)))
	require.Equal(t, "v", loaded.Get("k"))
}

func TestCSRFTokens(t *testing.T) {
	sm, _ := newTestSessions(t)
	sess, _ := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	csrf := NewCSRFManager("secret")

	require.ErrorIs(t, csrf.VerifyToken(sess, "x"), ErrCSRFTokenMissing)
	token, err := csrf.EnsureToken(sess)
	require.NoError(t, err)
	again, err := csrf.EnsureToken(sess)
	require.NoError(t, err)
	require.Equal(t, token, again)

	require.NoError(t, csrf.VerifyToken(sess, token))
	require.ErrorIs(t, csrf.VerifyToken(sess, ""), ErrCSRFTokenMissing)
	require.ErrorIs(t, csrf.VerifyToken(sess, token+"x"), ErrCSRFTokenMismatch)
}

func TestRedisIdempotency(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	guard := NewRedisIdempotency(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, guard.CheckAndInsert(ctx, "abc", "closings"))
	err := guard.CheckAndInsert(ctx, "abc", "closings")
	require.ErrorIs(t, err, ErrIdempotencyConflict)
	require.ErrorIs(t, err, ErrConflict)
	require.NoError(t, guard.CheckAndInsert(ctx, "abc", "receivables"))

	require.NoError(t, guard.Delete(ctx, "abc", "closings"))
	require.NoError(t, guard.CheckAndInsert(ctx, "abc", "closings"))

	mr.FastForward(2 * time.Minute)
	require.NoError(t, guard.CheckAndInsert(ctx, "abc", "closings"))
	require.Error(t, guard.CheckAndInsert(ctx, "", "closings"))
}

func TestValidationErrorMatchesSentinel(t *testing.T) {
	verr := &ValidationError{}
	require.NoError(t, verr.Err())
	verr.Add("date", "required")
	err := verr.Err()
	require.ErrorIs(t, err, ErrValidation)
	require.Contains(t, err.Error(), "date: required")

	wrapped := Unavailable("op", errors.New("boom"))
	require.ErrorIs(t, wrapped, ErrUnavailable)
	require.Contains(t, wrapped.Error(), "boom")
}

func TestPageOffset(t *testing.T) {
	require.Equal(t, 0, PageOffset(0, 20))
	require.Equal(t, 0, PageOffset(1, 20))
	require.Equal(t, 40, PageOffset(3, 20))
	p := NewPagination(2, 10, 25)
	require.Equal(t, 3, p.TotalPages)
}
