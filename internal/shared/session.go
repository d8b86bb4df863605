package shared

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "fechamento:session:"

// SessionManager issues cookie sessions whose state lives in Redis.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	secret     []byte
	ttl        time.Duration
	secure     bool
}

// Session holds per-request session data.
type Session struct {
	ID        string
	values    map[string]string
	email     string
	previous  string
	isNew     bool
	dirty     bool
	destroyed bool
}

type sessionPayload struct {
	Values map[string]string `json:"values"`
	Email  string            `json:"email"`
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, cookieName, secret string, ttl time.Duration, secure bool) *SessionManager {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &SessionManager{
		client:     client,
		cookieName: cookieName,
		secret:     []byte(secret),
		ttl:        ttl,
		secure:     secure,
	}
}

// Load returns the request's session, or a fresh one when the cookie is
// missing or unknown.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if errors.Is(err, http.ErrNoCookie) || (err == nil && cookie.Value == "") {
		return sm.newSession(), nil
	}
	if err != nil {
		return nil, err
	}

	payload, err := sm.client.Get(ctx, sm.storageKey(cookie.Value)).Bytes()
	if errors.Is(err, redis.Nil) {
		return sm.newSession(), nil
	}
	if err != nil {
		return nil, Unavailable("session: load", err)
	}

	var stored sessionPayload
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}
	return &Session{ID: cookie.Value, values: stored.Values, email: stored.Email}, nil
}

// Commit persists a changed session and refreshes the cookie. Untouched
// anonymous sessions are not stored.
func (sm *SessionManager) Commit(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if sess == nil {
		return nil
	}
	if sess.previous != "" {
		if err := sm.client.Del(ctx, sm.storageKey(sess.previous)).Err(); err != nil {
			return Unavailable("session: rotate", err)
		}
		sess.previous = ""
	}
	if sess.destroyed {
		if err := sm.client.Del(ctx, sm.storageKey(sess.ID)).Err(); err != nil {
			return Unavailable("session: destroy", err)
		}
		http.SetCookie(w, sm.cookie("", -1))
		return nil
	}
	if sess.isNew && !sess.dirty {
		return nil
	}
	if sess.dirty {
		data, err := json.Marshal(sessionPayload{Values: sess.values, Email: sess.email})
		if err != nil {
			return err
		}
		if err := sm.client.Set(ctx, sm.storageKey(sess.ID), data, sm.ttl).Err(); err != nil {
			return Unavailable("session: save", err)
		}
		sess.dirty = false
		sess.isNew = false
	}
	http.SetCookie(w, sm.cookie(sess.ID, int(sm.ttl.Seconds())))
	return nil
}

// Destroy marks the session for deletion on commit.
func (sm *SessionManager) Destroy(sess *Session) {
	if sess != nil {
		sess.destroyed = true
	}
}

// Rotate gives the session a new id, dropping the old one on commit. Called on login.
func (sm *SessionManager) Rotate(sess *Session) {
	if sess == nil {
		return
	}
	if !sess.isNew {
		sess.previous = sess.ID
	}
	sess.ID = uuid.NewString()
	sess.dirty = true
}

// storageKey derives the Redis key of a session id so that keys listed from
// Redis cannot be replayed as cookies.
func (sm *SessionManager) storageKey(id string) string {
	mac := hmac.New(sha256.New, sm.secret)
	_, _ = mac.Write([]byte(id))
	return sessionKeyPrefix + hex.EncodeToString(mac.Sum(nil))
}

// CookieName returns the cookie identifier used for sessions.
func (sm *SessionManager) CookieName() string {
	return sm.cookieName
}

func (sm *SessionManager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     sm.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func (sm *SessionManager) newSession() *Session {
	return &Session{ID: uuid.NewString(), values: make(map[string]string), isNew: true}
}

// Set stores a key-value pair.
func (s *Session) Set(key, value string) {
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	s.dirty = true
}

// Get retrieves a value.
func (s *Session) Get(key string) string {
	return s.values[key]
}

// SetEmail binds the session to an authenticated identity.
func (s *Session) SetEmail(email string) {
	s.email = email
	s.dirty = true
}

// Email returns the identity bound to the session, if any.
func (s *Session) Email() string {
	return s.email
}

type sessionContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}
