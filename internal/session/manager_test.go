package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fixedClock struct {
	current time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.current
}

func newTestManager(t *testing.T) (*Manager, *fixedClock) {
	t.Helper()

	clock := &fixedClock{current: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	mgr, err := NewManager(Config{
		CookieName:  "test_session",
		HashKey:     []byte("12345678901234567890123456789012"),
		BlockKey:    []byte("abcdefghijklmnopqrstuv0123456789"),
		IdleTimeout: 10 * time.Minute,
		Lifetime:    2 * time.Hour,
		Now:         clock.Now,
	})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	return mgr, clock
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func roundTrip(t *testing.T, mgr *Manager, sess *Session) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	if err := mgr.Save(rec, sess); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	cookie := findCookie(rec.Result().Cookies(), "test_session")
	if cookie == nil {
		t.Fatalf("expected session cookie to be set")
	}
	return cookie
}

func TestNewManagerValidatesKeys(t *testing.T) {
	if _, err := NewManager(Config{}); err == nil {
		t.Fatalf("expected error without hash key")
	}
	if _, err := NewManager(Config{HashKey: []byte("k"), BlockKey: []byte("short")}); err == nil {
		t.Fatalf("expected error for bad block key length")
	}
}

func TestManager_SessionLifecycle(t *testing.T) {
	mgr, clock := newTestManager(t)

	sess, err := mgr.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if sess.ID() == "" || !sess.Dirty() {
		t.Fatalf("expected fresh dirty session")
	}
	if !sess.CreatedAt().Equal(clock.current) {
		t.Fatalf("unexpected CreatedAt: %v", sess.CreatedAt())
	}
	if !sess.ExpiresAt().Equal(clock.current.Add(2 * time.Hour)) {
		t.Fatalf("unexpected ExpiresAt: %v", sess.ExpiresAt())
	}

	sess.SetToken("opaque-token")
	cookie := roundTrip(t, mgr, sess)
	if !cookie.HttpOnly {
		t.Fatalf("expected HttpOnly cookie")
	}
	if cookie.MaxAge != int((2 * time.Hour).Seconds()) {
		t.Fatalf("unexpected MaxAge %d", cookie.MaxAge)
	}

	clock.current = clock.current.Add(5 * time.Minute)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	loaded, err := mgr.Load(req)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if loaded.ID() != sess.ID() || loaded.Token() != "opaque-token" {
		t.Fatalf("session did not round trip: id=%q token=%q", loaded.ID(), loaded.Token())
	}
	if loaded.Dirty() {
		t.Fatalf("decoded session should start clean")
	}
}

func TestManager_IdleExpiry(t *testing.T) {
	mgr, clock := newTestManager(t)
	sess := mgr.New()
	cookie := roundTrip(t, mgr, sess)

	clock.current = clock.current.Add(11 * time.Minute)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	if _, err := mgr.Load(req); err != ErrExpired {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestManager_AbsoluteExpiry(t *testing.T) {
	mgr, clock := newTestManager(t)
	sess := mgr.New()
	cookie := roundTrip(t, mgr, sess)

	// Keep the session active so only the absolute lifetime can expire it.
	for i := 0; i < 13; i++ {
		clock.current = clock.current.Add(9 * time.Minute)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(cookie)
		loaded, err := mgr.Load(req)
		if err != nil {
			t.Fatalf("iteration %d: unexpected error %v", i, err)
		}
		cookie = roundTrip(t, mgr, loaded)
	}

	clock.current = clock.current.Add(9 * time.Minute)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	if _, err := mgr.Load(req); err != ErrExpired {
		t.Fatalf("expected ErrExpired after lifetime, got %v", err)
	}
}

func TestManager_TamperedCookieStartsFresh(t *testing.T) {
	mgr, _ := newTestManager(t)
	original := mgr.New()
	cookie := roundTrip(t, mgr, original)
	cookie.Value = cookie.Value[:len(cookie.Value)-4] + "AAAA"

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	sess, err := mgr.Load(req)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if sess.ID() == original.ID() {
		t.Fatalf("expected a new session for a tampered cookie")
	}
}

func TestManager_DestroyClearsCookie(t *testing.T) {
	mgr, _ := newTestManager(t)
	sess := mgr.New()
	sess.Destroy()

	rec := httptest.NewRecorder()
	if err := mgr.Save(rec, sess); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	cookie := findCookie(rec.Result().Cookies(), "test_session")
	if cookie == nil || cookie.MaxAge >= 0 || cookie.Value != "" {
		t.Fatalf("expected expired cookie, got %+v", cookie)
	}
}
