package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yourusername/authgate/internal/audit"
	"github.com/yourusername/authgate/internal/users"
)

type recordedEvents struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordedEvents) Record(_ context.Context, event audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordedEvents) types() []audit.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type testServer struct {
	router  *gin.Engine
	issuer  *TokenIssuer
	events  *recordedEvents
	metrics *Metrics
}

func newTestServer(t *testing.T, limiter LoginLimiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc, _ := newTestService(t, users.NewMemoryStore())
	events := &recordedEvents{}
	metrics := NewMetrics(prometheus.NewRegistry())

	manager, err := NewManager(svc, svc.tokens, ManagerOptions{
		Limiter: limiter,
		Events:  events,
		Metrics: metrics,
		Logger:  discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}

	store, err := NewCookieStore("cookie-secret", false)
	if err != nil {
		t.Fatalf("NewCookieStore returned error: %v", err)
	}

	router := gin.New()
	router.Use(CookieMiddleware(store))
	router.POST("/api/auth/register", manager.Register)
	router.POST("/api/auth/login", manager.Login)
	router.POST("/api/auth/logout", manager.RequireAuth(), manager.Logout)
	router.GET("/api/user/profile", manager.RequireAuth(), func(c *gin.Context) {
		identity, ok := IdentityFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "identity missing"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": identity})
	})

	return &testServer{router: router, issuer: svc.tokens, events: events, metrics: metrics}
}

func (s *testServer) do(t *testing.T, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.RemoteAddr = "192.0.2.10:4321"
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func tokenCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	var found *http.Cookie
	count := 0
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			found = c
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one %s cookie, got %d", CookieName, count)
	}
	return found
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/auth/register", `{"email":"a@x.io","password":"secret123"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["message"] != "User registered successfully" {
		t.Fatalf("unexpected message: %v", body["message"])
	}
	user := body["user"].(map[string]any)
	if user["email"] != "a@x.io" || user["userId"] == "" {
		t.Fatalf("unexpected user: %v", user)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("response must not contain password fields: %s", rec.Body.String())
	}

	cookie := tokenCookie(t, rec)
	if !cookie.HttpOnly || cookie.Path != "/" || cookie.SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected cookie attributes: %+v", cookie)
	}
	if cookie.MaxAge != int(CookieMaxAge.Seconds()) {
		t.Fatalf("cookie MaxAge = %d, want %d", cookie.MaxAge, int(CookieMaxAge.Seconds()))
	}

	rec = s.do(t, http.MethodGet, "/api/user/profile", "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile status = %d, body = %s", rec.Code, rec.Body.String())
	}
	profile := decodeBody(t, rec)["user"].(map[string]any)
	if profile["userId"] != user["userId"] || profile["email"] != "a@x.io" {
		t.Fatalf("profile identity mismatch: %v vs %v", profile, user)
	}

	rec = s.do(t, http.MethodPost, "/api/auth/login", `{"email":"a@x.io","password":"secret123"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["message"] != "Login successful" {
		t.Fatalf("unexpected login body: %s", rec.Body.String())
	}
	loginCookie := tokenCookie(t, rec)

	rec = s.do(t, http.MethodPost, "/api/auth/logout", "", loginCookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["message"] != "Logout successful" {
		t.Fatalf("unexpected logout body: %s", rec.Body.String())
	}
	cleared := tokenCookie(t, rec)
	if cleared.MaxAge >= 0 || cleared.Path != "/" || !cleared.HttpOnly || cleared.SameSite != http.SameSiteLaxMode {
		t.Fatalf("logout cookie must expire with the same attributes: %+v", cleared)
	}

	got := s.events.types()
	want := []audit.EventType{audit.EventRegistered, audit.EventLoginSucceeded, audit.EventLogout}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}

	if v := testutil.ToFloat64(s.metrics.Requests.WithLabelValues("register", "success")); v != 1 {
		t.Fatalf("register success counter = %v, want 1", v)
	}
}

func TestRegisterErrors(t *testing.T) {
	s := newTestServer(t, nil)
	if rec := s.do(t, http.MethodPost, "/api/auth/register", `{"email":"a@x.io","password":"secret123"}`); rec.Code != http.StatusCreated {
		t.Fatalf("setup register failed: %d", rec.Code)
	}

	tests := []struct {
		name    string
		body    string
		status  int
		message string
	}{
		{"duplicate", `{"email":"a@x.io","password":"another123"}`, http.StatusBadRequest, "User with this email already exists"},
		{"missing password", `{"email":"b@x.io"}`, http.StatusBadRequest, "Email and password are required"},
		{"empty body", "", http.StatusBadRequest, "Email and password are required"},
		{"short password", `{"email":"b@x.io","password":"12345"}`, http.StatusBadRequest, "Password must be at least 6 characters long"},
		{"malformed json", `{"email":`, http.StatusBadRequest, "Invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/auth/register", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			if got := decodeBody(t, rec)["error"]; got != tt.message {
				t.Fatalf("error = %v, want %q", got, tt.message)
			}
			if len(rec.Result().Cookies()) != 0 {
				t.Fatal("failed registration must not set a cookie")
			}
		})
	}
}

func TestLoginFailuresShareResponse(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPost, "/api/auth/register", `{"email":"a@x.io","password":"secret123"}`)

	wrong := s.do(t, http.MethodPost, "/api/auth/login", `{"email":"a@x.io","password":"nope-nope"}`)
	unknown := s.do(t, http.MethodPost, "/api/auth/login", `{"email":"ghost@x.io","password":"secret123"}`)

	if wrong.Code != http.StatusUnauthorized || unknown.Code != http.StatusUnauthorized {
		t.Fatalf("statuses = %d, %d; want 401", wrong.Code, unknown.Code)
	}
	if wrong.Body.String() != unknown.Body.String() {
		t.Fatalf("bodies differ: %s vs %s", wrong.Body.String(), unknown.Body.String())
	}
	if decodeBody(t, wrong)["error"] != "Invalid email or password" {
		t.Fatalf("unexpected body: %s", wrong.Body.String())
	}
}

func TestGateRejections(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodPost, "/api/auth/register", `{"email":"a@x.io","password":"secret123"}`)
	cookie := tokenCookie(t, rec)

	t.Run("no cookie", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/user/profile", "")
		assertError(t, rec, http.StatusUnauthorized, "Access denied. No token provided.")
	})

	t.Run("tampered cookie", func(t *testing.T) {
		value := []byte(cookie.Value)
		if value[len(value)/2] == 'A' {
			value[len(value)/2] = 'B'
		} else {
			value[len(value)/2] = 'A'
		}
		rec := s.do(t, http.MethodGet, "/api/user/profile", "", &http.Cookie{Name: CookieName, Value: string(value)})
		assertError(t, rec, http.StatusUnauthorized, "Access denied. No token provided.")
	})

	t.Run("expired token", func(t *testing.T) {
		s.issuer.now = func() time.Time { return issuedAt.Add(TokenTTL) }
		t.Cleanup(func() { s.issuer.now = func() time.Time { return issuedAt } })

		rec := s.do(t, http.MethodGet, "/api/user/profile", "", cookie)
		assertError(t, rec, http.StatusUnauthorized, "Token expired. Please login again.")
	})

	t.Run("logout requires auth", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/auth/logout", "")
		assertError(t, rec, http.StatusUnauthorized, "Access denied. No token provided.")
	})

	if v := testutil.ToFloat64(s.metrics.GateRejections.WithLabelValues("missing")); v != 3 {
		t.Fatalf("missing rejections = %v, want 3", v)
	}
	if v := testutil.ToFloat64(s.metrics.GateRejections.WithLabelValues("expired")); v != 1 {
		t.Fatalf("expired rejections = %v, want 1", v)
	}
}

func TestGateRejectsForgedToken(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodPost, "/api/auth/register", `{"email":"a@x.io","password":"secret123"}`)
	cookie := tokenCookie(t, rec)

	// 署名鍵の異なるトークンを正しく署名されたクッキーに入れる
	forged, err := newTestIssuer(t, "other-secret").Issue("u-evil", "evil@x.io")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	router := gin.New()
	store, _ := NewCookieStore("cookie-secret", false)
	router.Use(CookieMiddleware(store))
	manager := &Manager{secure: false}
	router.GET("/forge", func(c *gin.Context) {
		if err := manager.setTokenCookie(c, forged); err != nil {
			t.Errorf("setTokenCookie returned error: %v", err)
		}
		c.Status(http.StatusNoContent)
	})
	forgeRec := httptest.NewRecorder()
	router.ServeHTTP(forgeRec, httptest.NewRequest(http.MethodGet, "/forge", nil))
	forgedCookie := tokenCookie(t, forgeRec)
	if forgedCookie.Value == cookie.Value {
		t.Fatal("forged cookie should differ")
	}

	rec = s.do(t, http.MethodGet, "/api/user/profile", "", forgedCookie)
	assertError(t, rec, http.StatusUnauthorized, "Invalid token.")
}

func TestLoginLockout(t *testing.T) {
	limiter := NewMemoryLimiter(LimitPolicy{MaxAttempts: 2, Window: time.Minute, LockDuration: time.Minute})
	s := newTestServer(t, limiter)
	s.do(t, http.MethodPost, "/api/auth/register", `{"email":"a@x.io","password":"secret123"}`)

	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodPost, "/api/auth/login", `{"email":"a@x.io","password":"wrong-pass"}`)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401", i+1, rec.Code)
		}
	}

	rec := s.do(t, http.MethodPost, "/api/auth/login", `{"email":"a@x.io","password":"secret123"}`)
	assertError(t, rec, http.StatusTooManyRequests, "Too many login attempts. Please try again later.")
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After header missing")
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatal("locked login must not set a cookie")
	}
}

func TestLoginValidationDoesNotCountAsFailure(t *testing.T) {
	limiter := NewMemoryLimiter(LimitPolicy{MaxAttempts: 1, Window: time.Minute, LockDuration: time.Minute})
	s := newTestServer(t, limiter)
	s.do(t, http.MethodPost, "/api/auth/register", `{"email":"a@x.io","password":"secret123"}`)

	rec := s.do(t, http.MethodPost, "/api/auth/login", `{"email":"a@x.io"}`)
	assertError(t, rec, http.StatusBadRequest, "Email and password are required")

	rec = s.do(t, http.MethodPost, "/api/auth/login", `{"email":"a@x.io","password":"secret123"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	if got := decodeBody(t, rec)["error"]; got != message {
		t.Fatalf("error = %v, want %q", got, message)
	}
}
