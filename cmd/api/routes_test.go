package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/authgate/internal/auth"
	"github.com/yourusername/authgate/internal/config"
	"github.com/yourusername/authgate/internal/users"
)

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:          "jwt-secret",
		CookieSecret:       "cookie-secret",
		BcryptCost:         4,
		GinMode:            gin.TestMode,
		AppEnv:             "development",
		CORSAllowedOrigins: "*",
		StoreDriver:        config.StoreDriverMemory,
		LoginMaxAttempts:   5,
		LoginWindowMinutes: 15,
		LoginLockMinutes:   10,
		LoginLimiter:       config.LimiterMemory,
	}
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := testConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps := &dependencies{
		users:   users.NewMemoryStore(),
		limiter: auth.NewMemoryLimiter(auth.LimitPolicy{MaxAttempts: 5, Window: time.Minute, LockDuration: time.Minute}),
		logger:  logger,
	}
	router, err := newRouter(cfg, logger, deps)
	if err != nil {
		t.Fatalf("newRouter returned error: %v", err)
	}
	return router
}

func request(router *gin.Engine, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := request(newTestRouter(t), http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["message"] != "Server is running" {
		t.Fatalf("unexpected message: %q", body["message"])
	}
	if _, err := time.Parse(time.RFC3339, body["timestamp"]); err != nil || !strings.HasSuffix(body["timestamp"], "Z") {
		t.Fatalf("timestamp %q is not RFC 3339 UTC: %v", body["timestamp"], err)
	}
}

func TestNotFound(t *testing.T) {
	rec := request(newTestRouter(t), http.MethodGet, "/api/nope", "")
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "Route not found") {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestPanicRecovery(t *testing.T) {
	router := newTestRouter(t)
	router.GET("/boom", func(*gin.Context) { panic("boom") })

	rec := request(router, http.MethodGet, "/boom", "")
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "Something went wrong!") {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestRegisterThenProfile(t *testing.T) {
	router := newTestRouter(t)

	rec := request(router, http.MethodPost, "/api/auth/register", `{"email":"a@x.io","password":"secret123"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.CookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("register did not set the token cookie")
	}

	rec = request(router, http.MethodGet, "/api/user/profile", "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Message string        `json:"message"`
		User    auth.Identity `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Message != "User profile retrieved successfully" || body.User.Email != "a@x.io" {
		t.Fatalf("unexpected profile: %+v", body)
	}

	rec = request(router, http.MethodGet, "/api/user/profile", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("profile without cookie status = %d", rec.Code)
	}

	// 監査が無効なので activity は存在しない
	rec = request(router, http.MethodGet, "/api/user/activity", "", cookie)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("activity status = %d, want 404", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t)
	request(router, http.MethodPost, "/api/auth/login", `{"email":"ghost@x.io","password":"secret123"}`)

	rec := request(router, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `authgate_auth_requests_total{operation="login",result="unauthorized"} 1`) {
		t.Fatalf("login counter missing from exposition:\n%s", rec.Body.String())
	}
}

func TestCORSAllowsCredentialedOrigin(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("Allow-Credentials = %q", got)
	}
}
