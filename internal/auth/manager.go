package auth

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"

	"github.com/yourusername/authgate/internal/audit"
)

// ManagerOptions は Manager の任意の依存です。nil のものは無効として扱います。
type ManagerOptions struct {
	Limiter LoginLimiter
	Events  audit.Recorder
	Metrics *Metrics
	Secure  bool
	Logger  *slog.Logger
}

// Manager は認証系の HTTP ハンドラーとミドルウェアをまとめた構造体です。
type Manager struct {
	service *Service
	tokens  *TokenIssuer
	limiter LoginLimiter
	events  audit.Recorder
	metrics *Metrics
	secure  bool
	logger  *slog.Logger
}

// NewManager は認証マネージャーを作成します。
func NewManager(service *Service, tokens *TokenIssuer, opts ManagerOptions) (*Manager, error) {
	if service == nil {
		return nil, oops.Code(CodeInternal).Errorf("service is nil")
	}
	if tokens == nil {
		return nil, oops.Code(CodeInternal).Errorf("token issuer is nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Manager{
		service: service,
		tokens:  tokens,
		limiter: opts.Limiter,
		events:  opts.Events,
		metrics: metrics,
		secure:  opts.Secure,
		logger:  logger,
	}, nil
}

// Register は /api/auth/register のハンドラーです。
func (m *Manager) Register(c *gin.Context) {
	req, ok := bindCredentials(c)
	if !ok {
		m.metrics.observe("register", "invalid")
		return
	}

	ctx := c.Request.Context()
	identity, token, err := m.service.Register(ctx, req.Email, req.Password)
	if err != nil {
		m.metrics.observe("register", resultLabel(err))
		m.logFailure(ctx, "register failed", err)
		respondWithError(c, err, msgRegisterFailed)
		return
	}

	if err := m.setTokenCookie(c, token); err != nil {
		m.metrics.observe("register", "error")
		m.logFailure(ctx, "register failed", err)
		respondWithError(c, err, msgRegisterFailed)
		return
	}

	m.metrics.observe("register", "success")
	m.recordEvent(c, audit.EventRegistered, identity.UserID)
	c.JSON(http.StatusCreated, gin.H{
		"message": "User registered successfully",
		"user":    identity,
	})
}

// Login は /api/auth/login のハンドラーです。
func (m *Manager) Login(c *gin.Context) {
	req, ok := bindCredentials(c)
	if !ok {
		m.metrics.observe("login", "invalid")
		return
	}

	ctx := c.Request.Context()
	ip := c.ClientIP()
	if retryAfter := m.checkLock(ctx, ip); retryAfter > 0 {
		// Retry-After は秒数で返す
		c.Header("Retry-After", strconv.FormatInt(int64(math.Ceil(retryAfter.Seconds())), 10))
		m.metrics.observe("login", "locked")
		respondWithError(c, oops.Code(CodeTooManyAttempts).Errorf("%s", msgTooManyAttempts), msgLoginFailed)
		return
	}

	identity, token, err := m.service.Login(ctx, req.Email, req.Password)
	if err != nil {
		if HasCode(err, CodeUnauthorized) {
			remaining := m.recordFailure(ctx, ip)
			m.logger.InfoContext(ctx, "login rejected", "client_ip", ip, "remaining_attempts", remaining)
		} else {
			m.logFailure(ctx, "login failed", err)
		}
		m.metrics.observe("login", resultLabel(err))
		respondWithError(c, err, msgLoginFailed)
		return
	}

	m.resetAttempts(ctx, ip)

	if err := m.setTokenCookie(c, token); err != nil {
		m.metrics.observe("login", "error")
		m.logFailure(ctx, "login failed", err)
		respondWithError(c, err, msgLoginFailed)
		return
	}

	m.metrics.observe("login", "success")
	m.recordEvent(c, audit.EventLoginSucceeded, identity.UserID)
	c.JSON(http.StatusOK, gin.H{
		"message": "Login successful",
		"user":    identity,
	})
}

// Logout は /api/auth/logout のハンドラーです。RequireAuth の後ろに置きます。
func (m *Manager) Logout(c *gin.Context) {
	ctx := c.Request.Context()
	if err := m.clearTokenCookie(c); err != nil {
		m.metrics.observe("logout", "error")
		m.logFailure(ctx, "logout failed", err)
		respondWithError(c, err, msgLogoutFailed)
		return
	}

	m.metrics.observe("logout", "success")
	if identity, ok := IdentityFromContext(ctx); ok {
		m.recordEvent(c, audit.EventLogout, identity.UserID)
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logout successful"})
}

func (m *Manager) checkLock(ctx context.Context, ip string) time.Duration {
	if m.limiter == nil {
		return 0
	}
	return m.limiter.Check(ctx, ip)
}

func (m *Manager) recordFailure(ctx context.Context, ip string) int {
	if m.limiter == nil {
		return -1
	}
	return m.limiter.RecordFailure(ctx, ip)
}

func (m *Manager) resetAttempts(ctx context.Context, ip string) {
	if m.limiter == nil {
		return
	}
	m.limiter.Reset(ctx, ip)
}

// 記録の失敗はレスポンスに影響させない
func (m *Manager) recordEvent(c *gin.Context, eventType audit.EventType, userID string) {
	if m.events == nil {
		return
	}
	ctx := c.Request.Context()
	err := m.events.Record(ctx, audit.Event{
		Type:       eventType,
		UserID:     userID,
		ClientIP:   c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		m.logger.WarnContext(ctx, "failed to record auth event", "event_type", string(eventType), "user_id", userID, "error", err)
	}
}

func (m *Manager) logFailure(ctx context.Context, msg string, err error) {
	status, _ := classify(err, "")
	if status >= http.StatusInternalServerError {
		m.logger.ErrorContext(ctx, msg, "error", err)
		return
	}
	m.logger.DebugContext(ctx, msg, "error", err)
}

func resultLabel(err error) string {
	switch {
	case HasCode(err, CodeValidation):
		return "invalid"
	case HasCode(err, CodeConflict):
		return "conflict"
	case HasCode(err, CodeUnauthorized):
		return "unauthorized"
	default:
		return "error"
	}
}
