// Package user は認証済みユーザー向けのハンドラーを提供します。
package user

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/authgate/internal/audit"
	"github.com/yourusername/authgate/internal/auth"
)

// TimestampLayout はレスポンスの timestamp に使う RFC 3339 (ミリ秒) 形式です。
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

const activityLimit = 20

// Handler は /api/user/* のハンドラーです。RequireAuth の後ろに置きます。
type Handler struct {
	activity audit.Reader
	logger   *slog.Logger
	now      func() time.Time
}

// NewHandler は Handler を作成します。activity が nil の場合、Activity は 404 を返します。
func NewHandler(activity audit.Reader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		activity: activity,
		logger:   logger,
		now:      time.Now,
	}
}

// Profile は認証済みユーザーの情報を返します。
func (h *Handler) Profile(c *gin.Context) {
	identity, ok := auth.IdentityFromContext(c.Request.Context())
	if !ok {
		h.logger.ErrorContext(c.Request.Context(), "profile requested without identity")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to get user profile"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "User profile retrieved successfully",
		"user":      identity,
		"timestamp": Timestamp(h.now()),
	})
}

// Activity は認証済みユーザーの直近の認証イベントを新しい順で返します。
func (h *Handler) Activity(c *gin.Context) {
	ctx := c.Request.Context()
	if h.activity == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Route not found"})
		return
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		h.logger.ErrorContext(ctx, "activity requested without identity")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to get user activity"})
		return
	}

	events, err := h.activity.Recent(ctx, identity.UserID, activityLimit)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to load activity", "user_id", identity.UserID, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to get user activity"})
		return
	}
	if events == nil {
		events = []audit.Event{}
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "User activity retrieved successfully",
		"events":  events,
	})
}

// Timestamp は t を UTC のミリ秒精度 RFC 3339 文字列にします。
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
