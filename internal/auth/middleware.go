package auth

import (
	"github.com/gin-gonic/gin"
)

// RequireAuth はクッキーのトークンを検証し、Identity をリクエストのコンテキストに載せるミドルウェアです。
// ユーザーストアには触れません。
func (m *Manager) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := m.tokens.Verify(tokenFromCookie(c))
		if err != nil {
			reason := gateReason(err)
			m.metrics.reject(reason)
			if reason == "error" {
				m.logger.ErrorContext(c.Request.Context(), "auth gate failed", "error", err)
			}
			respondWithError(c, err, msgGateFailed)
			return
		}

		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), identity))
		c.Next()
	}
}

func gateReason(err error) string {
	switch {
	case HasCode(err, CodeTokenMissing):
		return "missing"
	case HasCode(err, CodeTokenExpired):
		return "expired"
	case HasCode(err, CodeTokenInvalid):
		return "invalid"
	default:
		return "error"
	}
}
