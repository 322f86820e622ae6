// Package auth は認証・認可機能を提供します。
package auth

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// bindCredentials は JSON ボディを読み取ります。
// 空ボディは項目の欠落として扱い、必須チェックは Service に任せます。
func bindCredentials(c *gin.Context) (credentialsRequest, bool) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msgInvalidBody})
		return credentialsRequest{}, false
	}
	return req, true
}
