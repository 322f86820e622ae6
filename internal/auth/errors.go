package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"
)

// エラーコード
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeConflict        = "CONFLICT"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeTooManyAttempts = "TOO_MANY_ATTEMPTS"
	CodeTokenMissing    = "TOKEN_MISSING"
	CodeTokenExpired    = "TOKEN_EXPIRED"
	CodeTokenInvalid    = "TOKEN_INVALID"
	CodeInternal        = "INTERNAL_ERROR"
)

// クライアントに返すメッセージ
const (
	msgCredentialsRequired = "Email and password are required"
	msgPasswordTooShort    = "Password must be at least 6 characters long"
	msgEmailTaken          = "User with this email already exists"
	msgInvalidCredentials  = "Invalid email or password"
	msgInvalidBody         = "Invalid request body"
	msgTooManyAttempts     = "Too many login attempts. Please try again later."
	msgNoToken             = "Access denied. No token provided."
	msgTokenExpired        = "Token expired. Please login again."
	msgTokenInvalid        = "Invalid token."
	msgGateFailed          = "Authentication error."
	msgRegisterFailed      = "Registration failed"
	msgLoginFailed         = "Login failed"
	msgLogoutFailed        = "Logout failed"
)

// HasCode は err が指定コードの oops エラーかどうかを返します。
func HasCode(err error, code string) bool {
	if err == nil {
		return false
	}
	oopsErr, ok := oops.AsOops(err)
	return ok && oopsErr.Code() == code
}

func validationError(message string) error {
	return oops.Code(CodeValidation).Errorf("%s", message)
}

func unauthorizedError() error {
	return oops.Code(CodeUnauthorized).Errorf("%s", msgInvalidCredentials)
}

// respondWithError はエラーコードを HTTP ステータスに変換して {error: message} を返します。
// 分類できないエラーは fallback メッセージの 500 になり、内部の原因はレスポンスに含めません。
func respondWithError(c *gin.Context, err error, fallback string) {
	status, message := classify(err, fallback)
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

func classify(err error, fallback string) (int, string) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return http.StatusInternalServerError, fallback
	}

	switch oopsErr.Code() {
	case CodeValidation, CodeConflict:
		return http.StatusBadRequest, oopsErr.Error()
	case CodeUnauthorized:
		return http.StatusUnauthorized, oopsErr.Error()
	case CodeTooManyAttempts:
		return http.StatusTooManyRequests, oopsErr.Error()
	case CodeTokenMissing:
		return http.StatusUnauthorized, msgNoToken
	case CodeTokenExpired:
		return http.StatusUnauthorized, msgTokenExpired
	case CodeTokenInvalid:
		return http.StatusUnauthorized, msgTokenInvalid
	default:
		return http.StatusInternalServerError, fallback
	}
}
