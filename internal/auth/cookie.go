package auth

import (
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/samber/oops"
)

const (
	// CookieName はアクセストークンを運ぶクッキー名です。
	CookieName = "accessToken"
	// CookieMaxAge はトークンの有効期限より長くし、期限判定をトークン側に任せます。
	CookieMaxAge = 2 * 24 * time.Hour

	sessionKeyToken = "token"
)

// CookieOptions は設定時と削除時で共通のクッキー属性を返します。
// 属性が一致しないとブラウザがクッキーを削除しないため、必ずこの関数を経由します。
func CookieOptions(secure bool, maxAge int) sessions.Options {
	return sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// NewCookieStore はクッキー署名鍵で改ざん検知する署名付きクッキーストアを作成します。
// 暗号化鍵は渡さないため、値は署名のみで暗号化はされません。
func NewCookieStore(secret string, secure bool) (sessions.Store, error) {
	if secret == "" {
		return nil, oops.Code(CodeInternal).Errorf("cookie signing secret is empty")
	}
	store := cookie.NewStore([]byte(secret))
	store.Options(CookieOptions(secure, cookieMaxAgeSeconds()))
	return store, nil
}

// CookieMiddleware は accessToken クッキーを読み書きできるようにするミドルウェアです。
func CookieMiddleware(store sessions.Store) gin.HandlerFunc {
	return sessions.Sessions(CookieName, store)
}

func cookieMaxAgeSeconds() int {
	return int(CookieMaxAge.Seconds())
}

func (m *Manager) setTokenCookie(c *gin.Context, token string) error {
	session := sessions.Default(c)
	session.Clear()
	session.Set(sessionKeyToken, token)
	session.Options(CookieOptions(m.secure, cookieMaxAgeSeconds()))
	if err := session.Save(); err != nil {
		return oops.Code("AUTH_COOKIE_SAVE_FAILED").Wrap(err)
	}
	return nil
}

func (m *Manager) clearTokenCookie(c *gin.Context) error {
	session := sessions.Default(c)
	session.Clear()
	session.Options(CookieOptions(m.secure, -1))
	if err := session.Save(); err != nil {
		return oops.Code("AUTH_COOKIE_SAVE_FAILED").Wrap(err)
	}
	return nil
}

// 署名が一致しないクッキーは sessions 側で空のセッションとして扱われるため、未送信と同じ結果になる。
func tokenFromCookie(c *gin.Context) string {
	token, _ := sessions.Default(c).Get(sessionKeyToken).(string)
	return token
}
