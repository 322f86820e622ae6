package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// TokenTTL はアクセストークンの有効期間です。クッキーの MaxAge より必ず短くします。
const TokenTTL = 24 * time.Hour

// Claims はアクセストークンに埋め込む内容です。
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// TokenIssuer は HS256 署名付きトークンの発行と検証を行います。
// 生成後は読み取り専用なので、複数のリクエストから同時に使えます。
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer は TokenIssuer を作成します。秘密鍵が空の場合はエラーです。
func NewTokenIssuer(secret string) (*TokenIssuer, error) {
	if secret == "" {
		return nil, oops.Code(CodeInternal).Errorf("token signing secret is empty")
	}
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    TokenTTL,
		now:    time.Now,
	}, nil
}

// Issue は userID と email を含むトークンを発行します。
// iat/exp は秒精度で記録され、exp = iat + 24h です。
func (i *TokenIssuer) Issue(userID, email string) (string, error) {
	now := i.now().Truncate(time.Second)
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", oops.Code("AUTH_TOKEN_SIGN_FAILED").Wrap(err)
	}
	return token, nil
}

// Verify はトークンを検証して Identity を返します。
// 期限切れは TOKEN_EXPIRED、それ以外の検証失敗は TOKEN_INVALID のコードを持つエラーになります。
func (i *TokenIssuer) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, oops.Code(CodeTokenMissing).Errorf("token is empty")
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, oops.Code(CodeTokenExpired).Wrap(err)
		}
		return Identity{}, oops.Code(CodeTokenInvalid).Wrap(err)
	}
	if !parsed.Valid || claims.UserID == "" || claims.Email == "" {
		return Identity{}, oops.Code(CodeTokenInvalid).Errorf("token claims incomplete")
	}

	return Identity{UserID: claims.UserID, Email: claims.Email}, nil
}
