package auth

import "context"

// Identity は認証済みリクエストの利用者です。
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

type identityKey struct{}

// WithIdentity は Identity を保持したコンテキストを返します。
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext は RequireAuth が設定した Identity を取り出します。
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
