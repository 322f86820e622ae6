package auth

import (
	"errors"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher はパスワードの一方向ハッシュと照合を提供します。
type PasswordHasher interface {
	// Hash は平文パスワードのソルト付きハッシュを返します。
	Hash(password string) (string, error)

	// Verify は一致すれば (true, nil)、不一致なら (false, nil)、ハッシュが壊れていればエラーを返します。
	Verify(password, hash string) (bool, error)
}

// bcrypt が読むのは先頭 72 バイトまで
const bcryptMaxBytes = 72

// BcryptHasher は bcrypt を使う PasswordHasher です。
// 72 バイトを超えるパスワードは Hash と Verify の両方で先頭 72 バイトに切り詰めます。
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher は指定コストの BcryptHasher を作成します。
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, oops.Code(CodeInternal).Errorf("bcrypt cost %d out of range", cost)
	}
	return &BcryptHasher{cost: cost}, nil
}

// Hash はパスワードをハッシュ化します。
func (h *BcryptHasher) Hash(password string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword(truncatePassword(password), h.cost)
	if err != nil {
		return "", oops.Code("AUTH_HASH_FAILED").Wrap(err)
	}
	return string(digest), nil
}

// Verify はパスワードとハッシュを照合します。比較は bcrypt 側で定数時間に行われます。
func (h *BcryptHasher) Verify(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), truncatePassword(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
}

func truncatePassword(password string) []byte {
	b := []byte(password)
	if len(b) > bcryptMaxBytes {
		b = b[:bcryptMaxBytes]
	}
	return b
}
