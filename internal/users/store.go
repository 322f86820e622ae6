// Package users はメールアドレスをキーとした認証情報レコードの保存先を提供します。
package users

import (
	"context"
	"time"

	"github.com/samber/oops"
)

// エラーコード
const (
	CodeNotFound    = "USER_NOT_FOUND"
	CodeEmailTaken  = "USER_EMAIL_TAKEN"
	CodeIDTaken     = "USER_ID_TAKEN"
	CodeStoreFailed = "USER_STORE_FAILED"
)

// Record は1ユーザー分の認証情報です。PasswordHash は平文ではなく、レスポンスにも含めません。
type Record struct {
	UserID       string    `json:"userId"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Store はユーザーレコードの保存先が実装します。
// Insert は同じ email（完全一致）または同じ UserID が既に存在する場合に失敗し、
// 並行した登録でも一意性を保証しなければなりません。
type Store interface {
	FindByEmail(ctx context.Context, email string) (*Record, error)
	Insert(ctx context.Context, record *Record) error
}

// IsNotFound はレコードが存在しないことを表すエラーかどうかを返します。
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound)
}

// IsEmailTaken は email の重複エラーかどうかを返します。
func IsEmailTaken(err error) bool {
	return hasCode(err, CodeEmailTaken)
}

// IsIDTaken は UserID の重複エラーかどうかを返します。
func IsIDTaken(err error) bool {
	return hasCode(err, CodeIDTaken)
}

func hasCode(err error, code string) bool {
	if err == nil {
		return false
	}
	oopsErr, ok := oops.AsOops(err)
	return ok && oopsErr.Code() == code
}

// NotFoundError は email に一致するレコードが無いことを表すエラーを返します。
func NotFoundError(email string) error {
	return oops.Code(CodeNotFound).With("email", email).Errorf("user not found")
}

// EmailTakenError は email が登録済みであることを表すエラーを返します。
func EmailTakenError(email string) error {
	return oops.Code(CodeEmailTaken).With("email", email).Errorf("email already registered")
}

// IDTakenError は UserID が割り当て済みであることを表すエラーを返します。
func IDTakenError(userID string) error {
	return oops.Code(CodeIDTaken).With("user_id", userID).Errorf("user id already allocated")
}

// ValidateRecord は保存前にレコードの必須項目を確認します。
func ValidateRecord(record *Record) error {
	if record == nil {
		return oops.Code(CodeStoreFailed).Errorf("record is nil")
	}
	if record.UserID == "" || record.Email == "" || record.PasswordHash == "" {
		return oops.Code(CodeStoreFailed).Errorf("record is incomplete")
	}
	return nil
}
