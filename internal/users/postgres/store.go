// Package postgres は users.Store の PostgreSQL 実装とスキーママイグレーションを提供します。
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/yourusername/authgate/internal/users"
)

const (
	constraintPrimaryKey = "users_pkey"
	constraintEmail      = "users_email_key"
)

// DBTX は pgxpool.Pool と pgxmock が共通して満たす最小限のインターフェースです。
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store は users テーブルを使う users.Store 実装です。
type Store struct {
	db DBTX
}

var _ users.Store = (*Store)(nil)

// NewStore は Store を作成します。
func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

// FindByEmail は email に一致するレコードを取得します。
func (s *Store) FindByEmail(ctx context.Context, email string) (*users.Record, error) {
	const query = `SELECT id, email, password_hash, created_at FROM users WHERE email = $1`

	var record users.Record
	err := s.db.QueryRow(ctx, query, email).
		Scan(&record.UserID, &record.Email, &record.PasswordHash, &record.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, users.NotFoundError(email)
		}
		return nil, oops.Code(users.CodeStoreFailed).
			With("operation", "select user by email").
			Wrap(err)
	}
	return &record, nil
}

// Insert はレコードを保存します。一意制約違反は email / id の重複エラーに変換します。
func (s *Store) Insert(ctx context.Context, record *users.Record) error {
	if err := users.ValidateRecord(record); err != nil {
		return err
	}

	const query = `INSERT INTO users (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)`

	_, err := s.db.Exec(ctx, query, record.UserID, record.Email, record.PasswordHash, record.CreatedAt)
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		switch pgErr.ConstraintName {
		case constraintEmail:
			return users.EmailTakenError(record.Email)
		case constraintPrimaryKey:
			return users.IDTakenError(record.UserID)
		}
	}
	return oops.Code(users.CodeStoreFailed).
		With("operation", "insert user").
		Wrap(err)
}
