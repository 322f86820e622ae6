package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/yourusername/authgate/internal/users"
)

const (
	minPasswordLength = 6
	// UserID が衝突した場合に振り直す回数
	maxIDAttempts = 3

	dummyPassword = "authgate-timing-equalizer"
)

// Service は登録とログインの処理をまとめたものです。HTTP には依存しません。
type Service struct {
	users     users.Store
	hasher    PasswordHasher
	tokens    *TokenIssuer
	logger    *slog.Logger
	newID     func() string
	now       func() time.Time
	dummyHash string
}

// NewService は Service を作成します。
// 未登録 email のログインでも照合時間を揃えるため、ダミーのハッシュをここで一度だけ生成します。
func NewService(store users.Store, hasher PasswordHasher, tokens *TokenIssuer, logger *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, oops.Code(CodeInternal).Errorf("user store is nil")
	}
	if hasher == nil {
		return nil, oops.Code(CodeInternal).Errorf("password hasher is nil")
	}
	if tokens == nil {
		return nil, oops.Code(CodeInternal).Errorf("token issuer is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	dummyHash, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, oops.Code(CodeInternal).
			With("operation", "prepare dummy hash").
			Wrap(err)
	}

	return &Service{
		users:     store,
		hasher:    hasher,
		tokens:    tokens,
		logger:    logger,
		newID:     uuid.NewString,
		now:       time.Now,
		dummyHash: dummyHash,
	}, nil
}

// Register は新しいユーザーを登録し、公開用の Identity と発行したトークンを返します。
func (s *Service) Register(ctx context.Context, email, password string) (Identity, string, error) {
	if email == "" || password == "" {
		return Identity{}, "", validationError(msgCredentialsRequired)
	}
	if len(password) < minPasswordLength {
		return Identity{}, "", validationError(msgPasswordTooShort)
	}

	// 登録済みならハッシュ化の前に返す。一意性の最終判定は Insert 側
	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return Identity{}, "", oops.Code(CodeConflict).Errorf("%s", msgEmailTaken)
	} else if !users.IsNotFound(err) {
		return Identity{}, "", oops.Code(CodeInternal).
			With("operation", "lookup existing user").
			Wrap(err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return Identity{}, "", oops.Code(CodeInternal).
			With("operation", "hash password").
			Wrap(err)
	}

	record := &users.Record{
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.insertWithFreshID(ctx, record); err != nil {
		return Identity{}, "", err
	}

	identity := Identity{UserID: record.UserID, Email: record.Email}
	token, err := s.tokens.Issue(identity.UserID, identity.Email)
	if err != nil {
		return Identity{}, "", oops.Code(CodeInternal).
			With("operation", "issue token").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", identity.UserID)
	return identity, token, nil
}

// Login は email とパスワードを照合し、公開用の Identity と発行したトークンを返します。
// 未登録の email とパスワード不一致は同じエラーになります。
func (s *Service) Login(ctx context.Context, email, password string) (Identity, string, error) {
	if email == "" || password == "" {
		return Identity{}, "", validationError(msgCredentialsRequired)
	}

	record, err := s.users.FindByEmail(ctx, email)
	if err != nil && !users.IsNotFound(err) {
		return Identity{}, "", oops.Code(CodeInternal).
			With("operation", "lookup user").
			Wrap(err)
	}
	exists := err == nil

	targetHash := s.dummyHash
	if exists {
		targetHash = record.PasswordHash
	}

	// 未登録でも照合を実行して応答時間を揃える
	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if !exists {
			return Identity{}, "", unauthorizedError()
		}
		return Identity{}, "", oops.Code(CodeInternal).
			With("operation", "verify password").
			With("user_id", record.UserID).
			Wrap(verifyErr)
	}
	if !exists || !valid {
		return Identity{}, "", unauthorizedError()
	}

	identity := Identity{UserID: record.UserID, Email: record.Email}
	token, err := s.tokens.Issue(identity.UserID, identity.Email)
	if err != nil {
		return Identity{}, "", oops.Code(CodeInternal).
			With("operation", "issue token").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "user logged in", "user_id", identity.UserID)
	return identity, token, nil
}

func (s *Service) insertWithFreshID(ctx context.Context, record *users.Record) error {
	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		record.UserID = s.newID()

		err := s.users.Insert(ctx, record)
		switch {
		case err == nil:
			return nil
		case users.IsEmailTaken(err):
			return oops.Code(CodeConflict).Errorf("%s", msgEmailTaken)
		case users.IsIDTaken(err):
			s.logger.WarnContext(ctx, "user id collision, regenerating", "attempt", attempt)
			continue
		default:
			return oops.Code(CodeInternal).
				With("operation", "insert user").
				Wrap(err)
		}
	}
	return oops.Code(CodeInternal).Errorf("could not allocate a unique user id after %d attempts", maxIDAttempts)
}
