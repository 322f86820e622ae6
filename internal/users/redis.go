package users

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

const (
	emailKeyPrefix = "user:email:"
	idKeyPrefix    = "user:id:"
)

// email キーと id キーの存在確認と書き込みを1回のスクリプト実行で行う。
// 戻り値: 0=保存済み, 1=email 重複, 2=id 重複
var insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 1
end
if redis.call('EXISTS', KEYS[2]) == 1 then
  return 2
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2])
return 0
`)

// RedisStore はユーザーレコードを Redis に保存します。
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore は RedisStore を作成します。
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// FindByEmail は email に一致するレコードを取得します。
func (s *RedisStore) FindByEmail(ctx context.Context, email string) (*Record, error) {
	data, err := s.rdb.Get(ctx, emailKey(email)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, NotFoundError(email)
		}
		return nil, oops.Code(CodeStoreFailed).
			With("operation", "get user by email").
			Wrap(err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, oops.Code(CodeStoreFailed).
			With("operation", "decode user record").
			Wrap(err)
	}
	return &record, nil
}

// Insert はレコードを保存します。email または UserID が既に存在する場合は何も書き込みません。
func (s *RedisStore) Insert(ctx context.Context, record *Record) error {
	if err := ValidateRecord(record); err != nil {
		return err
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return oops.Code(CodeStoreFailed).
			With("operation", "encode user record").
			Wrap(err)
	}

	keys := []string{emailKey(record.Email), idKey(record.UserID)}
	result, err := insertScript.Run(ctx, s.rdb, keys, payload, record.Email).Int()
	if err != nil {
		return oops.Code(CodeStoreFailed).
			With("operation", "insert user").
			Wrap(err)
	}

	switch result {
	case 0:
		return nil
	case 1:
		return EmailTakenError(record.Email)
	case 2:
		return IDTakenError(record.UserID)
	default:
		return oops.Code(CodeStoreFailed).Errorf("unexpected insert result: %d", result)
	}
}

func emailKey(email string) string {
	return emailKeyPrefix + email
}

func idKey(id string) string {
	return idKeyPrefix + id
}
