package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

const eventKeyPrefix = "audit:user:"

// Store はイベントをユーザーごとの Redis リストに新しい順で保存します。
// リストは maxEvents 件に切り詰められ、最後の書き込みから ttl で消えます。
type Store struct {
	rdb       *redis.Client
	ttl       time.Duration
	maxEvents int
}

// NewStore は Store を作成します。
func NewStore(rdb *redis.Client, ttl time.Duration, maxEvents int) *Store {
	if maxEvents <= 0 {
		maxEvents = 50
	}
	return &Store{
		rdb:       rdb,
		ttl:       ttl,
		maxEvents: maxEvents,
	}
}

// Append はイベントを先頭に追加します。
func (s *Store) Append(ctx context.Context, event Event) error {
	if event.UserID == "" {
		return oops.Code("AUDIT_INVALID_EVENT").Errorf("event user id is empty")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return oops.Code("AUDIT_ENCODE_FAILED").Wrap(err)
	}

	key := eventKey(event.UserID)
	tx := s.rdb.TxPipeline()
	tx.LPush(ctx, key, payload)
	tx.LTrim(ctx, key, 0, int64(s.maxEvents-1))
	if s.ttl > 0 {
		tx.Expire(ctx, key, s.ttl)
	}
	if _, err := tx.Exec(ctx); err != nil {
		return oops.Code("AUDIT_STORE_FAILED").
			With("user_id", event.UserID).
			Wrap(err)
	}
	return nil
}

// Recent は新しい順に最大 limit 件のイベントを返します。
func (s *Store) Recent(ctx context.Context, userID string, limit int) ([]Event, error) {
	if limit <= 0 || limit > s.maxEvents {
		limit = s.maxEvents
	}
	items, err := s.rdb.LRange(ctx, eventKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, oops.Code("AUDIT_STORE_FAILED").
			With("user_id", userID).
			Wrap(err)
	}

	events := make([]Event, 0, len(items))
	for _, item := range items {
		var event Event
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			return nil, oops.Code("AUDIT_DECODE_FAILED").
				With("user_id", userID).
				Wrap(err)
		}
		events = append(events, event)
	}
	return events, nil
}

func eventKey(userID string) string {
	return eventKeyPrefix + userID
}
