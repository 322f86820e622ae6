package audit

import (
	"context"
	"time"
)

// EventType は記録する認証イベントの種類です。
type EventType string

const (
	EventRegistered     EventType = "registered"
	EventLoginSucceeded EventType = "login_succeeded"
	EventLogout         EventType = "logout"
)

// Event は 1 件の認証イベントです。
type Event struct {
	Type       EventType `json:"type"`
	UserID     string    `json:"userId"`
	ClientIP   string    `json:"clientIp,omitempty"`
	UserAgent  string    `json:"userAgent,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Recorder はイベントの記録先です。
// 記録はベストエフォートで、呼び出し側はエラーをログに残すだけにします。
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// Reader はユーザーごとの直近イベントを返します。
type Reader interface {
	Recent(ctx context.Context, userID string, limit int) ([]Event, error)
}
