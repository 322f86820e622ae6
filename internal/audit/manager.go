// Package audit は認証イベントを非同期に記録します。
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/samber/oops"
)

const (
	// TaskTypeEvent は認証イベント記録タスクの種類です。
	TaskTypeEvent = "auth:event"

	queueName = "audit"
)

type eventStore interface {
	Append(ctx context.Context, event Event) error
	Recent(ctx context.Context, userID string, limit int) ([]Event, error)
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Manager はイベントを asynq に投入し、ワーカーで Store に書き込みます。
type Manager struct {
	client enqueuer
	server *asynq.Server
	mux    *asynq.ServeMux
	store  eventStore
	logger *slog.Logger
	now    func() time.Time
}

// NewManager は Manager を初期化します。redisURL は asynq の接続先です。
func NewManager(redisURL string, store *Store, logger *slog.Logger) (*Manager, error) {
	if store == nil {
		return nil, oops.Code("AUDIT_CONFIG_INVALID").Errorf("store is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, oops.Code("AUDIT_CONFIG_INVALID").
			With("operation", "parse redis url").
			Wrap(err)
	}

	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				queueName: 1,
			},
			Logger: newAsynqLogger(logger),
		},
	)

	m := newManager(asynq.NewClient(opt), store, logger)
	m.server = server
	return m, nil
}

func newManager(client enqueuer, store eventStore, logger *slog.Logger) *Manager {
	m := &Manager{
		client: client,
		mux:    asynq.NewServeMux(),
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	m.mux.HandleFunc(TaskTypeEvent, m.handleEventTask)
	return m
}

// StartWorkers は asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	if m.server == nil {
		return
	}
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logger.Error("asynq server stopped with error", "error", err)
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.server != nil {
		m.server.Shutdown()
	}
	if err := m.client.Close(); err != nil {
		return oops.Code("AUDIT_SHUTDOWN_FAILED").Wrap(err)
	}
	return nil
}

// Record はイベントをキューに投入します。
func (m *Manager) Record(ctx context.Context, event Event) error {
	if event.UserID == "" {
		return oops.Code("AUDIT_INVALID_EVENT").Errorf("event user id is empty")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return oops.Code("AUDIT_ENCODE_FAILED").Wrap(err)
	}

	task := asynq.NewTask(TaskTypeEvent, body, asynq.Queue(queueName))
	if _, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(3)); err != nil {
		return oops.Code("AUDIT_ENQUEUE_FAILED").
			With("event_type", string(event.Type)).
			With("user_id", event.UserID).
			Wrap(err)
	}
	return nil
}

// Recent は保存済みのイベントを返します。
func (m *Manager) Recent(ctx context.Context, userID string, limit int) ([]Event, error) {
	return m.store.Recent(ctx, userID, limit)
}

func (m *Manager) handleEventTask(ctx context.Context, task *asynq.Task) error {
	var event Event
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		// 壊れたペイロードは再試行しても直らない
		return oops.Code("AUDIT_DECODE_FAILED").Wrap(errors.Join(err, asynq.SkipRetry))
	}
	if event.UserID == "" {
		return oops.Code("AUDIT_INVALID_EVENT").Wrap(errors.Join(errors.New("missing userId in payload"), asynq.SkipRetry))
	}

	if err := m.store.Append(ctx, event); err != nil {
		return err
	}
	m.logger.DebugContext(ctx, "auth event stored", "event_type", string(event.Type), "user_id", event.UserID)
	return nil
}
