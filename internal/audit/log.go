package audit

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// LogRecorder は監査が無効なときに使う Recorder で、イベントをログに出すだけです。
type LogRecorder struct {
	logger *slog.Logger
}

// NewLogRecorder は LogRecorder を作成します。
func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogRecorder{logger: logger}
}

// Record はイベントを info レベルで出力します。
func (r *LogRecorder) Record(ctx context.Context, event Event) error {
	r.logger.InfoContext(ctx, "auth event",
		"event_type", string(event.Type),
		"user_id", event.UserID,
		"client_ip", event.ClientIP,
	)
	return nil
}

// asynqLogger は asynq のログを slog に流します。
type asynqLogger struct {
	logger *slog.Logger
}

func newAsynqLogger(logger *slog.Logger) *asynqLogger {
	return &asynqLogger{logger: logger.With("component", "asynq")}
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
