package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// LoginLimiter はクライアントごとのログイン失敗回数を数え、上限を超えたらロックします。
type LoginLimiter interface {
	// Check はロック中なら残り時間、そうでなければ 0 を返します。
	Check(ctx context.Context, key string) time.Duration
	// RecordFailure は失敗を記録し、ロックまでの残り回数を返します。
	RecordFailure(ctx context.Context, key string) int
	// Reset は失敗記録を消します。
	Reset(ctx context.Context, key string)
}

// LimitPolicy は試行制限のしきい値です。
type LimitPolicy struct {
	MaxAttempts  int
	Window       time.Duration
	LockDuration time.Duration
}

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// MemoryLimiter はプロセス内のマップで失敗回数を管理します。
// 期間もロックも切れた記録は Window ごとにまとめて削除します。
type MemoryLimiter struct {
	policy    LimitPolicy
	lock      sync.Mutex
	attempts  map[string]*attemptState
	lastSweep time.Time
	now       func() time.Time
}

// NewMemoryLimiter は MemoryLimiter を作成します。
func NewMemoryLimiter(policy LimitPolicy) *MemoryLimiter {
	return &MemoryLimiter{
		policy:   policy,
		attempts: make(map[string]*attemptState),
		now:      time.Now,
	}
}

// Check はロック中の残り時間を返します。
func (l *MemoryLimiter) Check(_ context.Context, key string) time.Duration {
	l.lock.Lock()
	defer l.lock.Unlock()

	state, ok := l.attempts[key]
	if !ok {
		return 0
	}
	now := l.now()
	if !now.Before(state.lockedUntil) {
		return 0
	}
	return state.lockedUntil.Sub(now)
}

// RecordFailure は失敗回数を加算します。
// 上限に達したらロックし、カウンタは RedisLimiter と同じく 0 から数え直します。
func (l *MemoryLimiter) RecordFailure(_ context.Context, key string) int {
	l.lock.Lock()
	defer l.lock.Unlock()

	now := l.now()
	l.sweep(now)

	state, ok := l.attempts[key]
	if ok && now.Before(state.lockedUntil) {
		return 0
	}
	if !ok || state.count == 0 || now.Sub(state.firstAttempt) > l.policy.Window {
		state = &attemptState{firstAttempt: now}
		l.attempts[key] = state
	}

	state.count++
	if state.count >= l.policy.MaxAttempts {
		state.lockedUntil = now.Add(l.policy.LockDuration)
		state.count = 0
		state.firstAttempt = time.Time{}
		return 0
	}
	return l.policy.MaxAttempts - state.count
}

func (l *MemoryLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.policy.Window {
		return
	}
	l.lastSweep = now
	for key, state := range l.attempts {
		if now.Sub(state.firstAttempt) > l.policy.Window && !now.Before(state.lockedUntil) {
			delete(l.attempts, key)
		}
	}
}

// Len は保持している記録の件数を返します。
func (l *MemoryLimiter) Len() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.attempts)
}

// Reset は記録を削除します。
func (l *MemoryLimiter) Reset(_ context.Context, key string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	delete(l.attempts, key)
}

// RedisLimiter は失敗回数とロックを Redis のキーと TTL で管理します。
// Redis に障害がある場合はログを残して許可側に倒します。
type RedisLimiter struct {
	client  *redis.Client
	policy  LimitPolicy
	logger  *slog.Logger
	prefix  string
	timeout time.Duration
}

// NewRedisLimiter は RedisLimiter を作成します。
func NewRedisLimiter(client *redis.Client, policy LimitPolicy, logger *slog.Logger) *RedisLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLimiter{
		client:  client,
		policy:  policy,
		logger:  logger,
		prefix:  "authgate:login:",
		timeout: 250 * time.Millisecond,
	}
}

// Check はロックキーの残り TTL を返します。
func (l *RedisLimiter) Check(ctx context.Context, key string) time.Duration {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	ttl, err := l.client.PTTL(ctx, l.lockKey(key)).Result()
	if err != nil {
		l.logRedisError("pttl", err)
		return 0
	}
	if ttl <= 0 {
		return 0
	}
	return ttl
}

// RecordFailure は失敗カウンタを加算し、上限に達したらロックキーを作成します。
func (l *RedisLimiter) RecordFailure(ctx context.Context, key string) int {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	failKey := l.failKey(key)
	count, err := l.client.Incr(ctx, failKey).Result()
	if err != nil {
		l.logRedisError("incr", err)
		return l.policy.MaxAttempts
	}
	if count == 1 {
		if err := l.client.Expire(ctx, failKey, l.policy.Window).Err(); err != nil {
			l.logRedisError("expire", err)
		}
	}

	if int(count) >= l.policy.MaxAttempts {
		pipe := l.client.TxPipeline()
		pipe.Set(ctx, l.lockKey(key), "1", l.policy.LockDuration)
		pipe.Del(ctx, failKey)
		if _, err := pipe.Exec(ctx); err != nil {
			l.logRedisError("lock", err)
		}
		return 0
	}
	return l.policy.MaxAttempts - int(count)
}

// Reset はカウンタとロックを削除します。
func (l *RedisLimiter) Reset(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.client.Del(ctx, l.failKey(key), l.lockKey(key)).Err(); err != nil {
		l.logRedisError("del", err)
	}
}

func (l *RedisLimiter) failKey(key string) string {
	return l.prefix + "fail:" + key
}

func (l *RedisLimiter) lockKey(key string) string {
	return l.prefix + "lock:" + key
}

func (l *RedisLimiter) logRedisError(op string, err error) {
	l.logger.Error("redis login limiter error", "op", op, "error", err)
}
