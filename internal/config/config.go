// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ユーザーストアの種類
const (
	StoreDriverMemory   = "memory"
	StoreDriverRedis    = "redis"
	StoreDriverPostgres = "postgres"
)

// ログイン試行制限の保存先
const (
	LimiterMemory = "memory"
	LimiterRedis  = "redis"
)

// bcrypt が受け付けるコストの範囲（golang.org/x/crypto/bcrypt の MinCost / MaxCost と同じ）
const (
	minBcryptCost = 4
	maxBcryptCost = 31
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// 認証設定
	JWTSecret    string // アクセストークン署名用の秘密鍵
	CookieSecret string // クッキー署名用の秘密鍵（JWTSecret とは別の値）
	BcryptCost   int    // パスワードハッシュのコスト

	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)
	AppEnv  string // 実行環境 (development, production)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り、* は全許可）

	// ユーザーストア設定
	StoreDriver   string // memory / redis / postgres
	RedisURL      string // Redis接続URL（redis ストア・監査ログ・試行制限で共用）
	DatabaseURL   string // PostgreSQL接続URL
	DBAutoMigrate bool   // 起動時にマイグレーションを適用するか

	// ログイン試行制限
	LoginMaxAttempts   int    // 0 で無効
	LoginWindowMinutes int    // 失敗回数を数える期間（分）
	LoginLockMinutes   int    // ロック期間（分）
	LoginLimiter       string // memory / redis

	// 監査ログ
	AuditEnabled        bool // 認証イベントの記録を有効にするか
	AuditRetentionHours int  // イベントの保持期間（時間）
	AuditMaxEvents      int  // ユーザーごとに保持する件数

	// ログ設定
	LogFormat string // json / text
	LogLevel  string // debug / info / warn / error
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		JWTSecret:    getEnv("JWT_SECRET", ""),
		CookieSecret: getEnv("COOKIE_SECRET", ""),
		BcryptCost:   getEnvAsInt("BCRYPT_COST", 10),

		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),
		AppEnv:  getEnv("APP_ENV", "development"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),

		StoreDriver:   strings.ToLower(getEnv("STORE_DRIVER", StoreDriverMemory)),
		RedisURL:      getEnv("REDIS_URL", ""),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		DBAutoMigrate: getEnvAsBool("DB_AUTO_MIGRATE", true),

		LoginMaxAttempts:   getEnvAsInt("LOGIN_MAX_ATTEMPTS", 5),
		LoginWindowMinutes: getEnvAsInt("LOGIN_WINDOW_MINUTES", 15),
		LoginLockMinutes:   getEnvAsInt("LOGIN_LOCK_MINUTES", 10),
		LoginLimiter:       strings.ToLower(getEnv("LOGIN_LIMITER", LimiterMemory)),

		AuditEnabled:        getEnvAsBool("AUDIT_ENABLED", false),
		AuditRetentionHours: getEnvAsInt("AUDIT_RETENTION_HOURS", 168),
		AuditMaxEvents:      getEnvAsInt("AUDIT_MAX_EVENTS", 50),

		LogFormat: getEnv("LOG_FORMAT", "json"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
// 秘密鍵の欠落は実行モードに関係なく起動失敗として扱います。
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.CookieSecret == "" {
		return fmt.Errorf("COOKIE_SECRET is required")
	}
	if c.JWTSecret == c.CookieSecret {
		return fmt.Errorf("JWT_SECRET and COOKIE_SECRET must be different")
	}
	if c.BcryptCost < minBcryptCost || c.BcryptCost > maxBcryptCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d", minBcryptCost, maxBcryptCost)
	}

	switch c.StoreDriver {
	case StoreDriverMemory:
	case StoreDriverRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when STORE_DRIVER=redis")
		}
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER: %s", c.StoreDriver)
	}

	switch c.LoginLimiter {
	case LimiterMemory:
	case LimiterRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when LOGIN_LIMITER=redis")
		}
	default:
		return fmt.Errorf("unsupported LOGIN_LIMITER: %s", c.LoginLimiter)
	}
	if c.LoginMaxAttempts < 0 {
		return fmt.Errorf("LOGIN_MAX_ATTEMPTS must not be negative")
	}
	// 0 以下の期間では Redis の TTL が付かず、ロックが効かないまま残る
	if c.LoginMaxAttempts > 0 && (c.LoginWindowMinutes <= 0 || c.LoginLockMinutes <= 0) {
		return fmt.Errorf("LOGIN_WINDOW_MINUTES and LOGIN_LOCK_MINUTES must be positive when LOGIN_MAX_ATTEMPTS > 0")
	}

	if c.AuditEnabled && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when AUDIT_ENABLED=true")
	}

	return nil
}

// Secure はクッキーに Secure 属性を付けるべき環境かどうかを返します。
func (c *Config) Secure() bool {
	return c.AppEnv == "production" || c.GinMode == "release"
}

// LoginWindow は失敗回数を数える期間を返します。
func (c *Config) LoginWindow() time.Duration {
	return time.Duration(c.LoginWindowMinutes) * time.Minute
}

// LoginLockDuration はロック期間を返します。
func (c *Config) LoginLockDuration() time.Duration {
	return time.Duration(c.LoginLockMinutes) * time.Minute
}

// AuditRetention は監査イベントの保持期間を返します。
func (c *Config) AuditRetention() time.Duration {
	return time.Duration(c.AuditRetentionHours) * time.Hour
}

// AllowedOrigins は CORS 許可オリジンを配列で返します。
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
