package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	LLM      LLMConfig
	Storage  StorageConfig
	Push     PushConfig
	Stall    StallConfig
	Audit    AuditConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret string
}

type LLMConfig struct {
	AnthropicKey     string
	OpenAIKey        string
	DefaultProvider  string
	DefaultModel     string
	FallbackProvider string
	MaxRetries       int
}

type StorageConfig struct {
	SupabaseURL string
	SupabaseKey string
	Bucket      string
	LocalDir    string
}

type PushConfig struct {
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	MaxReconnects    int
}

type StallConfig struct {
	UploadThreshold     time.Duration
	ProcessingThreshold time.Duration
}

type AuditConfig struct {
	CancelAckWait time.Duration
}

func Load() (*Config, error) {
	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 2)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxRetries, err := getEnvInt("LLM_MAX_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("invalid LLM_MAX_RETRIES: %w", err)
	}

	maxReconnects, err := getEnvInt("PUSH_MAX_RECONNECTS", 8)
	if err != nil {
		return nil, fmt.Errorf("invalid PUSH_MAX_RECONNECTS: %w", err)
	}

	reconnectInitial, err := getEnvDuration("PUSH_RECONNECT_INITIAL", 500*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("invalid PUSH_RECONNECT_INITIAL: %w", err)
	}

	reconnectMax, err := getEnvDuration("PUSH_RECONNECT_MAX", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid PUSH_RECONNECT_MAX: %w", err)
	}

	uploadStall, err := getEnvDuration("STALL_UPLOAD_THRESHOLD", 20*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid STALL_UPLOAD_THRESHOLD: %w", err)
	}

	processingStall, err := getEnvDuration("STALL_PROCESSING_THRESHOLD", 90*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid STALL_PROCESSING_THRESHOLD: %w", err)
	}

	cancelAckWait, err := getEnvDuration("AUDIT_CANCEL_ACK_WAIT", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid AUDIT_CANCEL_ACK_WAIT: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: port,
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: maxConns,
			MinConns: minConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		LLM: LLMConfig{
			AnthropicKey:     getEnv("ANTHROPIC_API_KEY", ""),
			OpenAIKey:        getEnv("OPENAI_API_KEY", ""),
			DefaultProvider:  getEnv("LLM_DEFAULT_PROVIDER", "anthropic"),
			DefaultModel:     getEnv("LLM_DEFAULT_MODEL", "claude-sonnet-4-20250514"),
			FallbackProvider: getEnv("LLM_FALLBACK_PROVIDER", ""),
			MaxRetries:       maxRetries,
		},
		Storage: StorageConfig{
			SupabaseURL: getEnv("SUPABASE_URL", ""),
			SupabaseKey: getEnv("SUPABASE_SERVICE_KEY", ""),
			Bucket:      getEnv("STORAGE_BUCKET", "documents"),
			LocalDir:    getEnv("STORAGE_LOCAL_DIR", "/tmp/docsync-staging"),
		},
		Push: PushConfig{
			ReconnectInitial: reconnectInitial,
			ReconnectMax:     reconnectMax,
			MaxReconnects:    maxReconnects,
		},
		Stall: StallConfig{
			UploadThreshold:     uploadStall,
			ProcessingThreshold: processingStall,
		},
		Audit: AuditConfig{
			CancelAckWait: cancelAckWait,
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}
