package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"

	"crm_backend/internal/models"
	"crm_backend/internal/queue"
	"crm_backend/internal/storage"
)

// Config holds configuration for the CRM backend.
type Config struct {
	HTTPPort    string
	CORSOrigins []string
	Session     SessionConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Vault       VaultConfig
	Provider    ProviderConfig
	Usage       UsageConfig
	Log         LogConfig
}

// SessionConfig holds session token settings
type SessionConfig struct {
	JWTSecret []byte
	TTL       time.Duration
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig holds Redis connection settings. An empty Address selects the
// in-memory queue and rate guard.
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Enabled reports whether a Redis server is configured.
func (c RedisConfig) Enabled() bool { return c.Address != "" }

// VaultConfig says where the API key master key comes from.
type VaultConfig struct {
	EncryptionKey string
	SecretARN     string
	AWSRegion     string
}

// ProviderConfig holds AI vendor settings
type ProviderConfig struct {
	RequestTimeout time.Duration // Per-call timeout for vendor requests
	MaxTokens      int
	CacheSize      int
	CacheTTL       time.Duration
	BaseURLs       map[models.ProviderType]string
	Models         map[models.ProviderType]string
}

// UsageConfig holds usage worker settings
type UsageConfig struct {
	QueueName    string
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string
	Format string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
	v.SetDefault("SESSION_TTL", 24*time.Hour)

	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	v.SetDefault("DB_CONN_MAX_IDLE_TIME", 1*time.Minute)

	v.SetDefault("REDIS_ADDRESS", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 2)
	v.SetDefault("REDIS_DIAL_TIMEOUT", 5*time.Second)
	v.SetDefault("REDIS_READ_TIMEOUT", 3*time.Second)
	v.SetDefault("REDIS_WRITE_TIMEOUT", 3*time.Second)

	v.SetDefault("AWS_REGION", "us-east-1")

	v.SetDefault("PROVIDER_REQUEST_TIMEOUT", 30*time.Second)
	v.SetDefault("PROVIDER_MAX_TOKENS", 1024)
	v.SetDefault("PROVIDER_CACHE_SIZE", 1000)
	v.SetDefault("PROVIDER_CACHE_TTL", time.Minute)

	v.SetDefault("USAGE_QUEUE_NAME", "ai_usage")
	v.SetDefault("USAGE_BATCH_SIZE", 100)
	v.SetDefault("USAGE_BATCH_TIMEOUT", 5*time.Second)
	v.SetDefault("USAGE_MAX_RETRIES", 3)
	v.SetDefault("USAGE_RETRY_BACKOFF", time.Second)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

// Load reads configuration from the environment, after loading a .env file
// from the working directory when one exists.
func Load() (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	dbURL := v.GetString("DATABASE_URL")
	if dbURL == "" {
		return nil, eris.New("DATABASE_URL is required")
	}
	secret := v.GetString("SESSION_JWT_SECRET")
	if secret == "" {
		return nil, eris.New("SESSION_JWT_SECRET is required")
	}
	if v.GetString("AI_KEY_ENCRYPTION_KEY") == "" && v.GetString("AI_KEY_SECRET_ARN") == "" {
		return nil, eris.New("AI_KEY_ENCRYPTION_KEY or AI_KEY_SECRET_ARN is required")
	}

	cfg := &Config{
		HTTPPort:    v.GetString("HTTP_PORT"),
		CORSOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		Session: SessionConfig{
			JWTSecret: []byte(secret),
			TTL:       v.GetDuration("SESSION_TTL"),
		},
		Database: DatabaseConfig{
			URL:             dbURL,
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
			ConnMaxIdleTime: v.GetDuration("DB_CONN_MAX_IDLE_TIME"),
		},
		Redis: RedisConfig{
			Address:      v.GetString("REDIS_ADDRESS"),
			Password:     v.GetString("REDIS_PASSWORD"),
			DB:           v.GetInt("REDIS_DB"),
			PoolSize:     v.GetInt("REDIS_POOL_SIZE"),
			MinIdleConns: v.GetInt("REDIS_MIN_IDLE_CONNS"),
			DialTimeout:  v.GetDuration("REDIS_DIAL_TIMEOUT"),
			ReadTimeout:  v.GetDuration("REDIS_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("REDIS_WRITE_TIMEOUT"),
		},
		Vault: VaultConfig{
			EncryptionKey: v.GetString("AI_KEY_ENCRYPTION_KEY"),
			SecretARN:     v.GetString("AI_KEY_SECRET_ARN"),
			AWSRegion:     v.GetString("AWS_REGION"),
		},
		Provider: ProviderConfig{
			RequestTimeout: v.GetDuration("PROVIDER_REQUEST_TIMEOUT"),
			MaxTokens:      v.GetInt("PROVIDER_MAX_TOKENS"),
			CacheSize:      v.GetInt("PROVIDER_CACHE_SIZE"),
			CacheTTL:       v.GetDuration("PROVIDER_CACHE_TTL"),
			BaseURLs:       perProvider(v, "BASE_URL"),
			Models:         perProvider(v, "MODEL"),
		},
		Usage: UsageConfig{
			QueueName:    v.GetString("USAGE_QUEUE_NAME"),
			BatchSize:    v.GetInt("USAGE_BATCH_SIZE"),
			BatchTimeout: v.GetDuration("USAGE_BATCH_TIMEOUT"),
			MaxRetries:   v.GetInt("USAGE_MAX_RETRIES"),
			RetryBackoff: v.GetDuration("USAGE_RETRY_BACKOFF"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}

	if cfg.Provider.RequestTimeout <= 0 {
		return nil, eris.New("PROVIDER_REQUEST_TIMEOUT must be positive")
	}
	return cfg, nil
}

// QueueConfig is the usage queue's view of the settings.
func (c UsageConfig) QueueConfig() queue.Config {
	return queue.Config{
		Name:         c.QueueName,
		BatchSize:    c.BatchSize,
		BatchTimeout: c.BatchTimeout,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
	}
}

// ClientConfig converts the settings for storage.NewRedisClient.
func (c RedisConfig) ClientConfig() storage.RedisConfig {
	return storage.RedisConfig{
		Addr:         c.Address,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}

// perProvider reads OPENAI_<suffix>, ANTHROPIC_<suffix>, GOOGLE_<suffix> and
// XAI_<suffix>, keeping only the ones that are set.
func perProvider(v *viper.Viper, suffix string) map[models.ProviderType]string {
	out := make(map[models.ProviderType]string)
	for _, pt := range models.SupportedProviderTypes {
		if val := v.GetString(strings.ToUpper(string(pt)) + "_" + suffix); val != "" {
			out[pt] = val
		}
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
