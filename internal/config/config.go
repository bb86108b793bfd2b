package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Outbox        OutboxConfig        `mapstructure:"outbox"`
	Extraction    ExtractionConfig    `mapstructure:"extraction"`
	Transcription TranscriptionConfig `mapstructure:"transcription"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Jobs          JobsConfig          `mapstructure:"jobs"`
	Catalog       CatalogConfig       `mapstructure:"catalog"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	CORS          CORSConfig          `mapstructure:"cors"`
	SMTP          SMTPConfig          `mapstructure:"smtp"`

	// Secrets never come from the config file.
	Secrets Secrets `mapstructure:"-"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
	HealthPort     int           `mapstructure:"health_port"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory". The memory driver keeps everything
	// in process and seeds templates from the catalog file at startup.
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int    `mapstructure:"max_conns"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type OutboxConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	Retention     time.Duration `mapstructure:"retention"`
}

type ExtractionConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ChunkSize      int           `mapstructure:"chunk_size"`
	ChunkOverlap   int           `mapstructure:"chunk_overlap"`
}

type TranscriptionConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Language    string        `mapstructure:"language"`
	SmartFormat bool          `mapstructure:"smart_format"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type StorageConfig struct {
	Dir string `mapstructure:"dir"`
}

type JobsConfig struct {
	// ReapSchedule is a cron spec for the abandoned-job reaper.
	ReapSchedule string `mapstructure:"reap_schedule"`
	// Grace is added to the extraction timeout before a RUNNING job counts as abandoned.
	Grace time.Duration `mapstructure:"grace"`
	// OutboxCleanupSchedule is a cron spec for deleting processed outbox rows.
	OutboxCleanupSchedule string `mapstructure:"outbox_cleanup_schedule"`
}

type CatalogConfig struct {
	Path     string        `mapstructure:"path"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	From     string `mapstructure:"from"`
}

// Secrets are read from SCRIBE_* environment variables.
type Secrets struct {
	JWTSecret      string `envconfig:"JWT_SECRET" required:"true"`
	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY"`
	DeepgramAPIKey string `envconfig:"DEEPGRAM_API_KEY"`
	SMTPPassword   string `envconfig:"SMTP_PASSWORD"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.max_upload_bytes", 100<<20)
	v.SetDefault("server.health_port", 8081)

	v.SetDefault("log.level", "info")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "scribe")
	v.SetDefault("database.name", "scribe")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", "100ms")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.poll_interval", "5s")
	v.SetDefault("outbox.retry_attempts", 3)
	v.SetDefault("outbox.retry_delay", "2s")
	v.SetDefault("outbox.retention", "168h")

	v.SetDefault("extraction.base_url", "https://api.openai.com/v1")
	v.SetDefault("extraction.model", "gpt-4o-mini")
	v.SetDefault("extraction.embedding_model", "text-embedding-3-small")
	v.SetDefault("extraction.timeout", "90s")
	v.SetDefault("extraction.chunk_size", 200)
	v.SetDefault("extraction.chunk_overlap", 0)

	v.SetDefault("transcription.base_url", "https://api.deepgram.com/v1")
	v.SetDefault("transcription.model", "nova-2-medical")
	v.SetDefault("transcription.language", "en-US")
	v.SetDefault("transcription.smart_format", true)
	v.SetDefault("transcription.timeout", "5m")

	v.SetDefault("storage.dir", "./data/audio")

	v.SetDefault("jobs.reap_schedule", "@every 1m")
	v.SetDefault("jobs.grace", "30s")
	v.SetDefault("jobs.outbox_cleanup_schedule", "@daily")

	v.SetDefault("catalog.path", "./config/templates.yml")
	v.SetDefault("catalog.cache_ttl", "10m")

	v.SetDefault("rate_limit.requests_per_second", 50)
	v.SetDefault("rate_limit.burst", 100)

	v.SetDefault("cors.allowed_origins", []string{"*"})

	v.SetDefault("smtp.port", 587)
}

// LoadConfig reads config.yml from the given directories (or the usual
// locations when none are given), overlays SCRIBE_* environment variables
// and loads secrets.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yml")
	if len(paths) == 0 {
		paths = []string{".", "./config", "/app/config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("scribe")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process("scribe", &cfg.Secrets); err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Extraction.Timeout <= 0 {
		return errors.New("extraction.timeout must be positive")
	}
	if c.Extraction.ChunkSize <= 0 {
		return errors.New("extraction.chunk_size must be positive")
	}
	if c.Extraction.ChunkOverlap < 0 || c.Extraction.ChunkOverlap >= c.Extraction.ChunkSize {
		return errors.New("extraction.chunk_overlap must be in [0, chunk_size)")
	}
	return nil
}
