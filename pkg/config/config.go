package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Reasoner   ReasonerConfig   `mapstructure:"reasoner"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Analytics  AnalyticsConfig  `mapstructure:"analytics"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	History    HistoryConfig    `mapstructure:"history"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// TelegramConfig enables the chat transport when Token is set.
type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig enables PostgreSQL analytics storage when Host is set.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig enables the shared classification cache and the dead-letter
// stream when URL is set.
type RedisConfig struct {
	URL              string `mapstructure:"url"`
	CachePrefix      string `mapstructure:"cache_prefix"`
	DeadLetterStream string `mapstructure:"dead_letter_stream"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
}

// ReasonerConfig selects the external classifier: "openai", "http" or "none".
type ReasonerConfig struct {
	Provider  string        `mapstructure:"provider"`
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxTokens int           `mapstructure:"max_tokens"`
}

type ClassifierConfig struct {
	CrisisThreshold float64            `mapstructure:"crisis_threshold"`
	Thresholds      map[string]float64 `mapstructure:"thresholds"`
}

type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute"`
	PerHour   int `mapstructure:"per_hour"`
	PerDay    int `mapstructure:"per_day"`
}

type CacheConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type AnalyticsConfig struct {
	MaxBatchSize  int           `mapstructure:"max_batch_size"`
	MaxWait       time.Duration `mapstructure:"max_wait"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
}

type RiskConfig struct {
	IdleTTL       time.Duration `mapstructure:"idle_ttl"`
	MaxUsers      int           `mapstructure:"max_users"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// RetrievalConfig points at an optional knowledge file replacing the
// embedded one.
type RetrievalConfig struct {
	KnowledgeFile string `mapstructure:"knowledge_file"`
}

type HistoryConfig struct {
	Size            int `mapstructure:"size"`
	ContextMessages int `mapstructure:"context_messages"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		if _, err := fmt.Sscanf(u.Port(), "%d", &port); err != nil {
			return DatabaseConfig{}, fmt.Errorf("invalid port %q: %w", u.Port(), err)
		}
	}

	// Remove leading slash from path to get database name
	dbName := strings.TrimPrefix(u.Path, "/")

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 30*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.cache_prefix", "triage:classification:")
	v.SetDefault("redis.dead_letter_stream", "triage:analytics:dead-letters")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.temperature", 0.2)
	v.SetDefault("reasoner.provider", "none")
	v.SetDefault("reasoner.timeout", 10*time.Second)
	v.SetDefault("reasoner.max_tokens", 500)
	v.SetDefault("classifier.crisis_threshold", 0.85)
	v.SetDefault("rate_limit.per_minute", 50)
	v.SetDefault("rate_limit.per_hour", 1000)
	v.SetDefault("rate_limit.per_day", 10000)
	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("cache.sweep_interval", 10*time.Minute)
	v.SetDefault("analytics.max_batch_size", 10)
	v.SetDefault("analytics.max_wait", 5*time.Second)
	v.SetDefault("analytics.retry_attempts", 3)
	v.SetDefault("risk.idle_ttl", 24*time.Hour)
	v.SetDefault("risk.max_users", 10000)
	v.SetDefault("risk.sweep_interval", time.Hour)
	v.SetDefault("history.size", 20)
	v.SetDefault("history.context_messages", 3)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
}

// LoadConfig reads path, if given, and the environment. A missing file is
// not an error when path is empty.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Enable environment variable support
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Database = dbConfig
	}

	// Get other environment variables
	if redisURL := v.GetString("REDIS_URL"); redisURL != "" {
		config.Redis.URL = redisURL
	}

	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Reasoner.Provider {
	case "none", "":
	case "openai":
		if c.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("reasoner.provider openai needs openai.api_key"))
		}
	case "http":
		if c.Reasoner.BaseURL == "" {
			errs = append(errs, errors.New("reasoner.provider http needs reasoner.base_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown reasoner.provider %q", c.Reasoner.Provider))
	}

	if c.Classifier.CrisisThreshold < 0.85 || c.Classifier.CrisisThreshold > 1 {
		errs = append(errs, fmt.Errorf("classifier.crisis_threshold %.2f outside [0.85,1]", c.Classifier.CrisisThreshold))
	}
	for cat, th := range c.Classifier.Thresholds {
		if th < 0 || th > 1 {
			errs = append(errs, fmt.Errorf("classifier.thresholds.%s %.2f outside [0,1]", cat, th))
		}
	}

	positive := map[string]int{
		"rate_limit.per_minute":    c.RateLimit.PerMinute,
		"rate_limit.per_hour":      c.RateLimit.PerHour,
		"rate_limit.per_day":       c.RateLimit.PerDay,
		"analytics.max_batch_size": c.Analytics.MaxBatchSize,
		"analytics.retry_attempts": c.Analytics.RetryAttempts,
		"risk.max_users":           c.Risk.MaxUsers,
		"history.size":             c.History.Size,
	}
	for key, n := range positive {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", key, n))
		}
	}

	durations := map[string]time.Duration{
		"cache.ttl":          c.Cache.TTL,
		"analytics.max_wait": c.Analytics.MaxWait,
		"risk.idle_ttl":      c.Risk.IdleTTL,
	}
	for key, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", key, d))
		}
	}

	if c.History.ContextMessages < 0 || c.History.ContextMessages > c.History.Size {
		errs = append(errs, fmt.Errorf("history.context_messages %d outside [0,%d]", c.History.ContextMessages, c.History.Size))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
