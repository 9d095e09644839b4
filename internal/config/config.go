// Package config provides unified configuration loading for the Knowledge Engine.
// Supports YAML files, .env files, environment variables, and programmatic overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the Knowledge Engine.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Learning      LearningConfig      `yaml:"learning"`
	Implicit      ImplicitConfig      `yaml:"implicit"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	LLM           LLMConfig           `yaml:"llm"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// LearningConfig holds the knowledge-base retrieval and learning settings.
type LearningConfig struct {
	// Enabled is the master switch. When false no local answer is ever returned.
	Enabled            bool    `yaml:"enabled"`
	MinConfidence      float64 `yaml:"min_confidence"`
	FAQThreshold       float64 `yaml:"faq_threshold"`
	FAQConfidenceBoost float64 `yaml:"faq_confidence_boost"`
	BoostApprove       float64 `yaml:"boost_approve"`
	BoostEdit          float64 `yaml:"boost_edit"`
	PenaltyReject      float64 `yaml:"penalty_reject"`
	LearnFromEdits     bool    `yaml:"learn_from_edits"`
	DefaultConfidence  float64 `yaml:"default_confidence"`
	TopK               int     `yaml:"top_k"`
	AutoReplyMode      string  `yaml:"auto_reply_mode"` // auto or suggest
}

// ImplicitConfig holds settings for feedback inferred from candidate follow-ups.
type ImplicitConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Window              time.Duration `yaml:"window"`
	MaxMessages         int           `yaml:"max_messages"`
	NeutralAfter        int           `yaml:"neutral_after"`
	ApproveDelta        float64       `yaml:"approve_delta"`
	RejectDelta         float64       `yaml:"reject_delta"`
	MinSignalConfidence float64       `yaml:"min_signal_confidence"`
	LearnedConfidence   float64       `yaml:"learned_confidence"`
	SweepInterval       time.Duration `yaml:"sweep_interval"`
}

// MetricsConfig holds metrics aggregation settings.
type MetricsConfig struct {
	CostPerLLMCall float64 `yaml:"cost_per_llm_call"`
	StatsWindow    int     `yaml:"stats_window_days"`
	Namespace      string  `yaml:"namespace"`
}

// LLMConfig holds settings for the external fallback model.
type LLMConfig struct {
	Provider string        `yaml:"provider"` // gemini or none
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

// AuthConfig holds admin surface authentication settings.
type AuthConfig struct {
	Enabled bool     `yaml:"enabled"`
	APIKeys []string `yaml:"api_keys"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies .env and environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := loadDotEnv(envFilePath(path)); err != nil {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8086,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     30 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "/tmp/knowledge-engine.db",
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Cache: CacheConfig{
			Driver:     "memory",
			TTL:        5 * time.Minute,
			MaxEntries: 1000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
			},
		},
		Learning: LearningConfig{
			Enabled:            true,
			MinConfidence:      0.75,
			FAQThreshold:       0.6,
			FAQConfidenceBoost: 0.2,
			BoostApprove:       0.10,
			BoostEdit:          0.05,
			PenaltyReject:      0.15,
			LearnFromEdits:     true,
			DefaultConfidence:  0.5,
			TopK:               5,
			AutoReplyMode:      "suggest",
		},
		Implicit: ImplicitConfig{
			Enabled:             true,
			Window:              5 * time.Minute,
			MaxMessages:         3,
			NeutralAfter:        2,
			ApproveDelta:        0.08,
			RejectDelta:         0.10,
			MinSignalConfidence: 0.7,
			LearnedConfidence:   0.65,
			SweepInterval:       time.Minute,
		},
		Metrics: MetricsConfig{
			CostPerLLMCall: 0.002,
			StatsWindow:    30,
			Namespace:      "knowledge_engine",
		},
		LLM: LLMConfig{
			Provider: "none",
			Model:    "gemini-2.5-flash",
			Timeout:  30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "debug",
			LogFormat:   "json",
			ServiceName: "knowledge-engine",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Database.Driver == "postgres" && c.Database.Postgres.DSN == "" {
		return errors.New("postgres driver requires a dsn")
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	for name, v := range map[string]float64{
		"min_confidence":        c.Learning.MinConfidence,
		"faq_threshold":         c.Learning.FAQThreshold,
		"default_confidence":    c.Learning.DefaultConfidence,
		"learned_confidence":    c.Implicit.LearnedConfidence,
		"min_signal_confidence": c.Implicit.MinSignalConfidence,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %.2f", name, v)
		}
	}

	if c.Learning.AutoReplyMode != "auto" && c.Learning.AutoReplyMode != "suggest" {
		return fmt.Errorf("invalid auto_reply_mode: %s", c.Learning.AutoReplyMode)
	}

	if c.Implicit.MaxMessages < 1 {
		return fmt.Errorf("implicit max_messages must be positive")
	}

	if c.Implicit.NeutralAfter < 1 || c.Implicit.NeutralAfter > c.Implicit.MaxMessages {
		return fmt.Errorf("implicit neutral_after must be between 1 and max_messages")
	}

	if c.LLM.Provider != "none" && c.LLM.Provider != "gemini" {
		return fmt.Errorf("invalid llm provider: %s", c.LLM.Provider)
	}

	if c.Auth.Enabled && len(c.Auth.APIKeys) == 0 {
		return errors.New("auth enabled but no api_keys configured")
	}

	return nil
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// envFilePath returns the .env file that sits next to the config file, or the
// one in the working directory when no config file was given.
func envFilePath(configPath string) string {
	if configPath == "" {
		return ".env"
	}
	return ResolveRelativePath(configPath, ".env")
}

// loadDotEnv loads variables from an env file. A missing file is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.URL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}

	if v := os.Getenv("KB_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Learning.Enabled = b
		}
	}

	if v := os.Getenv("KB_MIN_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Learning.MinConfidence = f
		}
	}

	if v := os.Getenv("KB_LEARN_FROM_EDITS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Learning.LearnFromEdits = b
		}
	}

	if v := os.Getenv("KB_AUTO_REPLY_MODE"); v != "" {
		cfg.Learning.AutoReplyMode = v
	}

	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.LLM.Provider = "gemini"
		cfg.LLM.APIKey = v
	}

	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		cfg.LLM.Model = v
	}

	if v := os.Getenv("LLM_COST_PER_CALL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Metrics.CostPerLLMCall = f
		}
	}

	if v := os.Getenv("ADMIN_API_KEYS"); v != "" {
		var keys []string
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		cfg.Auth.APIKeys = keys
		cfg.Auth.Enabled = len(keys) > 0
	}
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	configDir := filepath.Dir(configPath)
	return filepath.Join(configDir, targetPath)
}
