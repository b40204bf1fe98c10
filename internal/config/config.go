package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/atelier-ai/atelier/internal/db"
	"github.com/atelier-ai/atelier/internal/tracing"
)

// Config is the full runtime configuration of the service. Every field can
// be set in atelier.yaml or overridden with an ATELIER_* environment
// variable (ATELIER_SERVER_PORT, ATELIER_REDIS_ADDR, ...).
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      db.Config           `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Collaborators CollaboratorsConfig `mapstructure:"collaborators"`
	Templates     TemplatesConfig     `mapstructure:"templates"`
	Personas      PersonasConfig      `mapstructure:"personas"`
	Tracing       tracing.Config      `mapstructure:"tracing"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	MetricsPort     int           `mapstructure:"metrics_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
}

type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	ConversationTTL time.Duration `mapstructure:"conversation_ttl"`
}

type CollaboratorsConfig struct {
	RetrievalURL string        `mapstructure:"retrieval_url"`
	LLMURL       string        `mapstructure:"llm_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type TemplatesConfig struct {
	Dir string `mapstructure:"dir"`
}

type PersonasConfig struct {
	Dir string `mapstructure:"dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or console
}

// Load reads atelier.yaml from ATELIER_CONFIG_PATH or ./config, applies
// env overrides, and fills defaults. A missing config file is not an
// error; the defaults describe a working local setup.
func Load() (*Config, error) {
	v := viper.New()

	if path := os.Getenv("ATELIER_CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("atelier")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ATELIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8085)
	v.SetDefault("server.metrics_port", 2113)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit_rps", 50.0)
	v.SetDefault("server.rate_limit_burst", 100)

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "atelier.db")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.idle_connections", 5)
	v.SetDefault("database.max_lifetime", "30m")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.conversation_ttl", "24h")

	v.SetDefault("collaborators.retrieval_url", "http://localhost:8090")
	v.SetDefault("collaborators.llm_url", "http://localhost:8091")
	v.SetDefault("collaborators.timeout", "60s")

	v.SetDefault("templates.dir", "config/workflows")
	v.SetDefault("personas.dir", "config/personas")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "atelier")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate rejects configurations that cannot start.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}
