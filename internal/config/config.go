package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration for the service. Values come from an
// optional YAML file (QUESTCHAT_CONFIG) with environment variables taking
// precedence.
type Config struct {
	AppEnv         string `yaml:"app_env"`
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	HTTPListenAddr string `yaml:"http_listen_addr"`
	PublicBasePath string `yaml:"public_base_path"`

	DatabaseURL    string `yaml:"database_url"`
	DatabaseSchema string `yaml:"database_schema"`
	SQLitePath     string `yaml:"sqlite_path"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisTLS      bool   `yaml:"redis_tls"`

	WhopBaseURL     string        `yaml:"whop_base_url"`
	WhopAPIKey      string        `yaml:"whop_api_key"`
	WhopAppID       string        `yaml:"whop_app_id"`
	WhopAgentUserID string        `yaml:"whop_agent_user_id"`
	WhopTimeout     time.Duration `yaml:"whop_timeout"`

	// SigningSecret guards the cron trigger endpoints; AdminToken guards the
	// admin API.
	SigningSecret string `yaml:"signing_secret"`
	AdminToken    string `yaml:"admin_token"`

	MetricsNamespace string `yaml:"metrics_namespace"`
}

// Load reads the optional YAML file and applies environment overrides.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:           "development",
		LogLevel:         "info",
		LogFormat:        "text",
		HTTPListenAddr:   ":8080",
		SQLitePath:       "data/questchat.db",
		WhopBaseURL:      "https://api.whop.com",
		WhopTimeout:      15 * time.Second,
		MetricsNamespace: "questchat",
	}

	if path := os.Getenv("QUESTCHAT_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.AppEnv, "APP_ENV")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")
	setString(&cfg.HTTPListenAddr, "HTTP_LISTEN_ADDR")
	setString(&cfg.PublicBasePath, "PUBLIC_BASE_PATH")

	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.DatabaseSchema, "DATABASE_SCHEMA")
	setString(&cfg.SQLitePath, "SQLITE_PATH")

	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setInt(&cfg.RedisDB, "REDIS_DB")
	setBool(&cfg.RedisTLS, "REDIS_TLS")

	setString(&cfg.WhopBaseURL, "WHOP_BASE_URL")
	setString(&cfg.WhopAPIKey, "WHOP_API_KEY")
	setString(&cfg.WhopAppID, "WHOP_APP_ID")
	setString(&cfg.WhopAgentUserID, "WHOP_AGENT_USER_ID")
	setDuration(&cfg.WhopTimeout, "WHOP_TIMEOUT")

	setString(&cfg.SigningSecret, "QUESTCHAT_SIGNING_SECRET")
	setString(&cfg.AdminToken, "ADMIN_API_TOKEN")

	setString(&cfg.MetricsNamespace, "METRICS_NAMESPACE")
}

func (c *Config) validate() error {
	if c.IsProduction() {
		if c.SigningSecret == "" {
			return fmt.Errorf("QUESTCHAT_SIGNING_SECRET is required outside development")
		}
		if c.WhopAPIKey == "" {
			return fmt.Errorf("WHOP_API_KEY is required outside development")
		}
	}
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		return fmt.Errorf("either DATABASE_URL or SQLITE_PATH must be set")
	}
	return nil
}

// IsProduction reports whether the app runs in a production-like environment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.AppEnv))
	return env == "production" || env == "prod" || env == "staging"
}

func setString(dst *string, key string) {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		*dst = val
	}
}

func setInt(dst *int, key string) {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			*dst = parsed
		}
	}
}

func setBool(dst *bool, key string) {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			*dst = parsed
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			*dst = parsed
		}
	}
}
