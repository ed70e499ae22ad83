package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the Argus service.
type Config struct {
	DataPaths struct {
		// DataDir is the base data directory (ARGUS_DATA_DIR, default: ./data)
		DataDir string `mapstructure:"data_dir"`
		// SQLitePath is the database file path (default: ${DataDir}/argus.db)
		SQLitePath string `mapstructure:"sqlite_path"`
	} `mapstructure:"data_paths"`

	API struct {
		Port           int      `mapstructure:"port"`
		TLS            bool     `mapstructure:"tls"`
		CertFile       string   `mapstructure:"cert_file"`
		KeyFile        string   `mapstructure:"key_file"`
		AllowedOrigins []string `mapstructure:"allowed_origins"`
		TrustProxy     bool     `mapstructure:"trust_proxy"`
		JSONBodyLimit  int64    `mapstructure:"json_body_limit"`
		RateLimit      struct {
			RequestsPerSecond int `mapstructure:"requests_per_second"`
			Burst             int `mapstructure:"burst"`
		} `mapstructure:"rate_limit"`
	} `mapstructure:"api"`

	Redis struct {
		Enabled  bool   `mapstructure:"enabled"`
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		PoolSize int    `mapstructure:"pool_size"`
	} `mapstructure:"redis"`

	Dashboard struct {
		CacheTTL time.Duration `mapstructure:"cache_ttl"`
	} `mapstructure:"dashboard"`

	Notifications struct {
		Log struct {
			Enabled     bool   `mapstructure:"enabled"`
			MinSeverity string `mapstructure:"min_severity"`
		} `mapstructure:"log"`
		Webhook struct {
			Enabled     bool   `mapstructure:"enabled"`
			URL         string `mapstructure:"url"`
			MinSeverity string `mapstructure:"min_severity"`
		} `mapstructure:"webhook"`
		Slack struct {
			Enabled     bool   `mapstructure:"enabled"`
			WebhookURL  string `mapstructure:"webhook_url"`
			MinSeverity string `mapstructure:"min_severity"`
		} `mapstructure:"slack"`
		Email struct {
			Enabled     bool     `mapstructure:"enabled"`
			SMTPHost    string   `mapstructure:"smtp_host"`
			SMTPPort    int      `mapstructure:"smtp_port"`
			Username    string   `mapstructure:"username"`
			Password    string   `mapstructure:"password"`
			FromAddress string   `mapstructure:"from_address"`
			ToAddresses []string `mapstructure:"to_addresses"`
			MinSeverity string   `mapstructure:"min_severity"`
		} `mapstructure:"email"`
	} `mapstructure:"notifications"`
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("data_paths.data_dir", "./data")
	viper.SetDefault("data_paths.sqlite_path", "") // Empty = derive from data_dir

	viper.SetDefault("api.port", 8081)
	viper.SetDefault("api.tls", false)
	viper.SetDefault("api.cert_file", "server.crt")
	viper.SetDefault("api.key_file", "server.key")
	viper.SetDefault("api.allowed_origins", []string{"http://localhost:3000"})
	viper.SetDefault("api.trust_proxy", false)
	viper.SetDefault("api.json_body_limit", 1048576) // 1MB
	viper.SetDefault("api.rate_limit.requests_per_second", 100)
	viper.SetDefault("api.rate_limit.burst", 100)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("dashboard.cache_ttl", 30*time.Second)

	viper.SetDefault("notifications.log.enabled", true)
	viper.SetDefault("notifications.log.min_severity", "")
	viper.SetDefault("notifications.webhook.enabled", false)
	viper.SetDefault("notifications.slack.enabled", false)
	viper.SetDefault("notifications.email.enabled", false)
	viper.SetDefault("notifications.email.smtp_port", 587)
}

// loadFromEnv sets up environment variable loading
func loadFromEnv() {
	viper.SetEnvPrefix("ARGUS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("data_paths.data_dir", "ARGUS_DATA_DIR")
	_ = viper.BindEnv("data_paths.sqlite_path", "ARGUS_SQLITE_PATH")
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, will use defaults and env vars
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	config.ResolveDataPaths()
	return &config, nil
}

// ResolveDataPaths derives the SQLite path from DataDir if not explicitly set.
func (c *Config) ResolveDataPaths() {
	if c.DataPaths.DataDir == "" {
		c.DataPaths.DataDir = "./data"
	}
	if c.DataPaths.SQLitePath == "" {
		c.DataPaths.SQLitePath = filepath.Join(c.DataPaths.DataDir, "argus.db")
	} else if !filepath.IsAbs(c.DataPaths.SQLitePath) {
		c.DataPaths.SQLitePath = filepath.Clean(c.DataPaths.SQLitePath)
	}
}

// GetSQLitePath returns the resolved SQLite database path
func (c *Config) GetSQLitePath() string {
	if c.DataPaths.SQLitePath == "" {
		c.ResolveDataPaths()
	}
	return c.DataPaths.SQLitePath
}

// validateConfig validates the configuration for correctness
func validateConfig(config *Config) error {
	if config.API.Port < 1 || config.API.Port > 65535 {
		return fmt.Errorf("invalid API port: %d (must be 1-65535)", config.API.Port)
	}
	if config.API.RateLimit.RequestsPerSecond < 1 {
		return fmt.Errorf("api.rate_limit.requests_per_second must be positive, got %d", config.API.RateLimit.RequestsPerSecond)
	}
	if config.API.RateLimit.Burst < 1 {
		return fmt.Errorf("api.rate_limit.burst must be positive, got %d", config.API.RateLimit.Burst)
	}
	if config.API.JSONBodyLimit < 1024 {
		return fmt.Errorf("api.json_body_limit must be at least 1024 bytes, got %d", config.API.JSONBodyLimit)
	}
	if config.API.TLS {
		if config.API.CertFile == "" || config.API.KeyFile == "" {
			return fmt.Errorf("api.cert_file and api.key_file are required when api.tls is enabled")
		}
	}

	if config.Redis.Enabled && config.Redis.Addr == "" {
		return fmt.Errorf("redis.addr cannot be empty when redis is enabled")
	}
	if config.Dashboard.CacheTTL < 0 {
		return fmt.Errorf("dashboard.cache_ttl cannot be negative, got %v", config.Dashboard.CacheTTL)
	}

	if config.Notifications.Webhook.Enabled {
		if err := validateHTTPURL(config.Notifications.Webhook.URL); err != nil {
			return fmt.Errorf("invalid notifications.webhook.url: %w", err)
		}
	}
	if config.Notifications.Slack.Enabled {
		if err := validateHTTPURL(config.Notifications.Slack.WebhookURL); err != nil {
			return fmt.Errorf("invalid notifications.slack.webhook_url: %w", err)
		}
	}
	if config.Notifications.Email.Enabled {
		if config.Notifications.Email.SMTPHost == "" {
			return fmt.Errorf("notifications.email.smtp_host cannot be empty when email is enabled")
		}
		if len(config.Notifications.Email.ToAddresses) == 0 {
			return fmt.Errorf("notifications.email.to_addresses cannot be empty when email is enabled")
		}
	}

	return nil
}

func validateHTTPURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
