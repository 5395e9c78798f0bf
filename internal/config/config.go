package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds runtime settings for the server.
type Config struct {
	Port          string        `yaml:"port"`
	MongoURI      string        `yaml:"mongodb_uri"`
	MongoDatabase string        `yaml:"mongodb_database"`
	RedisURL      string        `yaml:"redis_url"`
	JWTSecret     string        `yaml:"jwt_secret"`
	UploadDir     string        `yaml:"upload_dir"`
	MaxUploadMB   int64         `yaml:"max_upload_mb"`
	NotifyWorkers int           `yaml:"notify_workers"`
	NotifyBuffer  int           `yaml:"notify_buffer"`
	NotifyTimeout time.Duration `yaml:"notify_timeout"`
	MCPUserID     string        `yaml:"mcp_user_id"`
	LogLevel      string        `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:          "7521",
		MongoURI:      "mongodb://localhost:27017",
		MongoDatabase: "cardstack",
		UploadDir:     "uploads",
		MaxUploadMB:   10,
		NotifyWorkers: 4,
		NotifyBuffer:  256,
		NotifyTimeout: 10 * time.Second,
		LogLevel:      "info",
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// CONFIG_FILE, and finally environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.MongoURI = getEnv("MONGODB_URI", c.MongoURI)
	c.MongoDatabase = getEnv("MONGODB_DATABASE", c.MongoDatabase)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.UploadDir = getEnv("UPLOAD_DIR", c.UploadDir)
	c.MCPUserID = getEnv("MCP_USER_ID", c.MCPUserID)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	if v := os.Getenv("MAX_UPLOAD_MB"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_UPLOAD_MB: %w", err)
		}
		c.MaxUploadMB = n
	}
	if v := os.Getenv("NOTIFY_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid NOTIFY_WORKERS: %w", err)
		}
		c.NotifyWorkers = n
	}
	if v := os.Getenv("NOTIFY_BUFFER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid NOTIFY_BUFFER: %w", err)
		}
		c.NotifyBuffer = n
	}
	if v := os.Getenv("NOTIFY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid NOTIFY_TIMEOUT: %w", err)
		}
		c.NotifyTimeout = d
	}
	return nil
}

// Validate reports settings that would prevent the server from starting.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("max upload size must be greater than zero")
	}
	if c.NotifyWorkers <= 0 {
		return fmt.Errorf("notify workers must be greater than zero")
	}
	if c.NotifyBuffer < 0 {
		return fmt.Errorf("notify buffer must not be negative")
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
