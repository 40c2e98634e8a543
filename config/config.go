// Package config loads server configuration from jsonapi.yml, with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full server configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	API      APIConfig      `mapstructure:"api"`
	Cache    CacheConfig    `mapstructure:"cache"`
}

// DatabaseConfig selects the SQL backend.
type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite3"
	Driver string `mapstructure:"driver"`
	URL    string `mapstructure:"url"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	APIPrefix string `mapstructure:"api_prefix"`
}

// APIConfig bounds per-request work.
type APIConfig struct {
	DefaultPageSize int   `mapstructure:"default_page_size"`
	MaxPageSize     int   `mapstructure:"max_page_size"`
	MaxIncludeDepth int   `mapstructure:"max_include_depth"`
	MaxBodyBytes    int64 `mapstructure:"max_body_bytes"`
}

// CacheConfig configures the read cache.
type CacheConfig struct {
	// Backend is "none", "memory" or "redis"
	Backend    string `mapstructure:"backend"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
	RedisAddr  string `mapstructure:"redis_addr"`
	RedisDB    int    `mapstructure:"redis_db"`
}

// Load reads jsonapi.yml from the working directory, falling back to
// defaults, and applies JSONAPI_* environment overrides.
func Load() (*Config, error) {
	return LoadFrom(".")
}

// LoadFrom reads the configuration from the given directory.
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.api_prefix", "")
	v.SetDefault("api.default_page_size", 25)
	v.SetDefault("api.max_page_size", 100)
	v.SetDefault("api.max_include_depth", 5)
	v.SetDefault("api.max_body_bytes", 10<<20)
	v.SetDefault("cache.backend", "none")
	v.SetDefault("cache.ttl_seconds", 300)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_db", 0)

	v.SetConfigName("jsonapi")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetEnvPrefix("JSONAPI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// DatabaseURL returns the database URL, preferring the DATABASE_URL
// environment variable over the config file.
func (c *Config) DatabaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	return c.Database.URL
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func validate(c *Config) error {
	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	switch c.Cache.Backend {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache backend %q", c.Cache.Backend)
	}

	if c.API.DefaultPageSize < 1 {
		return fmt.Errorf("api.default_page_size must be positive")
	}
	if c.API.MaxPageSize < c.API.DefaultPageSize {
		return fmt.Errorf("api.max_page_size must be at least the default page size")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	return nil
}
