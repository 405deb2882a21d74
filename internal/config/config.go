package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "CLINICPROGRESS"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultStoreBackend       = StoreBackendSQLite
	defaultDatabasePath       = "clinicprogress.db"
	defaultRedisKeyPrefix     = "clinicprogress:"
	defaultLogLevel           = "info"
	defaultCookieName         = "app_session"
	defaultIssuer             = "tauth"
	defaultLeaderboardRefresh = 5 * time.Minute
	defaultTimezone           = "Local"
)

// Store backends selectable through store.backend.
const (
	StoreBackendMemory   = "memory"
	StoreBackendSQLite   = "sqlite"
	StoreBackendPostgres = "postgres"
	StoreBackendRedis    = "redis"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	AllowedOrigins     []string
	StoreBackend       string
	DatabasePath       string
	DatabaseDSN        string
	RedisAddress       string
	RedisPassword      string
	RedisDB            int
	RedisKeyPrefix     string
	TAuthSigningKey    string
	TAuthCookieName    string
	TAuthIssuer        string
	LogLevel           string
	LeaderboardRefresh time.Duration
	Timezone           string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("store.backend", defaultStoreBackend)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("redis.address", "")
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("redis.key_prefix", defaultRedisKeyPrefix)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("tauth.signing_secret", "")
	configViper.SetDefault("tauth.cookie_name", defaultCookieName)
	configViper.SetDefault("tauth.issuer", defaultIssuer)
	configViper.SetDefault("leaderboard.refresh_interval", defaultLeaderboardRefresh)
	configViper.SetDefault("progression.timezone", defaultTimezone)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		AllowedOrigins:     splitOrigins(configViper.GetStringSlice("http.allowed_origins")),
		StoreBackend:       strings.ToLower(strings.TrimSpace(configViper.GetString("store.backend"))),
		DatabasePath:       configViper.GetString("database.path"),
		DatabaseDSN:        configViper.GetString("database.dsn"),
		RedisAddress:       configViper.GetString("redis.address"),
		RedisPassword:      configViper.GetString("redis.password"),
		RedisDB:            configViper.GetInt("redis.db"),
		RedisKeyPrefix:     configViper.GetString("redis.key_prefix"),
		TAuthSigningKey:    configViper.GetString("tauth.signing_secret"),
		TAuthCookieName:    configViper.GetString("tauth.cookie_name"),
		TAuthIssuer:        configViper.GetString("tauth.issuer"),
		LogLevel:           configViper.GetString("log.level"),
		LeaderboardRefresh: configViper.GetDuration("leaderboard.refresh_interval"),
		Timezone:           configViper.GetString("progression.timezone"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// Location resolves the timezone used for hour-of-day achievements.
func (c AppConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Timezone)
	if name == "" || name == defaultTimezone {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

// splitOrigins accepts both list values and a single comma-separated string.
func splitOrigins(values []string) []string {
	origins := make([]string, 0, len(values))
	for _, value := range values {
		for _, origin := range strings.Split(value, ",") {
			if origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin != "" {
				origins = append(origins, origin)
			}
		}
	}
	return origins
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.TAuthSigningKey) == "" {
		return fmt.Errorf("tauth.signing_secret is required")
	}
	if strings.TrimSpace(c.TAuthCookieName) == "" {
		return fmt.Errorf("tauth.cookie_name is required")
	}
	switch c.StoreBackend {
	case StoreBackendMemory:
	case StoreBackendSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required for the sqlite backend")
		}
	case StoreBackendPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres backend")
		}
	case StoreBackendRedis:
		if strings.TrimSpace(c.RedisAddress) == "" {
			return fmt.Errorf("redis.address is required for the redis backend")
		}
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required for the user directory")
		}
	default:
		return fmt.Errorf("unsupported store.backend %q", c.StoreBackend)
	}
	for _, origin := range c.AllowedOrigins {
		if origin == "*" {
			return fmt.Errorf("http.allowed_origins must list explicit origins because session cookies are sent")
		}
		if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("http.allowed_origins entry %q must start with http:// or https://", origin)
		}
	}
	if c.LeaderboardRefresh < 0 {
		return fmt.Errorf("leaderboard.refresh_interval must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("progression.timezone: %w", err)
	}
	return nil
}
