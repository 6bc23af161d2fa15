package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "AGORA"
	defaultHTTPAddress      = "0.0.0.0:8000"
	defaultAPIPrefix        = "api"
	defaultClientOrigin     = "http://localhost:3000"
	defaultEnvironment      = EnvironmentDevelopment
	defaultDatabaseDriver   = DatabaseDriverSQLite
	defaultDatabasePath     = "agora.db"
	defaultLogLevel         = "info"
	defaultCookieName       = "token"
	defaultTokenIssuer      = "agora-api"
	defaultTokenTTL         = 24 * time.Hour
	defaultBcryptCost       = 12
	defaultCacheDriver      = DriverMemory
	defaultCacheTTL         = 60 * time.Second
	defaultCacheKeyPrefix   = "agora:"
	defaultRedisAddress     = "127.0.0.1:6379"
	defaultThrottleDriver   = DriverMemory
	defaultThrottleLimit    = 10
	defaultThrottleWindow   = 60 * time.Second
	defaultNotificationsBuf = 256
)

const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"

	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"

	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress string
	APIPrefix   string
	CORSOrigins []string
	Environment string

	DatabaseDriver string
	DatabasePath   string
	DatabaseURL    string

	JWTSecret   string
	TokenIssuer string
	TokenTTL    time.Duration
	BcryptCost  int
	CookieName  string

	CacheDriver    string
	CacheTTL       time.Duration
	CacheKeyPrefix string

	RedisAddress  string
	RedisPassword string
	RedisDB       int

	ThrottleDriver string
	ThrottleLimit  int
	ThrottleWindow time.Duration

	NotificationBuffer int

	LogLevel string
}

// IsProduction reports whether the service runs with production settings.
func (c AppConfig) IsProduction() bool {
	return c.Environment == EnvironmentProduction
}

// UsesRedis reports whether any component needs a redis connection.
func (c AppConfig) UsesRedis() bool {
	return c.CacheDriver == DriverRedis || c.ThrottleDriver == DriverRedis
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
	configViper.SetDefault("http.api_prefix", defaultAPIPrefix)
	configViper.SetDefault("http.cors_origins", []string{defaultClientOrigin})
	configViper.SetDefault("app.env", defaultEnvironment)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.url", "")
	configViper.SetDefault("auth.jwt_secret", "")
	configViper.SetDefault("auth.issuer", defaultTokenIssuer)
	configViper.SetDefault("auth.token_ttl", defaultTokenTTL)
	configViper.SetDefault("auth.bcrypt_cost", defaultBcryptCost)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("cache.driver", defaultCacheDriver)
	configViper.SetDefault("cache.ttl", defaultCacheTTL)
	configViper.SetDefault("cache.key_prefix", defaultCacheKeyPrefix)
	configViper.SetDefault("redis.address", defaultRedisAddress)
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("throttle.driver", defaultThrottleDriver)
	configViper.SetDefault("throttle.limit", defaultThrottleLimit)
	configViper.SetDefault("throttle.window", defaultThrottleWindow)
	configViper.SetDefault("notifications.buffer", defaultNotificationsBuf)
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        strings.TrimSpace(configViper.GetString("http.address")),
		APIPrefix:          strings.Trim(strings.TrimSpace(configViper.GetString("http.api_prefix")), "/"),
		CORSOrigins:        normalizeList(configViper.GetStringSlice("http.cors_origins")),
		Environment:        strings.ToLower(strings.TrimSpace(configViper.GetString("app.env"))),
		DatabaseDriver:     strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:       strings.TrimSpace(configViper.GetString("database.path")),
		DatabaseURL:        strings.TrimSpace(configViper.GetString("database.url")),
		JWTSecret:          configViper.GetString("auth.jwt_secret"),
		TokenIssuer:        strings.TrimSpace(configViper.GetString("auth.issuer")),
		TokenTTL:           configViper.GetDuration("auth.token_ttl"),
		BcryptCost:         configViper.GetInt("auth.bcrypt_cost"),
		CookieName:         strings.TrimSpace(configViper.GetString("auth.cookie_name")),
		CacheDriver:        strings.ToLower(strings.TrimSpace(configViper.GetString("cache.driver"))),
		CacheTTL:           configViper.GetDuration("cache.ttl"),
		CacheKeyPrefix:     configViper.GetString("cache.key_prefix"),
		RedisAddress:       strings.TrimSpace(configViper.GetString("redis.address")),
		RedisPassword:      configViper.GetString("redis.password"),
		RedisDB:            configViper.GetInt("redis.db"),
		ThrottleDriver:     strings.ToLower(strings.TrimSpace(configViper.GetString("throttle.driver"))),
		ThrottleLimit:      configViper.GetInt("throttle.limit"),
		ThrottleWindow:     configViper.GetDuration("throttle.window"),
		NotificationBuffer: configViper.GetInt("notifications.buffer"),
		LogLevel:           configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if c.HTTPAddress == "" {
		return fmt.Errorf("http.address is required")
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("auth.bcrypt_cost must be between 4 and 31")
	}
	if c.CookieName == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	switch c.Environment {
	case EnvironmentDevelopment, EnvironmentProduction, "test":
	default:
		return fmt.Errorf("app.env %q is not supported", c.Environment)
	}
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite:
		if c.DatabasePath == "" {
			return fmt.Errorf("database.path is required")
		}
	case DatabaseDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if err := validateDriver("cache.driver", c.CacheDriver); err != nil {
		return err
	}
	if err := validateDriver("throttle.driver", c.ThrottleDriver); err != nil {
		return err
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.UsesRedis() && c.RedisAddress == "" {
		return fmt.Errorf("redis.address is required when a redis driver is selected")
	}
	if c.ThrottleLimit <= 0 {
		return fmt.Errorf("throttle.limit must be positive")
	}
	if c.ThrottleWindow <= 0 {
		return fmt.Errorf("throttle.window must be positive")
	}
	if c.NotificationBuffer <= 0 {
		return fmt.Errorf("notifications.buffer must be positive")
	}
	return nil
}

func validateDriver(key, driver string) error {
	switch driver {
	case DriverMemory, DriverRedis:
		return nil
	default:
		return fmt.Errorf("%s %q is not supported", key, driver)
	}
}

func normalizeList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
