// Package config loads engine configuration from the environment, and
// in development from a .env file, using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int
	ReadTimeout  int
	WriteTimeout int
}

// RedisConfig holds the permission cache backend connection.
type RedisConfig struct {
	URL string
	DB  int
}

// AuthConfig holds token lifetime and signing settings.
type AuthConfig struct {
	JWTSecret          string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	EntityTokenIssuer  string
	AdminTokenIssuer   string
	EntitySecretSuffix string
	RateLimitPerMinute int
}

// VersioningConfig holds default pruning policy values,
// overridable per-call via system_settings.
type VersioningConfig struct {
	MaxAgeDays  *int
	MaxVersions *int
	CronExpr    string
}

// ReconciliationConfig toggles the version-pruning scheduler.
type ReconciliationConfig struct {
	Enabled bool
}

// Config is the fully assembled application configuration.
type Config struct {
	Environment    string
	LogLevel       string
	Database       DatabaseConfig
	Server         ServerConfig
	Redis          RedisConfig
	Auth           AuthConfig
	Versioning     VersioningConfig
	Reconciliation ReconciliationConfig
	RunWorkerCount int
	RunBatchSize   int
	HTTPTimeout    time.Duration
}

// Load reads configuration from the environment, applying sensible
// defaults. A missing or malformed required value is a Config error
// (fatal at startup exit code 1).
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15)
	v.SetDefault("server.write_timeout", 15)
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime_minutes", 30)
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.access_token_ttl_minutes", 30)
	v.SetDefault("auth.refresh_token_ttl_hours", 24*30)
	v.SetDefault("auth.entity_token_issuer", "r_data_core_entity")
	v.SetDefault("auth.admin_token_issuer", "r_data_core_admin")
	v.SetDefault("auth.entity_secret_suffix", "_entity")
	v.SetDefault("auth.rate_limit_per_minute", 10)
	v.SetDefault("versioning.cron_expr", "0 3 * * *")
	v.SetDefault("reconciliation.enabled", true)
	v.SetDefault("run.worker_count", 4)
	v.SetDefault("run.batch_size", 200)
	v.SetDefault("http.timeout_seconds", 30)

	dbURL := v.GetString("DATABASE_URL")
	if dbURL == "" {
		return nil, rerrors.Config("DATABASE_URL is required", nil)
	}

	jwtSecret := v.GetString("JWT_SECRET")
	if jwtSecret == "" {
		return nil, rerrors.Config("JWT_SECRET is required", nil)
	}

	redisURL := v.GetString("REDIS_URL")
	if redisURL == "" {
		return nil, rerrors.Config("REDIS_URL is required", nil)
	}

	cfg := &Config{
		Environment: v.GetString("environment"),
		LogLevel:    v.GetString("log_level"),
		Database: DatabaseConfig{
			URL:             dbURL,
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: time.Duration(v.GetInt("database.conn_max_lifetime_minutes")) * time.Minute,
		},
		Server: ServerConfig{
			Port:         v.GetInt("server.port"),
			ReadTimeout:  v.GetInt("server.read_timeout"),
			WriteTimeout: v.GetInt("server.write_timeout"),
		},
		Redis: RedisConfig{
			URL: redisURL,
			DB:  v.GetInt("redis.db"),
		},
		Auth: AuthConfig{
			JWTSecret:          jwtSecret,
			AccessTokenTTL:     time.Duration(v.GetInt("auth.access_token_ttl_minutes")) * time.Minute,
			RefreshTokenTTL:    time.Duration(v.GetInt("auth.refresh_token_ttl_hours")) * time.Hour,
			EntityTokenIssuer:  v.GetString("auth.entity_token_issuer"),
			AdminTokenIssuer:   v.GetString("auth.admin_token_issuer"),
			EntitySecretSuffix: v.GetString("auth.entity_secret_suffix"),
			RateLimitPerMinute: v.GetInt("auth.rate_limit_per_minute"),
		},
		Versioning: VersioningConfig{
			CronExpr: v.GetString("versioning.cron_expr"),
		},
		Reconciliation: ReconciliationConfig{
			Enabled: v.GetBool("reconciliation.enabled"),
		},
		RunWorkerCount: v.GetInt("run.worker_count"),
		RunBatchSize:   v.GetInt("run.batch_size"),
		HTTPTimeout:    time.Duration(v.GetInt("http.timeout_seconds")) * time.Second,
	}

	if v.IsSet("versioning.max_age_days") {
		days := v.GetInt("versioning.max_age_days")
		cfg.Versioning.MaxAgeDays = &days
	}
	if v.IsSet("versioning.max_versions") {
		n := v.GetInt("versioning.max_versions")
		cfg.Versioning.MaxVersions = &n
	}

	if cfg.Server.Port <= 0 {
		return nil, rerrors.Config(fmt.Sprintf("invalid server port: %d", cfg.Server.Port), nil)
	}

	return cfg, nil
}
