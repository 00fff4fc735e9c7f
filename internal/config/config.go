// Package config loads DarkAuth's runtime configuration from a YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration tree for a DarkAuth process.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	OIDC     OIDCConfig     `yaml:"oidc"`
	Security SecurityConfig `yaml:"security"`
	Install  InstallConfig  `yaml:"install"`
	CORS     CORSConfig     `yaml:"cors"`
}

// CORSConfig controls which origins the two gin engines accept
// credentialed cross-origin requests from (the admin UI and relying-app
// SDKs proxied from a different origin than the core).
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ServerConfig holds HTTP listener settings for the two process surfaces.
type ServerConfig struct {
	UserHost     string        `yaml:"user_host"`
	UserPort     int           `yaml:"user_port"`
	AdminHost    string        `yaml:"admin_host"`
	AdminPort    int           `yaml:"admin_port"`
	Environment  string        `yaml:"environment"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// PostgresConfig is the connection configuration for the system-of-record.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	MigrationsPath  string        `yaml:"migrations_path"`
}

// ConnectionString builds a libpq-style DSN for both pgxpool and golang-migrate.
func (c PostgresConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// RedisConfig configures the ephemeral-state cache (OPAQUE login-session
// intermediates).
type RedisConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Addr returns the host:port form go-redis expects.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// OIDCConfig configures the issuer identity and token lifespans.
type OIDCConfig struct {
	Issuer               string        `yaml:"issuer"`
	AccessTokenLifespan  time.Duration `yaml:"access_token_lifespan"`
	RefreshTokenLifespan time.Duration `yaml:"refresh_token_lifespan"`
	AuthorizationCodeTTL time.Duration `yaml:"authorization_code_ttl"`
	IDTokenLifespan      time.Duration `yaml:"id_token_lifespan"`
	KeyRotationInterval  time.Duration `yaml:"key_rotation_interval"`
	KeyRetirementGrace   time.Duration `yaml:"key_retirement_grace"`
}

// SecurityConfig holds the KEK passphrase and session/CSRF cookie settings.
type SecurityConfig struct {
	KEKPassphrase       string        `yaml:"kek_passphrase"`
	SessionTTL          time.Duration `yaml:"session_ttl"`
	SessionCookieDomain string        `yaml:"session_cookie_domain"`
	CookieSecure        bool          `yaml:"cookie_secure"`
}

// InstallConfig gates the one-shot installation bootstrap flow.
type InstallConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

// Load reads the YAML file at path and applies DARKAUTH_-prefixed
// environment variable overrides on top of it.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			UserHost:     "0.0.0.0",
			UserPort:     9080,
			AdminHost:    "0.0.0.0",
			AdminPort:    9081,
			Environment:  "development",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			User:           "darkauth",
			Database:       "darkauth",
			SSLMode:        "disable",
			MaxConns:       10,
			MinConns:       2,
			MigrationsPath: "migrations",
		},
		Redis: RedisConfig{
			Host:         "localhost",
			Port:         6379,
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		OIDC: OIDCConfig{
			Issuer:               "http://localhost:9080",
			AccessTokenLifespan:  15 * time.Minute,
			RefreshTokenLifespan: 30 * 24 * time.Hour,
			AuthorizationCodeTTL: 60 * time.Second,
			IDTokenLifespan:      15 * time.Minute,
			KeyRotationInterval:  30 * 24 * time.Hour,
			KeyRetirementGrace:   7 * 24 * time.Hour,
		},
		Security: SecurityConfig{
			SessionTTL:   15 * time.Minute,
			CookieSecure: true,
		},
		Install: InstallConfig{Enabled: true},
		CORS:    CORSConfig{AllowedOrigins: []string{"http://localhost:5173"}},
	}
}

func applyEnvOverrides(cfg *Config) {
	getEnv("DARKAUTH_SERVER_ENVIRONMENT", &cfg.Server.Environment)
	getEnvAsInt("DARKAUTH_USER_PORT", &cfg.Server.UserPort)
	getEnvAsInt("DARKAUTH_ADMIN_PORT", &cfg.Server.AdminPort)

	getEnv("DARKAUTH_POSTGRES_HOST", &cfg.Postgres.Host)
	getEnvAsInt("DARKAUTH_POSTGRES_PORT", &cfg.Postgres.Port)
	getEnv("DARKAUTH_POSTGRES_USER", &cfg.Postgres.User)
	getEnv("DARKAUTH_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	getEnv("DARKAUTH_POSTGRES_DATABASE", &cfg.Postgres.Database)

	getEnv("DARKAUTH_REDIS_HOST", &cfg.Redis.Host)
	getEnvAsInt("DARKAUTH_REDIS_PORT", &cfg.Redis.Port)
	getEnv("DARKAUTH_REDIS_PASSWORD", &cfg.Redis.Password)

	getEnv("DARKAUTH_OIDC_ISSUER", &cfg.OIDC.Issuer)

	getEnv("DARKAUTH_KEK_PASSPHRASE", &cfg.Security.KEKPassphrase)
	getEnvAsBool("DARKAUTH_INSTALL_ENABLED", &cfg.Install.Enabled)
	getEnv("DARKAUTH_INSTALL_TOKEN", &cfg.Install.Token)
}

func getEnv(key string, dest *string) {
	if v := os.Getenv(key); v != "" {
		*dest = v
	}
}

func getEnvAsInt(key string, dest *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dest = n
}

func getEnvAsBool(key string, dest *bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return
	}
	*dest = b
}
