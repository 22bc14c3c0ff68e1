package dbconfig

import (
	"fmt"
	"net/url"

	"github.com/caarlos0/env/v11"
)

// Config holds Postgres connection settings.
type Config struct {
	URL      string `env:"DATABASE_URL"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
	Database string `env:"DB_NAME" envDefault:"geotag"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
}

// NewConfigFromEnv reads DATABASE_URL or the DB_* environment variables.
func NewConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse database env: %w", err)
	}
	return cfg, nil
}

// DSN returns the Postgres connection URL. DATABASE_URL wins when set.
func (c Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// Redacted is DSN without the password, for logs.
func (c Config) Redacted() string {
	u, err := url.Parse(c.DSN())
	if err != nil {
		return "<invalid dsn>"
	}
	return u.Redacted()
}
