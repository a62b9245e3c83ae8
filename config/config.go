// Package config reads the effect service settings from the environment.
package config

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

type MySQL struct {
	User     string `env:"MYSQL_USER" envDefault:"user"`
	Password string `env:"MYSQL_PWD" envDefault:"password"`
	Addr     string `env:"MYSQL_HOST" envDefault:"127.0.0.1:3306"`
	Database string `env:"MYSQL_DATABASE" envDefault:"effect_db"`
}

type Auth struct {
	Disabled bool   `env:"AUTH_DISABLED" envDefault:"false"`
	Secret   string `env:"JWT_SECRET"`
	Issuer   string `env:"JWT_ISSUER"`
}

type Config struct {
	Port       int    `env:"PORT" envDefault:"8080"`
	Driver     string `env:"STORE_DRIVER" envDefault:"mysql"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"data/effects.db"`
	ImagePath  string `env:"EFFECT_IMAGE_PATH" envDefault:"/srv/resources/effect-images"`
	GatewayURL string `env:"GATEWAY_URL" envDefault:"http://localhost:4000"`
	CORSOrigin string `env:"CORS_ORIGIN" envDefault:"http://localhost:8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	// InstanceID names this process in logs; defaults to the hostname.
	InstanceID string `env:"INSTANCE_ID"`

	MySQL MySQL
	Auth  Auth
}

// Load parses and validates the environment.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Driver {
	case DriverMySQL, DriverSQLite:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverMySQL, DriverSQLite, c.Driver)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	if !c.Auth.Disabled {
		if strings.TrimSpace(c.Auth.Secret) == "" {
			return fmt.Errorf("JWT_SECRET is required unless AUTH_DISABLED is set")
		}
		if strings.TrimSpace(c.Auth.Issuer) == "" {
			return fmt.Errorf("JWT_ISSUER is required unless AUTH_DISABLED is set")
		}
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LOG_LEVEL.
func (c Config) Level() (zapcore.Level, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}
