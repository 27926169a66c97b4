package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the demo server's process configuration, loaded from the
// environment (optionally seeded from a .env file in development).
type Config struct {
	Addr         string `envconfig:"DEMO_ADDR" default:":8080"`
	CookieName   string `envconfig:"DEMO_COOKIE_NAME" default:"demo_session"`
	SQLiteDSN    string `envconfig:"DEMO_SQLITE_DSN" default:"file:demo_sessions.db?cache=shared"`
	SessionHours int    `envconfig:"DEMO_SESSION_HOURS" default:"24"`
}

// loadConfig reads Config from the environment, first loading .env into the
// process environment if present (godotenv.Load is a no-op error that we
// ignore when the file simply doesn't exist, matching its own documented
// usage for local development).
func loadConfig() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("example: failed to load configuration: %w", err)
	}
	return cfg, nil
}
