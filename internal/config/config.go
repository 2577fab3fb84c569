// Package config holds the tuning constants and the runtime configuration
// of the Omni client and relay.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var ErrMissingSetting = errors.New("config: required setting missing")

// Config is read from an optional TOML file and then overridden by the
// environment.
type Config struct {
	APIURL      string        `toml:"api_url"`
	WSURL       string        `toml:"ws_url"`
	Token       string        `toml:"token"`
	GeocoderURL string        `toml:"geocoder_url"`
	RouterURL   string        `toml:"router_url"`
	UserAgent   string        `toml:"user_agent"`
	Language    string        `toml:"language"`
	LogLevel    string        `toml:"log_level"`
	CacheTTL    time.Duration `toml:"cache_ttl"`

	Relay Relay `toml:"relay"`
}

// Relay configures the reference relay server.
type Relay struct {
	Addr        string `toml:"addr"`
	DatabaseDSN string `toml:"database_dsn"`
	RedisAddr   string `toml:"redis_addr"`
	JWTSecret   string `toml:"jwt_secret"`
	// AllowedOrigins lists the browser origins allowed to open /ws. Empty
	// allows any origin.
	AllowedOrigins []string `toml:"allowed_origins"`
}

func Default() *Config {
	return &Config{
		APIURL:      "http://localhost:8080",
		WSURL:       "ws://localhost:8080/ws",
		GeocoderURL: "https://nominatim.openstreetmap.org",
		RouterURL:   "https://router.project-osrm.org",
		UserAgent:   "omni-live/1.0",
		Language:    "en",
		LogLevel:    "info",
		CacheTTL:    30 * time.Second,
		Relay: Relay{
			Addr:        ":8080",
			DatabaseDSN: "host=localhost user=user password=password dbname=omni port=5432 sslmode=disable",
			RedisAddr:   "localhost:6379",
		},
	}
}

// LoadDotEnv loads .env files into the environment. Missing files are not
// an error.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: %s: %w", f, err)
		}
	}
	return nil
}

// Load starts from Default, applies the TOML file at path if it exists and
// then the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	env := map[string]*string{
		"OMNI_API_URL":      &cfg.APIURL,
		"OMNI_WS_URL":       &cfg.WSURL,
		"OMNI_TOKEN":        &cfg.Token,
		"OMNI_GEOCODER_URL": &cfg.GeocoderURL,
		"OMNI_ROUTER_URL":   &cfg.RouterURL,
		"OMNI_LANGUAGE":     &cfg.Language,
		"OMNI_LOG_LEVEL":    &cfg.LogLevel,
		"RELAY_ADDR":        &cfg.Relay.Addr,
		"DATABASE_DSN":      &cfg.Relay.DatabaseDSN,
		"REDIS_ADDR":        &cfg.Relay.RedisAddr,
		"JWT_SECRET":        &cfg.Relay.JWTSecret,
	}
	for key, field := range env {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*field = v
		}
	}
	if v, ok := os.LookupEnv("OMNI_CACHE_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: OMNI_CACHE_TTL: %w", err)
		}
		cfg.CacheTTL = d
	}
	if v, ok := os.LookupEnv("RELAY_ALLOWED_ORIGINS"); ok && v != "" {
		cfg.Relay.AllowedOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.Relay.AllowedOrigins = append(cfg.Relay.AllowedOrigins, origin)
			}
		}
	}
	return cfg, nil
}

// ValidateRelay checks the settings the relay cannot start without.
func (c *Config) ValidateRelay() error {
	switch {
	case c.Relay.JWTSecret == "":
		return fmt.Errorf("%w: JWT_SECRET", ErrMissingSetting)
	case c.Relay.DatabaseDSN == "":
		return fmt.Errorf("%w: DATABASE_DSN", ErrMissingSetting)
	case c.Relay.Addr == "":
		return fmt.Errorf("%w: RELAY_ADDR", ErrMissingSetting)
	}
	return nil
}

// NewLogger returns a text logger at the configured level.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("config: log level: %w", err)
	}
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger, nil
}
