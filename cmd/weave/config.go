package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the full runtime configuration. Precedence:
// environment variables > settings file > defaults.
type Config struct {
	Addr         string `json:"addr"`
	DBPath       string `json:"db_path"`
	CallbackBase string `json:"callback_base"`

	DispatchTimeout   time.Duration `json:"-"`
	RequireSignatures bool          `json:"require_signatures"`

	Retention time.Duration `json:"-"`
	StaleAge  time.Duration `json:"-"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"` // json | text

	// raw duration strings from the settings file
	DispatchTimeoutStr string `json:"dispatch_timeout"`
	RetentionStr       string `json:"retention"`
	StaleAgeStr        string `json:"stale_age"`
}

func defaultConfig() Config {
	return Config{
		Addr:            ":8080",
		DBPath:          "file:weave.db",
		CallbackBase:    "http://localhost:8080",
		DispatchTimeout: 30 * time.Second,
		Retention:       30 * 24 * time.Hour,
		StaleAge:        24 * time.Hour,
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// LoadConfig assembles the configuration from defaults, the optional
// settings file, and WEAVE_* environment variables, in that order.
func LoadConfig() (Config, error) {
	cfg := defaultConfig()

	path := envStr("WEAVE_SETTINGS", "settings.json")
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
		if err := cfg.resolveDurations(); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.Addr = envStr("WEAVE_ADDR", cfg.Addr)
	cfg.DBPath = envStr("WEAVE_DB_PATH", cfg.DBPath)
	cfg.CallbackBase = envStr("WEAVE_CALLBACK_BASE", cfg.CallbackBase)
	cfg.LogLevel = envStr("WEAVE_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envStr("WEAVE_LOG_FORMAT", cfg.LogFormat)
	cfg.RequireSignatures = envBool("WEAVE_REQUIRE_SIGNATURES", cfg.RequireSignatures)

	var err error
	if cfg.DispatchTimeout, err = envDuration("WEAVE_DISPATCH_TIMEOUT", cfg.DispatchTimeout); err != nil {
		return cfg, err
	}
	if cfg.Retention, err = envDuration("WEAVE_RETENTION", cfg.Retention); err != nil {
		return cfg, err
	}
	if cfg.StaleAge, err = envDuration("WEAVE_STALE_AGE", cfg.StaleAge); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) resolveDurations() error {
	for _, pair := range []struct {
		raw  string
		dest *time.Duration
	}{
		{c.DispatchTimeoutStr, &c.DispatchTimeout},
		{c.RetentionStr, &c.Retention},
		{c.StaleAgeStr, &c.StaleAge},
	} {
		if pair.raw == "" {
			continue
		}
		d, err := time.ParseDuration(pair.raw)
		if err != nil {
			return err
		}
		*pair.dest = d
	}
	return nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
