package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "72h" parse.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the full server configuration. Values load from an
// optional YAML file and can be overridden by environment variables.
type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Database struct {
		URL           string `yaml:"url"`
		MigrationsDir string `yaml:"migrations_dir"`
	} `yaml:"database"`

	Auth struct {
		JWTSecret  string `yaml:"jwt_secret"`
		TOTPIssuer string `yaml:"totp_issuer"`
	} `yaml:"auth"`

	Trading struct {
		FeeBps            int      `yaml:"fee_bps"`
		AutoReleaseWindow Duration `yaml:"auto_release_window"`
		Currencies        []string `yaml:"currencies"`
	} `yaml:"trading"`

	Worker struct {
		Interval Duration `yaml:"interval"`
		Batch    int      `yaml:"batch"`
	} `yaml:"worker"`
}

// Load reads the config file at path (if it exists) and applies
// environment variable overrides on top.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		b, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Server.Addr = ":8080"
	cfg.Database.MigrationsDir = "migrations"
	cfg.Auth.TOTPIssuer = "p2p-exchange"
	cfg.Trading.FeeBps = 2000
	cfg.Trading.AutoReleaseWindow = Duration(72 * time.Hour)
	cfg.Trading.Currencies = []string{"GOLD", "USD"}
	cfg.Worker.Interval = Duration(time.Minute)
	cfg.Worker.Batch = 50
	return cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("MIGRATIONS_DIR"); v != "" {
		cfg.Database.MigrationsDir = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("TOTP_ISSUER"); v != "" {
		cfg.Auth.TOTPIssuer = v
	}
	if v := os.Getenv("FEE_BPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Trading.FeeBps = n
		}
	}
	if v := os.Getenv("AUTO_RELEASE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Trading.AutoReleaseWindow = Duration(d)
		}
	}
	if v := os.Getenv("CURRENCIES"); v != "" {
		parts := strings.Split(v, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		cfg.Trading.Currencies = out
	}
	if v := os.Getenv("WORKER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.Interval = Duration(d)
		}
	}
	if v := os.Getenv("WORKER_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Batch = n
		}
	}
}
