package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"feedrelay/internal/logging"
)

// Config is the top-level runtime configuration.
type Config struct {
	DBPath   string         `yaml:"db_path"`
	Telegram TelegramConfig `yaml:"telegram"`
	Log      logging.Config `yaml:"log"`
}

// TelegramConfig holds the bot credentials.
type TelegramConfig struct {
	Token string `yaml:"token"`
}

// Load reads the YAML config file at path (if non-empty) and applies
// environment variable overrides on top. Missing file is not an error when
// path is empty; defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{
		DBPath: "data/feedrelay.db",
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Override with environment variables if present
	if v := os.Getenv("FEEDRELAY_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FEEDRELAY_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("FEEDRELAY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("FEEDRELAY_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}

	if cfg.Telegram.Token == "" {
		return nil, fmt.Errorf("telegram token is required (config telegram.token or FEEDRELAY_TELEGRAM_TOKEN)")
	}
	return cfg, nil
}
