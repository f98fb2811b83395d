package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store backends understood by storage.Open.
const (
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
)

// Config holds all configuration for the application.
// Values are read by viper from a config file or environment variables.
type Config struct {
	DiscordToken      string        `mapstructure:"DISCORD_TOKEN"`
	LinkblocksURL     string        `mapstructure:"LINKBLOCKS_URL"`
	LinkblocksTimeout time.Duration `mapstructure:"LINKBLOCKS_TIMEOUT"`
	StoreBackend      string        `mapstructure:"STORE_BACKEND"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DatabaseKey       string        `mapstructure:"DATABASE_KEY"`
	BadgerDBPath      string        `mapstructure:"BADGERDB_PATH"`
	CallbackAddr      string        `mapstructure:"CALLBACK_ADDR"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	LogFile           string        `mapstructure:"LOG_FILE"`
	ReplyOnFailure    bool          `mapstructure:"REPLY_ON_FAILURE"`
}

// defaults also registers every key with viper, otherwise AutomaticEnv
// values are invisible to Unmarshal.
var defaults = map[string]any{
	"DISCORD_TOKEN":      "",
	"LINKBLOCKS_URL":     "",
	"LINKBLOCKS_TIMEOUT": 30 * time.Second,
	"STORE_BACKEND":      "",
	"DATABASE_URL":       "",
	"DATABASE_KEY":       "",
	"BADGERDB_PATH":      "./badger_data",
	"CALLBACK_ADDR":      ":8080",
	"LOG_LEVEL":          "info",
	"LOG_FILE":           "",
	"REPLY_ON_FAILURE":   false,
}

// LoadConfig reads configuration from a .env file, a config file in path and
// environment variables, in increasing order of precedence.
func LoadConfig(path string) (Config, error) {
	if err := godotenv.Load(filepath.Join(path, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine, env vars may carry everything.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	if c.DiscordToken == "" {
		return errors.New("DISCORD_TOKEN is not set")
	}
	if c.LinkblocksURL == "" {
		return errors.New("LINKBLOCKS_URL is not set")
	}
	c.LinkblocksURL = strings.TrimRight(c.LinkblocksURL, "/")
	if c.LinkblocksTimeout < 0 {
		return fmt.Errorf("LINKBLOCKS_TIMEOUT must not be negative, got %s", c.LinkblocksTimeout)
	}

	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	if c.StoreBackend == "" {
		if c.DatabaseURL != "" {
			c.StoreBackend = BackendPostgres
		} else {
			c.StoreBackend = BackendBadger
		}
	}
	switch c.StoreBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store backend")
		}
	case BackendBadger:
		if c.BadgerDBPath == "" {
			return errors.New("BADGERDB_PATH is required for the badger store backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	return nil
}
