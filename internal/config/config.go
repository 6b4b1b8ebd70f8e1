// This file defines the configuration structure for the application.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration settings for the application.
// It maps directly to the structure of config.yml.
type Config struct {
	Port     int `mapstructure:"port"`
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Log struct {
		Level string `mapstructure:"level"`
		Path  string `mapstructure:"path"`
	} `mapstructure:"log"`
	Bulk BulkConfig `mapstructure:"bulk"`
	Jobs struct {
		// StaleCheckInterval is in minutes; 0 disables the scheduled sweep.
		StaleCheckInterval int `mapstructure:"stale_check_interval"`
		// StaleAfter is in minutes.
		StaleAfter int `mapstructure:"stale_after"`
	} `mapstructure:"jobs"`
}

// BulkConfig tunes the bulk operation engine.
type BulkConfig struct {
	ChunkSize               int     `mapstructure:"chunk_size"`
	MaxConcurrentOperations int     `mapstructure:"max_concurrent_operations"`
	ItemsPerSecond          float64 `mapstructure:"items_per_second"`
	ErrorPreviewLimit       int     `mapstructure:"error_preview_limit"`
	PreviewSecondsPerItem   float64 `mapstructure:"preview_seconds_per_item"`
}

// Load reads configuration from a file named "config.yml" in the
// current directory and unmarshals it into a Config struct.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(".")

	// MVIDARR_BULK_CHUNK_SIZE overrides `bulk.chunk_size`, and so on.
	v.SetEnvPrefix("MVIDARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("database.path", "./mvidarr.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", "")
	v.SetDefault("bulk.chunk_size", 50)
	v.SetDefault("bulk.max_concurrent_operations", 3)
	v.SetDefault("bulk.items_per_second", 0)
	v.SetDefault("bulk.error_preview_limit", 20)
	v.SetDefault("bulk.preview_seconds_per_item", 0.05)
	v.SetDefault("jobs.stale_check_interval", 10)
	v.SetDefault("jobs.stale_after", 60)
}

// Default returns a Config populated with the built-in defaults only.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Unmarshal of plain defaults cannot fail.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Bulk.ChunkSize <= 0 {
		return fmt.Errorf("bulk.chunk_size must be positive, got %d", c.Bulk.ChunkSize)
	}
	if c.Bulk.MaxConcurrentOperations <= 0 {
		return fmt.Errorf("bulk.max_concurrent_operations must be positive, got %d", c.Bulk.MaxConcurrentOperations)
	}
	if c.Bulk.ItemsPerSecond < 0 {
		return fmt.Errorf("bulk.items_per_second must not be negative, got %v", c.Bulk.ItemsPerSecond)
	}
	return nil
}
