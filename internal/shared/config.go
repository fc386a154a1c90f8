package shared

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
)

//go:embed config.example.toml
var exampleConf []byte

// EnvPrefix is prepended to every environment override, e.g. MODSTORE_STORE_DATA_DIR.
const EnvPrefix = "MODSTORE_"

// Config represents the plugin configuration loaded from a TOML file.
type Config struct {
	Store StoreConfig `toml:"store" envPrefix:"STORE_"`
	Log   LogConfig   `toml:"log" envPrefix:"LOG_"`
}

// StoreConfig contains embedded store settings.
type StoreConfig struct {
	DataDir              string `toml:"data_dir" env:"DATA_DIR"`
	FileName             string `toml:"file_name" env:"FILE_NAME"`
	WALMode              bool   `toml:"wal_mode" env:"WAL_MODE"`
	BusyTimeoutMs        int    `toml:"busy_timeout_ms" env:"BUSY_TIMEOUT_MS"`
	MaxReaders           int    `toml:"max_readers" env:"MAX_READERS"`
	SlowTxThresholdMs    int    `toml:"slow_tx_threshold_ms" env:"SLOW_TX_THRESHOLD_MS"`
	FlushIntervalSeconds int    `toml:"flush_interval_seconds" env:"FLUSH_INTERVAL_SECONDS"`
	ExpirySweepSeconds   int    `toml:"expiry_sweep_seconds" env:"EXPIRY_SWEEP_SECONDS"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level" env:"LEVEL"`
}

// Path returns the full path of the store file.
func (s StoreConfig) Path() string {
	return filepath.Join(s.DataDir, s.FileName)
}

// BusyTimeout is the longest a write transaction waits for the writer before failing with [ErrStoreBusy].
func (s StoreConfig) BusyTimeout() time.Duration {
	return time.Duration(s.BusyTimeoutMs) * time.Millisecond
}

func (s StoreConfig) SlowTxThreshold() time.Duration {
	return time.Duration(s.SlowTxThresholdMs) * time.Millisecond
}

func (s StoreConfig) FlushInterval() time.Duration {
	return time.Duration(s.FlushIntervalSeconds) * time.Second
}

func (s StoreConfig) ExpirySweep() time.Duration {
	return time.Duration(s.ExpirySweepSeconds) * time.Second
}

// Validate reports the first invalid setting wrapped in [ErrInvalidConfig].
func (c *Config) Validate() error {
	switch {
	case c.Store.DataDir == "":
		return fmt.Errorf("%w: store.data_dir is required", ErrInvalidConfig)
	case c.Store.FileName == "":
		return fmt.Errorf("%w: store.file_name is required", ErrInvalidConfig)
	case c.Store.BusyTimeoutMs < 0:
		return fmt.Errorf("%w: store.busy_timeout_ms must not be negative", ErrInvalidConfig)
	case c.Store.MaxReaders < 1:
		return fmt.Errorf("%w: store.max_readers must be at least 1", ErrInvalidConfig)
	case c.Store.FlushIntervalSeconds < 0, c.Store.ExpirySweepSeconds < 0:
		return fmt.Errorf("%w: intervals must not be negative", ErrInvalidConfig)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalidConfig, err)
	}
	return nil
}

// LogLevel returns the configured [log.Level], falling back to info.
func (c *Config) LogLevel() log.Level {
	lvl, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep their default values, and environment overrides are applied last.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := ApplyEnv(config); err != nil {
		return nil, err
	}

	return config, nil
}

// ApplyEnv overrides config values from MODSTORE_* environment variables.
func ApplyEnv(config *Config) error {
	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
