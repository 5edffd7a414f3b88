// File: facade/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package facade

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config carries the application-level knobs. LoadConfig fills keys
// absent from the file and environment, and a zero LogFileSize, with
// DefaultConfig's choices; other explicit zero values are kept.
type Config struct {
	// Workers is the worker-loop count; 0 runs everything on the base
	// loop.
	Workers int `mapstructure:"workers" validate:"min=0,max=512"`

	// LogLevel is the minimum level emitted: debug, info, warn, error.
	LogLevel string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// LogFile, when set, routes log output into a memory-mapped file
	// of LogFileSize bytes.
	LogFile     string `mapstructure:"log_file" validate:"omitempty,filepath"`
	LogFileSize int    `mapstructure:"log_file_size" validate:"min=0"`

	// MaxOpenFiles, when non-zero, raises RLIMIT_NOFILE and the
	// loops' registration ceiling.
	MaxOpenFiles uint64 `mapstructure:"max_open_files"`
}

const defaultLogFileSize = 16 << 20

// DefaultConfig returns the configuration a bare launcher runs with.
func DefaultConfig() Config {
	return Config{
		Workers:     1,
		LogLevel:    "info",
		LogFileSize: defaultLogFileSize,
	}
}

var configValidate = validator.New()

// Validate checks the config's field constraints.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return errors.Wrap(err, "application config")
	}
	return nil
}

// LoadConfig reads path (YAML, TOML or JSON by extension), overlays
// HIOLOAD_-prefixed environment variables, fills defaults and
// validates. An empty path yields the defaults plus environment.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HIOLOAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := DefaultConfig()
	v.SetDefault("workers", def.Workers)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_file_size", def.LogFileSize)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}
	if cfg.LogFileSize == 0 {
		cfg.LogFileSize = defaultLogFileSize
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
