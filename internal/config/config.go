// Package config loads hexkit settings from a config file and HEXKIT_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/joshuapare/hexkit/device"
	"github.com/joshuapare/hexkit/document"
	"github.com/joshuapare/hexkit/internal/logger"
	"github.com/joshuapare/hexkit/operation"
	"github.com/joshuapare/hexkit/pkg/types"
)

// EnvPrefix prefixes every environment override, e.g.
// HEXKIT_LIMITS_MEMORY_LOAD_LIMIT.
const EnvPrefix = "HEXKIT"

// Config holds all settings.
type Config struct {
	Limits     Limits     `mapstructure:"limits"`
	Operations Operations `mapstructure:"operations"`
	Log        Log        `mapstructure:"log"`
}

// Limit profiles select the base values that explicit limits override.
const (
	ProfileDefault = "default"
	ProfileStrict  = "strict"
)

// Limits mirrors types.Limits.
type Limits struct {
	Profile         string `mapstructure:"profile"`
	MemoryLoadLimit int64 `mapstructure:"memory_load_limit"`
	CacheSize       int64 `mapstructure:"cache_size"`
	CacheBoundary   int64 `mapstructure:"cache_boundary"`
	WriteBlock      int64 `mapstructure:"write_block"`
	HistoryLimit    int   `mapstructure:"history_limit"`
	MergeLimit      int   `mapstructure:"merge_limit"`
}

type Operations struct {
	Workers     int           `mapstructure:"workers"`
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

type Log struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
	Level   string `mapstructure:"level"`
}

// Options controls where Load looks.
type Options struct {
	// Fs is the filesystem config files are read from. Defaults to the OS
	// filesystem.
	Fs afero.Fs

	// File is an explicit config file. It must exist.
	File string

	// Paths are searched for hexkit.{yaml,json,toml} when File is empty.
	// Defaults to ~/.hexkit and the working directory.
	Paths []string
}

// Default returns the built-in settings.
func Default() *Config {
	d := types.DefaultLimits()
	return &Config{
		Limits: Limits{
			Profile:         ProfileDefault,
			MemoryLoadLimit: d.MemoryLoadLimit,
			CacheSize:       d.CacheSize,
			CacheBoundary:   d.CacheBoundary,
			WriteBlock:      d.WriteBlock,
			HistoryLimit:    d.HistoryLimit,
			MergeLimit:      d.MergeLimit,
		},
		Operations: Operations{
			Workers:     types.DefaultWorkers,
			GracePeriod: types.DefaultGracePeriod,
		},
		Log: Log{Level: "info"},
	}
}

// profileLimits returns the base limits of a named profile.
func profileLimits(name string) (types.Limits, error) {
	switch name {
	case "", ProfileDefault:
		return types.DefaultLimits(), nil
	case ProfileStrict:
		return types.StrictLimits(), nil
	}
	return types.Limits{}, fmt.Errorf("limits.profile: unknown profile %q", name)
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("limits.profile", d.Limits.Profile)
	v.SetDefault("operations.workers", d.Operations.Workers)
	v.SetDefault("operations.grace_period", d.Operations.GracePeriod)
	v.SetDefault("log.enabled", d.Log.Enabled)
	v.SetDefault("log.dir", d.Log.Dir)
	v.SetDefault("log.level", d.Log.Level)
}

func setLimitDefaults(v *viper.Viper, l types.Limits) {
	v.SetDefault("limits.memory_load_limit", l.MemoryLoadLimit)
	v.SetDefault("limits.cache_size", l.CacheSize)
	v.SetDefault("limits.cache_boundary", l.CacheBoundary)
	v.SetDefault("limits.write_block", l.WriteBlock)
	v.SetDefault("limits.history_limit", l.HistoryLimit)
	v.SetDefault("limits.merge_limit", l.MergeLimit)
}

// Load reads the config file, if any, and applies environment overrides.
// A missing file is only an error when Options.File names it.
func Load(opts Options) (*Config, error) {
	v := viper.New()
	if opts.Fs != nil {
		v.SetFs(opts.Fs)
	}
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", opts.File, err)
		}
	} else {
		v.SetConfigName("hexkit")
		paths := opts.Paths
		if len(paths) == 0 {
			if home, err := os.UserHomeDir(); err == nil {
				paths = append(paths, filepath.Join(home, ".hexkit"))
			}
			paths = append(paths, ".")
		}
		for _, p := range paths {
			v.AddConfigPath(p)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	// The profile is known only once the file and environment are read.
	base, err := profileLimits(v.GetString("limits.profile"))
	if err != nil {
		return nil, err
	}
	setLimitDefaults(v, base)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component can work with.
func (c *Config) Validate() error {
	l := c.Limits
	if _, err := profileLimits(l.Profile); err != nil {
		return err
	}
	switch {
	case l.MemoryLoadLimit < 0:
		return fmt.Errorf("limits.memory_load_limit must not be negative")
	case l.CacheSize < 0 || l.CacheBoundary < 0:
		return fmt.Errorf("limits.cache_size and limits.cache_boundary must not be negative")
	case l.MergeLimit < 0:
		return fmt.Errorf("limits.merge_limit must not be negative")
	case c.Operations.Workers < 0:
		return fmt.Errorf("operations.workers must not be negative")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// TypesLimits converts to the limits consumed by devices and documents.
func (c *Config) TypesLimits() types.Limits {
	return types.Limits{
		MemoryLoadLimit: c.Limits.MemoryLoadLimit,
		CacheSize:       c.Limits.CacheSize,
		CacheBoundary:   c.Limits.CacheBoundary,
		WriteBlock:      c.Limits.WriteBlock,
		HistoryLimit:    c.Limits.HistoryLimit,
		MergeLimit:      c.Limits.MergeLimit,
	}.Normalize()
}

// OpenerOptions returns options for device.NewOpener on fs. A nil fs means
// the OS filesystem.
func (c *Config) OpenerOptions(fs afero.Fs) device.OpenerOptions {
	return device.OpenerOptions{Fs: fs, Limits: c.TypesLimits()}
}

// ManagerOptions returns options for operation.NewManager.
func (c *Config) ManagerOptions() operation.ManagerOptions {
	return operation.ManagerOptions{
		Workers:     c.Operations.Workers,
		GracePeriod: c.Operations.GracePeriod,
	}
}

// DocumentOptions returns options for document.New.
func (c *Config) DocumentOptions() []document.Option {
	return []document.Option{document.WithLimits(c.TypesLimits())}
}

// LoggerOptions returns options for logger.Init.
func (c *Config) LoggerOptions() logger.Options {
	level, _ := c.Log.SlogLevel()
	return logger.Options{Enabled: c.Log.Enabled, LogDir: c.Log.Dir, Level: level}
}

// SlogLevel parses Level ("debug", "info", "warn", "error").
func (l Log) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
