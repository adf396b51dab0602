// Package config loads the application configuration and exposes the
// global device defaults store. Values come from a YAML file, DEVICELINK_*
// environment variables and the defaults below.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the root configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	ADB        ToolConfig       `mapstructure:"adb"`
	Scrcpy     ToolConfig       `mapstructure:"scrcpy"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        LogConfig        `mapstructure:"log"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Screenshot ScreenshotConfig `mapstructure:"screenshot"`
	Mirror     MirrorConfig     `mapstructure:"mirror"`

	settings *Settings
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"` // listen address, default :8080
	Mode string `mapstructure:"mode"` // gin mode: debug / release
}

// ToolConfig locates an external binary
type ToolConfig struct {
	Path string `mapstructure:"path"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Dir string `mapstructure:"dir"` // empty disables the log file
}

type RegistryConfig struct {
	StartDelay time.Duration `mapstructure:"start_delay"` // delay before watch + screenshots start
}

type ScreenshotConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type MirrorConfig struct {
	SuccessDelay time.Duration `mapstructure:"success_delay"`
	SettleDelay  time.Duration `mapstructure:"settle_delay"`
}

// flagKeys maps command-line flag names to config keys
var flagKeys = map[string]string{
	"addr":   "server.addr",
	"adb":    "adb.path",
	"scrcpy": "scrcpy.path",
	"db":     "database.path",
}

// Load reads configuration from configFile, or from config.yaml in the
// working directory or ./configs when configFile is empty. A missing
// config.yaml is not an error. Flags that were set on the command line
// override file and environment values.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// DEVICELINK_SERVER_ADDR -> server.addr
	v.SetEnvPrefix("DEVICELINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.settings = &Settings{v: v}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")

	v.SetDefault("adb.path", "adb")
	v.SetDefault("scrcpy.path", "scrcpy")

	v.SetDefault("database.path", DefaultDatabasePath)
	v.SetDefault("log.dir", "log")

	v.SetDefault("registry.start_delay", 2*time.Second)
	v.SetDefault("screenshot.interval", 5*time.Second)
	v.SetDefault("mirror.success_delay", 2*time.Second)
	v.SetDefault("mirror.settle_delay", time.Second)
}

// Settings returns the global configuration store backed by the same source
func (c *Config) Settings() *Settings {
	return c.settings
}

// Settings is the global key/value configuration store. Keys are
// case-insensitive, e.g. "Device.maxFps" reads device.maxfps.
type Settings struct {
	mu sync.RWMutex
	v  *viper.Viper
}

// NewSettings returns an in-memory store seeded with values
func NewSettings(values map[string]string) *Settings {
	v := viper.New()
	for k, val := range values {
		v.Set(k, val)
	}
	return &Settings{v: v}
}

// Get returns the string value of key, or def when key is not set
func (s *Settings) Get(key, def string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.v.IsSet(key) {
		return def
	}
	return s.v.GetString(key)
}

// Set stores value under key and writes the config file when one is in use
func (s *Settings) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(key, value)
	if s.v.ConfigFileUsed() == "" {
		return nil
	}
	if err := s.v.WriteConfig(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
