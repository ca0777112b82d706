// Package config loads the server settings from an optional YAML file and
// LOOPRELAY_ prefixed environment variables, then validates them.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name, e.g.
// LOOPRELAY_SERVER_PORT.
const EnvPrefix = "LOOPRELAY"

// Config holds all application configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server" validate:"required"`
	Store  StoreConfig  `mapstructure:"store" validate:"required"`
	Vault  VaultConfig  `mapstructure:"vault" validate:"required"`
	Engine EngineConfig `mapstructure:"engine" validate:"required"`
}

// ServerConfig contains the HTTP surface settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	APIKey   string `mapstructure:"api_key"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error fatal"`
}

// StoreConfig selects the snapshot backend.
type StoreConfig struct {
	Driver    string `mapstructure:"driver" validate:"required,oneof=file redis"`
	Path      string `mapstructure:"path" validate:"required_if=Driver file"`
	RedisAddr string `mapstructure:"redis_addr" validate:"required_if=Driver redis,omitempty,hostname_port"`
}

// VaultConfig locates the credential vault. An empty Dir with the redis
// store driver keeps credentials in Redis.
type VaultConfig struct {
	Dir string `mapstructure:"dir"`
}

// EngineConfig tunes the background sweeps.
type EngineConfig struct {
	AutosaveSpec string        `mapstructure:"autosave_spec" validate:"required"`
	WatchdogSpec string        `mapstructure:"watchdog_spec" validate:"required"`
	ResumeDelay  time.Duration `mapstructure:"resume_delay" validate:"gte=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.path", "data/tasks.json")
	v.SetDefault("store.redis_addr", "")
	v.SetDefault("vault.dir", "data/credentials")
	v.SetDefault("engine.autosave_spec", "@every 30s")
	v.SetDefault("engine.watchdog_spec", "@every 1m")
	v.SetDefault("engine.resume_delay", 5*time.Second)
}

// Load reads configuration. configFile may be empty; when set, the file must
// exist. Environment variables take precedence over file values.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks struct tags and the sweep schedules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{
		"engine.autosave_spec": c.Engine.AutosaveSpec,
		"engine.watchdog_spec": c.Engine.WatchdogSpec,
	} {
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("config: invalid %s %q: %w", name, spec, err)
		}
	}
	if c.Store.Driver == "file" && c.Vault.Dir == "" {
		return errors.New("config: vault.dir is required with the file store driver")
	}
	return nil
}
