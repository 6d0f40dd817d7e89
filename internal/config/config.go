// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "NUTRIVISION"

type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	GinMode   string `mapstructure:"gin_mode"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type ModelConfig struct {
	Provider  string `mapstructure:"provider"`
	Name      string `mapstructure:"name"`
	APIKey    string `mapstructure:"api_key"`
	OllamaURL string `mapstructure:"ollama_url"`
	BaseURL   string `mapstructure:"base_url"`
}

type CameraConfig struct {
	SnapshotURL string `mapstructure:"snapshot_url"`
	Facing      string `mapstructure:"facing"`
}

type SessionConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	FinishDelay  time.Duration `mapstructure:"finish_delay"`
}

type AgentConfig struct {
	PhaseTimeout time.Duration `mapstructure:"phase_timeout"`
}

type Config struct {
	Server   ServerConfig  `mapstructure:"server"`
	Storage  StorageConfig `mapstructure:"storage"`
	Model    ModelConfig   `mapstructure:"model"`
	Camera   CameraConfig  `mapstructure:"camera"`
	Session  SessionConfig `mapstructure:"session"`
	Agent    AgentConfig   `mapstructure:"agent"`
	Timezone string        `mapstructure:"timezone"`
	// ToastDuration is how long a toast stays visible.
	ToastDuration time.Duration `mapstructure:"toast_duration"`
}

// Location resolves Timezone, falling back to the local zone.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "nutrivision")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "http")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8011)
	v.SetDefault("server.gin_mode", "release")
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", "")
	v.SetDefault("model.provider", "gemini")
	v.SetDefault("model.name", "")
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.ollama_url", "http://localhost:11434")
	v.SetDefault("model.base_url", "")
	v.SetDefault("camera.snapshot_url", "")
	v.SetDefault("camera.facing", "environment")
	v.SetDefault("session.tick_interval", "500ms")
	v.SetDefault("session.finish_delay", "600ms")
	v.SetDefault("agent.phase_timeout", "60s")
	v.SetDefault("timezone", "")
	v.SetDefault("toast_duration", "5s")
}

// Load reads .env, the toml config file and NUTRIVISION_* environment
// variables, in increasing precedence. GEMINI_API_KEY and API_KEY are
// accepted for the model key.
func Load(cfgFile string, logger *log.Logger) (*Config, error) {
	if logger == nil {
		logger = log.Default()
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Printf("Warning: failed to load .env: %v", err)
	}

	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(DefaultDir())
		v.SetConfigType("toml")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("model.api_key", EnvPrefix+"_MODEL_API_KEY", "GEMINI_API_KEY", "API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind api key: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		logger.Printf("Using config file: %s", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join(DefaultDir(), "nutrivision.db")
		if cfg.Storage.Driver == "badger" {
			cfg.Storage.Path = filepath.Join(DefaultDir(), "badger")
		}
	}
	return &cfg, nil
}
