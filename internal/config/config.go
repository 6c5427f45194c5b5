package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lucasew/easysave/internal/i18n"
	"github.com/lucasew/easysave/internal/storage"
)

const (
	ModeIsolated = "isolated"
	ModeShared   = "shared"

	StorageLocal    = "local"
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageRemote   = "remote"

	ResponseForce   = "force"
	ResponseNothing = "nothing"
)

type Config struct {
	Server  ServerConfig    `yaml:"server" mapstructure:"server"`
	Auth    AuthConfig      `yaml:"auth" mapstructure:"auth"`
	Device  DeviceConfig    `yaml:"device" mapstructure:"device"`
	Storage StorageConfig   `yaml:"storage" mapstructure:"storage"`
	Media   []StorageConfig `yaml:"media" mapstructure:"media"`
	Locale  LocaleConfig    `yaml:"locale" mapstructure:"locale"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

type AuthConfig struct {
	// JWTSecret enables bearer token auth on /api and gRPC when set.
	JWTSecret string        `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl" mapstructure:"token_ttl"`
}

type DeviceConfig struct {
	// Mode is "isolated" (Storage namespaced by Title) or "shared" (one of
	// Media picked through device selection).
	Mode           string        `yaml:"mode" mapstructure:"mode"`
	Title          string        `yaml:"title" mapstructure:"title"`
	TickInterval   time.Duration `yaml:"tick_interval" mapstructure:"tick_interval"`
	OnCanceled     string        `yaml:"on_selector_canceled" mapstructure:"on_selector_canceled"`
	OnDisconnected string        `yaml:"on_device_disconnected" mapstructure:"on_device_disconnected"`
}

type StorageConfig struct {
	Name string `yaml:"name" mapstructure:"name"`
	Type string `yaml:"type" mapstructure:"type"`
	// Path is the directory of a local store or the database file of a
	// sqlite store.
	Path string `yaml:"path" mapstructure:"path"`
	// Create makes a missing local directory instead of reporting the
	// medium as unavailable.
	Create bool   `yaml:"create" mapstructure:"create"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
	URL    string `yaml:"url" mapstructure:"url"`
	Token  string `yaml:"token" mapstructure:"token"`
}

type LocaleConfig struct {
	// Languages lists the supported languages; the first one is the default.
	Languages []string `yaml:"languages" mapstructure:"languages"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		Auth:   AuthConfig{TokenTTL: 24 * time.Hour},
		Device: DeviceConfig{
			Mode:           ModeIsolated,
			Title:          "easysave",
			TickInterval:   250 * time.Millisecond,
			OnCanceled:     ResponseForce,
			OnDisconnected: ResponseForce,
		},
		Storage: StorageConfig{
			Name:   "local",
			Type:   StorageLocal,
			Path:   "./data",
			Create: true,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := storage.ValidateName("title", c.Device.Title); err != nil {
		return err
	}
	if c.Device.TickInterval <= 0 {
		return fmt.Errorf("device.tick_interval must be positive")
	}
	for field, v := range map[string]string{
		"device.on_selector_canceled":   c.Device.OnCanceled,
		"device.on_device_disconnected": c.Device.OnDisconnected,
	} {
		if v != ResponseForce && v != ResponseNothing {
			return fmt.Errorf("%s must be %q or %q, got %q", field, ResponseForce, ResponseNothing, v)
		}
	}

	switch c.Device.Mode {
	case ModeIsolated:
		if err := c.Storage.Validate(); err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		if c.Storage.Type == StorageRemote {
			return fmt.Errorf("storage: remote stores cannot back an isolated device")
		}
	case ModeShared:
		if len(c.Media) == 0 {
			return fmt.Errorf("shared mode needs at least one entry in media")
		}
		names := map[string]bool{}
		for i, m := range c.Media {
			if err := m.Validate(); err != nil {
				return fmt.Errorf("media[%d]: %w", i, err)
			}
			if names[m.Name] {
				return fmt.Errorf("media[%d]: duplicate name %q", i, m.Name)
			}
			names[m.Name] = true
		}
	default:
		return fmt.Errorf("unknown device.mode %q", c.Device.Mode)
	}

	if _, err := i18n.Parse(c.Locale.Languages); err != nil {
		return fmt.Errorf("locale: %w", err)
	}

	if c.Auth.JWTSecret != "" && c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	return nil
}

func (s StorageConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch s.Type {
	case StorageLocal, StorageSQLite:
		if s.Path == "" {
			return fmt.Errorf("%s store %q needs a path", s.Type, s.Name)
		}
	case StoragePostgres:
		if s.DSN == "" {
			return fmt.Errorf("postgres store %q needs a dsn", s.Name)
		}
	case StorageRemote:
		if s.URL == "" {
			return fmt.Errorf("remote store %q needs a url", s.Name)
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown storage type %q", s.Type)
	}
	return nil
}
