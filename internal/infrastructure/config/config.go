package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/openauction/texas-worker/internal/domain/auction"
	"github.com/openauction/texas-worker/internal/domain/errors"
)

type Config struct {
	LogLevel string `koanf:"log_level"`

	ResourceAPIServer  string `koanf:"resource_api_server"`
	ResourceAPIVersion string `koanf:"resource_api_version"`
	ResourceAPIToken   string `koanf:"resource_api_token"`
	ResourceName       string `koanf:"resource_name"`
	AuctionsURL        string `koanf:"auctions_url"`
	HashSecret         string `koanf:"hash_secret"`

	WithDocumentService bool                  `koanf:"with_document_service"`
	DocumentService     DocumentServiceConfig `koanf:"document_service"`

	Database   DatabaseConfig   `koanf:"database"`
	Datasource DatasourceConfig `koanf:"datasource"`
	Deadline   DeadlineConfig   `koanf:"deadline"`
	Server     ServerConfig     `koanf:"server"`

	SandboxMode bool `koanf:"sandbox_mode"`
}

type DocumentServiceConfig struct {
	URL      string `koanf:"url"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

type DatabaseConfig struct {
	Type  string      `koanf:"type"`
	Redis RedisConfig `koanf:"redis"`
}

type RedisConfig struct {
	URL      string `koanf:"url"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type DatasourceConfig struct {
	Type string `koanf:"type"`
	Path string `koanf:"path"`
}

type DeadlineConfig struct {
	Enabled      bool              `koanf:"enabled"`
	DeadlineTime auction.TimeOfDay `koanf:"deadline_time"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Load reads worker configuration: defaults, then the YAML file at path,
// then AUCTION_-prefixed environment variables.
func Load(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.NewConfigError("config", fmt.Sprintf("config file %s does not exist", path))
		}
	}

	k := koanf.New(".")

	defaults := &Config{
		LogLevel:           "info",
		ResourceAPIVersion: "0",
		ResourceName:       "auctions",
		Database: DatabaseConfig{
			Type: "redis",
			Redis: RedisConfig{
				URL: "localhost:6379",
			},
		},
		Datasource: DatasourceConfig{Type: "external_api"},
		Deadline: DeadlineConfig{
			Enabled:      true,
			DeadlineTime: auction.TimeOfDay{Hour: auction.DeadlineHour},
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.NewConfigError("config", "reading config file").WithCause(err)
		}
	}

	// AUCTION_DATABASE__REDIS__URL -> database.redis.url; single underscores
	// stay, so AUCTION_LOG_LEVEL -> log_level.
	if err := k.Load(env.Provider("AUCTION_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "AUCTION_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the keys the selected datasource variant requires.
func (c *Config) Validate() error {
	if c.Datasource.Type == "external_api" {
		for key, value := range map[string]string{
			"resource_api_server": c.ResourceAPIServer,
			"resource_api_token":  c.ResourceAPIToken,
			"auctions_url":        c.AuctionsURL,
			"hash_secret":         c.HashSecret,
		} {
			if value == "" {
				return errors.NewConfigError(key, fmt.Sprintf("required key %s is missing", key))
			}
		}
	}
	if c.Datasource.Type == "file" && c.Datasource.Path == "" {
		return errors.NewConfigError("datasource.path", "file datasource requires a path")
	}
	if c.WithDocumentService && c.DocumentService.URL == "" {
		return errors.NewConfigError("document_service.url", "document service enabled without url")
	}
	return nil
}
