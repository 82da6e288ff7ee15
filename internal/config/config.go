// Package config handles Mind Sprite configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mindsprite/mindsprite/internal/intimacy"
	"github.com/mindsprite/mindsprite/internal/llm"
	"github.com/mindsprite/mindsprite/internal/logging"
	"github.com/mindsprite/mindsprite/internal/scheduler"
	"github.com/mindsprite/mindsprite/internal/storage"
)

// EnvPrefix prefixes every environment override, e.g. MINDSPRITE_SERVER_PORT
const EnvPrefix = "MINDSPRITE"

// Config holds all configuration
type Config struct {
	// Paths
	DataDir     string `mapstructure:"data_dir" yaml:"data_dir"`
	LexiconPath string `mapstructure:"lexicon_path" yaml:"lexicon_path,omitempty"` // empty uses the embedded lexicon

	Server   ServerConfig                `mapstructure:"server" yaml:"server"`
	Storage  storage.Config              `mapstructure:"storage" yaml:"storage"`
	Model    ModelConfig                 `mapstructure:"model" yaml:"model"`
	Care     scheduler.MaintenanceConfig `mapstructure:"care" yaml:"care"`
	Intimacy intimacy.Config             `mapstructure:"intimacy" yaml:"intimacy"`
	Logging  logging.Config              `mapstructure:"logging" yaml:"logging"`

	// SearchAPIKey is accepted from MINDSPRITE_SEARCH_API_KEY for an external
	// resource-search collaborator. Nothing in this module calls a search API;
	// the key is only loaded and never written by Save.
	SearchAPIKey string `mapstructure:"search_api_key" yaml:"-"`
}

// ServerConfig for the HTTP server
type ServerConfig struct {
	Host             string        `mapstructure:"host" yaml:"host"`
	Port             int           `mapstructure:"port" yaml:"port"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	CarePollInterval time.Duration `mapstructure:"care_poll_interval" yaml:"care_poll_interval"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ModelConfig is the primary model client plus turn settings
type ModelConfig struct {
	llm.Config   `mapstructure:",squash" yaml:",inline"`
	ContextTurns int            `mapstructure:"context_turns" yaml:"context_turns"`
	CacheTTL     time.Duration  `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	Fallback     FallbackConfig `mapstructure:"fallback" yaml:"fallback"`
}

// FallbackConfig is an optional second backend tried when the primary fails
type FallbackConfig struct {
	Enabled  bool         `mapstructure:"enabled" yaml:"enabled"`
	Provider llm.Provider `mapstructure:"provider" yaml:"provider"`
	BaseURL  string       `mapstructure:"base_url" yaml:"base_url"`
	Model    string       `mapstructure:"model" yaml:"model"`
}

// Default returns default configuration
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".mindsprite")

	store := storage.DefaultConfig()
	store.Path = filepath.Join(dataDir, "mindsprite.db")

	care := scheduler.DefaultMaintenanceConfig()

	return &Config{
		DataDir: dataDir,
		Server: ServerConfig{
			Host:             "localhost",
			Port:             8501,
			AllowedOrigins:   []string{"*"},
			CarePollInterval: time.Minute,
			ShutdownTimeout:  10 * time.Second,
		},
		Storage: store,
		Model: ModelConfig{
			Config:       llm.DefaultConfig(),
			ContextTurns: 5,
			CacheTTL:     care.CacheTTL,
			Fallback: FallbackConfig{
				Provider: llm.ProviderOllama,
				BaseURL:  "http://localhost:11434",
				Model:    "qwen2.5",
			},
		},
		Care:     care,
		Intimacy: intimacy.DefaultConfig(),
		Logging:  logging.DefaultConfig(),
	}
}

// Load reads defaults, then the YAML file at path (or config.yaml in the data
// dir when path is empty), then MINDSPRITE_* environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	def := Default()
	v := viper.New()
	setDefaults(v, def)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = filepath.Join(v.GetString("data_dir"), "config.yaml")
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// The database follows the data dir unless set explicitly
	if cfg.Storage.Path == "" || cfg.Storage.Path == def.Storage.Path {
		cfg.Storage.Path = filepath.Join(cfg.DataDir, "mindsprite.db")
	}
	if cfg.Care.CacheTTL == 0 {
		cfg.Care.CacheTTL = cfg.Model.CacheTTL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("data_dir", c.DataDir)
	v.SetDefault("lexicon_path", c.LexiconPath)
	v.SetDefault("search_api_key", "")

	v.SetDefault("server.host", c.Server.Host)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.allowed_origins", c.Server.AllowedOrigins)
	v.SetDefault("server.care_poll_interval", c.Server.CarePollInterval)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)

	v.SetDefault("storage.path", c.Storage.Path)
	v.SetDefault("storage.in_memory", c.Storage.InMemory)
	v.SetDefault("storage.driver", c.Storage.Driver)
	v.SetDefault("storage.max_open_conns", c.Storage.MaxOpenConns)
	v.SetDefault("storage.busy_timeout", c.Storage.BusyTimeout)

	v.SetDefault("model.provider", string(c.Model.Provider))
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.base_url", c.Model.BaseURL)
	v.SetDefault("model.model", c.Model.Model)
	v.SetDefault("model.api_version", c.Model.APIVersion)
	v.SetDefault("model.timeout", c.Model.Timeout)
	v.SetDefault("model.max_tokens", c.Model.MaxTokens)
	v.SetDefault("model.temperature", c.Model.Temperature)
	v.SetDefault("model.context_turns", c.Model.ContextTurns)
	v.SetDefault("model.cache_ttl", c.Model.CacheTTL)
	v.SetDefault("model.fallback.enabled", c.Model.Fallback.Enabled)
	v.SetDefault("model.fallback.provider", string(c.Model.Fallback.Provider))
	v.SetDefault("model.fallback.base_url", c.Model.Fallback.BaseURL)
	v.SetDefault("model.fallback.model", c.Model.Fallback.Model)

	v.SetDefault("care.care_retention_days", c.Care.CareRetentionDays)
	v.SetDefault("care.care_interval", c.Care.CareInterval)
	v.SetDefault("care.cache_ttl", c.Care.CacheTTL)
	v.SetDefault("care.cache_interval", c.Care.CacheInterval)

	v.SetDefault("intimacy.exp_per_interaction", c.Intimacy.ExpPerInteraction)
	v.SetDefault("intimacy.double_exp_chance", c.Intimacy.DoubleExpChance)

	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.file", c.Logging.File)
	v.SetDefault("logging.max_size_mb", c.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", c.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", c.Logging.MaxAgeDays)
}

// Validate checks values that would otherwise fail later at startup
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Model.Provider {
	case llm.ProviderOpenAI, llm.ProviderAzure, llm.ProviderOllama:
	default:
		errs = append(errs, fmt.Errorf("model.provider %q unknown", c.Model.Provider))
	}
	if c.Intimacy.DoubleExpChance < 0 || c.Intimacy.DoubleExpChance > 1 {
		errs = append(errs, fmt.Errorf("intimacy.double_exp_chance %v not in [0,1]", c.Intimacy.DoubleExpChance))
	}
	if c.Care.CareRetentionDays <= 0 {
		errs = append(errs, fmt.Errorf("care.care_retention_days must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// HasModel reports whether a hosted model can be reached
func (c *Config) HasModel() bool {
	return c.Model.APIKey != "" || c.Model.Provider == llm.ProviderOllama
}

// Save writes config as YAML. Secrets are never written.
func (c *Config) Save(path string) error {
	if path == "" {
		path = filepath.Join(c.DataDir, "config.yaml")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
