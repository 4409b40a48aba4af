// Package config loads the service configuration from YAML with
// environment overrides for the secrets that never belong in a file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// Config is the full service configuration. Integration sections left
// empty disable that integration; the chat surface itself only requires a
// port and an oracle.
type Config struct {
	Port      string `yaml:"port"`
	LogLevel  string `yaml:"logLevel"`
	RulesPath string `yaml:"rulesPath"`

	Oracle    OracleConfig    `yaml:"oracle"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Database  DatabaseConfig  `yaml:"database"`
	Sheet     SheetConfig     `yaml:"sheet"`
	CRM       CRMConfig       `yaml:"crm"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Storage   StorageConfig   `yaml:"storage"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

// OracleConfig selects and configures the response generator.
type OracleConfig struct {
	Provider     string `yaml:"provider"` // openai or gemini
	APIKey       string `yaml:"apiKey"`
	BaseURL      string `yaml:"baseURL"`
	Model        string `yaml:"model"`
	MaxTokens    int    `yaml:"maxTokens"`
	HistoryLimit int    `yaml:"historyLimit"`
}

// KnowledgeConfig configures retrieval grounding. Requires the database.
type KnowledgeConfig struct {
	Enabled        bool   `yaml:"enabled"`
	OllamaURL      string `yaml:"ollamaURL"`
	EmbeddingModel string `yaml:"embeddingModel"`
	EmbeddingDim   int    `yaml:"embeddingDim"`
	TopK           int    `yaml:"topK"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type SheetConfig struct {
	SpreadsheetID string `yaml:"spreadsheetID"`
	SheetName     string `yaml:"sheetName"`
	Token         string `yaml:"token"`
}

type CRMConfig struct {
	BaseURL         string `yaml:"baseURL"`
	Token           string `yaml:"token"`
	CooldownSeconds int    `yaml:"cooldownSeconds"`
}

type WebhookConfig struct {
	URL           string `yaml:"url"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	SigningSecret string `yaml:"signingSecret"`
}

type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
}

type RateLimitConfig struct {
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	Limit         int    `yaml:"limit"`
	WindowSeconds int    `yaml:"windowSeconds"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (Config, error) {
	cfg := Config{}
	if path == "" {
		path = ConfigPath
		if v := os.Getenv("CONFIG_PATH"); v != "" {
			path = v
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnvOverrides(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Secrets and deploy-specific endpoints are overridable from the
// environment so the YAML file can stay checked in without them.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("ORACLE_API_KEY"); v != "" {
		cfg.Oracle.APIKey = v
	}
	if v := os.Getenv("ORACLE_BASE_URL"); v != "" {
		cfg.Oracle.BaseURL = v
	}
	if v := os.Getenv("SHEET_TOKEN"); v != "" {
		cfg.Sheet.Token = v
	}
	if v := os.Getenv("CRM_TOKEN"); v != "" {
		cfg.CRM.Token = v
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		cfg.Webhook.URL = v
	}
	if v := os.Getenv("WEBHOOK_USERNAME"); v != "" {
		cfg.Webhook.Username = v
	}
	if v := os.Getenv("WEBHOOK_PASSWORD"); v != "" {
		cfg.Webhook.Password = v
	}
	if v := os.Getenv("WEBHOOK_SIGNING_SECRET"); v != "" {
		cfg.Webhook.SigningSecret = v
	}
	if v := os.Getenv("STORAGE_ENDPOINT"); v != "" {
		cfg.Storage.Endpoint = v
	}
	if v := os.Getenv("STORAGE_ACCESS_KEY"); v != "" {
		cfg.Storage.AccessKey = v
	}
	if v := os.Getenv("STORAGE_SECRET_KEY"); v != "" {
		cfg.Storage.SecretKey = v
	}
	if v := os.Getenv("STORAGE_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Storage.UseSSL = b
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RateLimit.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RateLimit.RedisPassword = v
	}
}

func validateConfig(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	switch cfg.Oracle.Provider {
	case "openai", "gemini":
	case "":
		return errors.New("config: oracle.provider is required (openai or gemini)")
	default:
		return fmt.Errorf("config: unknown oracle provider %q", cfg.Oracle.Provider)
	}
	if cfg.Oracle.APIKey == "" {
		return errors.New("config: oracle.apiKey is required (set in config.yaml or ORACLE_API_KEY)")
	}
	if cfg.Oracle.Model == "" {
		return errors.New("config: oracle.model is required (set in config.yaml)")
	}
	if cfg.Knowledge.Enabled && cfg.Database.URL == "" {
		return errors.New("config: knowledge retrieval requires database.url")
	}
	if cfg.RateLimit.RedisAddr != "" && cfg.RateLimit.Limit <= 0 {
		return errors.New("config: rateLimit.limit must be positive when redis is configured")
	}
	return nil
}
