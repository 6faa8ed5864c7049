package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const FileName = "reportline.yml"

// Config models reportline.yml.
type Config struct {
	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	Server struct {
		Addr        string   `yaml:"addr"`
		BasePath    string   `yaml:"base_path"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`
	Auth struct {
		// JWTSecretEnv names the environment variable holding the HS256 secret.
		JWTSecretEnv          string `yaml:"jwt_secret_env"`
		AllowLegacyUserHeader bool   `yaml:"allow_legacy_user_header"`
	} `yaml:"auth"`
	Log struct {
		Mode  string `yaml:"mode"`
		Level string `yaml:"level"`
	} `yaml:"log"`
	Summary struct {
		Model          string  `yaml:"model"`
		BaseURL        string  `yaml:"base_url"`
		APIKeyEnv      string  `yaml:"api_key_env"`
		MaxTokens      int     `yaml:"max_tokens"`
		Temperature    float32 `yaml:"temperature"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
	} `yaml:"summary"`
	Submission struct {
		TimeoutSeconds int `yaml:"timeout_seconds"`
	} `yaml:"submission"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required for postgres")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("server.base_path must start with /")
	}
	switch strings.ToLower(c.Log.Mode) {
	case "dev", "prod", "production":
	default:
		return fmt.Errorf("log.mode must be dev or prod, got %q", c.Log.Mode)
	}
	if c.Summary.TimeoutSeconds <= 0 {
		return fmt.Errorf("summary.timeout_seconds must be positive")
	}
	if c.Summary.MaxTokens <= 0 {
		return fmt.Errorf("summary.max_tokens must be positive")
	}
	if c.Submission.TimeoutSeconds <= 0 {
		return fmt.Errorf("submission.timeout_seconds must be positive")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
		for _, evt := range hook.Events {
			if strings.TrimSpace(evt) == "" {
				return fmt.Errorf("webhooks[%d] has empty event type", i)
			}
		}
	}
	return nil
}

func (c *Config) SubmissionTimeout() time.Duration {
	return time.Duration(c.Submission.TimeoutSeconds) * time.Second
}

func (c *Config) SummaryTimeout() time.Duration {
	return time.Duration(c.Summary.TimeoutSeconds) * time.Second
}

// JWTSecret resolves the signing secret from the configured environment
// variable.
func (c *Config) JWTSecret() string {
	if c.Auth.JWTSecretEnv == "" {
		return ""
	}
	return os.Getenv(c.Auth.JWTSecretEnv)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with rl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to Default when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses raw YAML over the defaults and validates the result, so a
// file only needs the keys it changes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns the default config YAML, written by rl init.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `database:
  driver: sqlite
  dsn: ""

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  cors_origins: []

auth:
  jwt_secret_env: REPORTLINE_JWT_SECRET
  allow_legacy_user_header: false

log:
  mode: dev
  level: info

summary:
  model: gpt-4o-mini
  base_url: ""
  api_key_env: OPENAI_API_KEY
  max_tokens: 1000
  temperature: 0.7
  timeout_seconds: 30

submission:
  timeout_seconds: 15

webhooks: []
`
