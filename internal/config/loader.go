package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"chatd/internal/sampler"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultAddr          = ":8080"
	DefaultModelsDir     = "~/models"
	DefaultNCtx          = 4096
	DefaultMaxToolRounds = 8
	DefaultToolTimeout   = 30
	DefaultMaxSessions   = 64
	DefaultMaxBodyBytes  = 1 << 20
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "console"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr               string       `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir          string       `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	WatchModels        bool         `json:"watch_models" yaml:"watch_models" toml:"watch_models"`
	DefaultModel       string       `json:"default_model" yaml:"default_model" toml:"default_model"`
	EmbedModel         string       `json:"embed_model" yaml:"embed_model" toml:"embed_model"`
	RerankModel        string       `json:"rerank_model" yaml:"rerank_model" toml:"rerank_model"`
	UseGPU             bool         `json:"use_gpu" yaml:"use_gpu" toml:"use_gpu"`
	NCtx               int          `json:"n_ctx" yaml:"n_ctx" toml:"n_ctx"`
	SystemPrompt       string       `json:"system_prompt" yaml:"system_prompt" toml:"system_prompt"`
	AllowThinking      *bool        `json:"allow_thinking,omitempty" yaml:"allow_thinking,omitempty" toml:"allow_thinking,omitempty"`
	MaxToolRounds      int          `json:"max_tool_rounds" yaml:"max_tool_rounds" toml:"max_tool_rounds"`
	ToolTimeoutSeconds int          `json:"tool_timeout_seconds" yaml:"tool_timeout_seconds" toml:"tool_timeout_seconds"`
	MaxTokens          int          `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	MaxSessions        int          `json:"max_sessions" yaml:"max_sessions" toml:"max_sessions"`
	Sampler            sampler.Spec `json:"sampler" yaml:"sampler" toml:"sampler"`
	LogLevel           string       `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat          string       `json:"log_format" yaml:"log_format" toml:"log_format"`
	MaxBodyBytes       int64        `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	CORS               CORS         `json:"cors" yaml:"cors" toml:"cors"`
}

// CORS configures the optional cross-origin middleware.
type CORS struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods" yaml:"allowed_methods" toml:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers" yaml:"allowed_headers" toml:"allowed_headers"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// ApplyDefaults fills unspecified fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ModelsDir == "" {
		c.ModelsDir = DefaultModelsDir
	}
	if c.NCtx <= 0 {
		c.NCtx = DefaultNCtx
	}
	if c.AllowThinking == nil {
		t := true
		c.AllowThinking = &t
	}
	if c.MaxToolRounds <= 0 {
		c.MaxToolRounds = DefaultMaxToolRounds
	}
	if c.ToolTimeoutSeconds == 0 {
		c.ToolTimeoutSeconds = DefaultToolTimeout
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.CORS.Enabled {
		if len(c.CORS.AllowedOrigins) == 0 {
			c.CORS.AllowedOrigins = []string{"*"}
		}
		if len(c.CORS.AllowedMethods) == 0 {
			c.CORS.AllowedMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
		}
		if len(c.CORS.AllowedHeaders) == 0 {
			c.CORS.AllowedHeaders = []string{"Content-Type", "Authorization", "X-Log-Level"}
		}
	}
}

// Validate reports settings that cannot be used. A negative tool timeout
// disables the limit.
func (c Config) Validate() error {
	switch c.LogFormat {
	case "", "console", "json":
	default:
		return fmt.Errorf("log_format: want console or json, got %q", c.LogFormat)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens: must not be negative")
	}
	if _, err := c.Sampler.Config(); err != nil {
		return fmt.Errorf("sampler: %w", err)
	}
	return nil
}

// ThinkingAllowed reports the effective allow_thinking value.
func (c Config) ThinkingAllowed() bool {
	return c.AllowThinking == nil || *c.AllowThinking
}
