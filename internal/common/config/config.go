// Package config provides configuration management for MXF.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for MXF.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	DAG      DAGConfig      `mapstructure:"dag"`
	ORPAR    ORPARConfig    `mapstructure:"orpar"`
	Graph    GraphConfig    `mapstructure:"graph"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds storage configuration.
// Driver "memory" keeps everything in process; "sqlite" persists to Path.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// DAGConfig holds task dependency graph configuration.
type DAGConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ORPARConfig bounds the cognitive loop controller.
type ORPARConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	MaxActiveLoops   int  `mapstructure:"maxActiveLoops"`
	DefaultMaxCycles int  `mapstructure:"defaultMaxCycles"`
	TickSeconds      int  `mapstructure:"tickSeconds"`
}

// GraphConfig holds knowledge graph configuration.
type GraphConfig struct {
	Enabled                 bool    `mapstructure:"enabled"`
	MaxContextEntities      int     `mapstructure:"maxContextEntities"`
	MaxContextRelationships int     `mapstructure:"maxContextRelationships"`
	SimilarityThreshold     float64 `mapstructure:"similarityThreshold"`
}

// LLMConfig holds provider dispatch configuration.
type LLMConfig struct {
	DefaultProvider string `mapstructure:"defaultProvider"`
	Model           string `mapstructure:"model"`
	APIKey          string `mapstructure:"apiKey"`
	Endpoint        string `mapstructure:"endpoint"`
	TimeoutSeconds  int    `mapstructure:"timeoutSeconds"`
	MaxTokens       int    `mapstructure:"maxTokens"`
}

// SandboxConfig holds sandboxed code execution configuration.
type SandboxConfig struct {
	Runtime       string `mapstructure:"runtime"` // process, docker
	Command       string `mapstructure:"command"` // executor binary for the process runtime
	Image         string `mapstructure:"image"`   // container image for the docker runtime
	DockerHost    string `mapstructure:"dockerHost"`
	TimeoutMs     int    `mapstructure:"timeoutMs"`
	MemoryLimitMB int    `mapstructure:"memoryLimitMb"`
	PidsLimit     int    `mapstructure:"pidsLimit"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// TimeoutDuration returns the LLM timeout as a time.Duration.
func (l *LLMConfig) TimeoutDuration() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// TimeoutDuration returns the sandbox timeout as a time.Duration.
func (s *SandboxConfig) TimeoutDuration() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// TickDuration returns the scheduler tick interval.
func (o *ORPARConfig) TickDuration() time.Duration {
	return time.Duration(o.TickSeconds) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("MXF_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults - in-memory unless a sqlite path is configured
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.path", "mxf.db")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "mxf-core")
	v.SetDefault("nats.maxReconnects", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	// DAG defaults
	v.SetDefault("dag.enabled", true)

	// ORPAR defaults
	v.SetDefault("orpar.enabled", true)
	v.SetDefault("orpar.maxActiveLoops", 10)
	v.SetDefault("orpar.defaultMaxCycles", 5)
	v.SetDefault("orpar.tickSeconds", 15)

	// Knowledge graph defaults
	v.SetDefault("graph.enabled", true)
	v.SetDefault("graph.maxContextEntities", 20)
	v.SetDefault("graph.maxContextRelationships", 30)
	v.SetDefault("graph.similarityThreshold", 0.8)

	// LLM defaults
	v.SetDefault("llm.defaultProvider", "anthropic")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.endpoint", "")
	v.SetDefault("llm.timeoutSeconds", 60)
	v.SetDefault("llm.maxTokens", 4096)

	// Sandbox defaults
	v.SetDefault("sandbox.runtime", "process")
	v.SetDefault("sandbox.command", "mxf-sandbox")
	v.SetDefault("sandbox.image", "mxf/sandbox:latest")
	v.SetDefault("sandbox.dockerHost", "unix:///var/run/docker.sock")
	v.SetDefault("sandbox.timeoutMs", 30000)
	v.SetDefault("sandbox.memoryLimitMb", 128)
	v.SetDefault("sandbox.pidsLimit", 64)
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix MXF_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/mxf/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("MXF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion.
	_ = v.BindEnv("orpar.maxActiveLoops", "MXF_ORPAR_MAX_ACTIVE_LOOPS")
	_ = v.BindEnv("graph.maxContextEntities", "MXF_GRAPH_MAX_CONTEXT_ENTITIES")
	_ = v.BindEnv("graph.maxContextRelationships", "MXF_GRAPH_MAX_CONTEXT_RELATIONSHIPS")
	_ = v.BindEnv("llm.apiKey", "MXF_LLM_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("llm.timeoutSeconds", "MXF_LLM_TIMEOUT_SECONDS")
	_ = v.BindEnv("sandbox.timeoutMs", "MXF_SANDBOX_TIMEOUT_MS")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/mxf/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch cfg.Database.Driver {
	case "memory":
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	default:
		errs = append(errs, "database.driver must be one of: memory, sqlite")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.ORPAR.MaxActiveLoops <= 0 {
		errs = append(errs, "orpar.maxActiveLoops must be positive")
	}
	if cfg.ORPAR.DefaultMaxCycles <= 0 {
		errs = append(errs, "orpar.defaultMaxCycles must be positive")
	}
	if cfg.Graph.SimilarityThreshold < 0 || cfg.Graph.SimilarityThreshold > 1 {
		errs = append(errs, "graph.similarityThreshold must be within [0,1]")
	}
	if cfg.Sandbox.Runtime != "process" && cfg.Sandbox.Runtime != "docker" {
		errs = append(errs, "sandbox.runtime must be one of: process, docker")
	}
	if cfg.Sandbox.TimeoutMs <= 0 {
		errs = append(errs, "sandbox.timeoutMs must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
