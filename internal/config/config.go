// Package config assembles the ChunkHound configuration from, in order
// of increasing precedence: built-in defaults, a user-level YAML
// defaults file, the project's .chunkhound.json, environment
// variables, and finally CLI flags (applied by the caller after Load
// returns).
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chunkhound/chunkhound/internal/chunkerr"
)

// Config is the fully resolved configuration.
type Config struct {
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Embedding EmbeddingConfig `json:"embedding" yaml:"embedding"`
	Indexing  IndexingConfig  `json:"indexing" yaml:"indexing"`
	MCP       MCPConfig       `json:"mcp" yaml:"mcp"`
	Debug     bool            `json:"debug" yaml:"debug"`
}

type DatabaseConfig struct {
	Path     string `json:"path" yaml:"path"`
	Provider string `json:"provider" yaml:"provider"` // "sqlite" (only backend shipped)
}

type EmbeddingConfig struct {
	Provider           string `json:"provider" yaml:"provider"` // openai, openai-compatible, tei, bge-in-icl
	APIKey             string `json:"api_key" yaml:"api_key"`
	BaseURL            string `json:"base_url" yaml:"base_url"`
	Model              string `json:"model" yaml:"model"`
	BatchSize          int    `json:"batch_size" yaml:"batch_size"`
	MaxConcurrentBatch int    `json:"max_concurrent_batches" yaml:"max_concurrent_batches"`
	TimeoutSeconds     int    `json:"timeout" yaml:"timeout"`
	MaxRetries         int    `json:"max_retries" yaml:"max_retries"`
	MaxBatchTokens     int    `json:"max_batch_tokens" yaml:"max_batch_tokens"`
}

type IndexingConfig struct {
	Include        []string `json:"include" yaml:"include"`
	Exclude        []string `json:"exclude" yaml:"exclude"`
	Watch          bool     `json:"watch" yaml:"watch"`
	DebounceMS     int      `json:"debounce_ms" yaml:"debounce_ms"`
	BatchSize      int      `json:"batch_size" yaml:"batch_size"`
	DBBatchSize    int      `json:"db_batch_size" yaml:"db_batch_size"`
	MaxConcurrent  int      `json:"max_concurrent" yaml:"max_concurrent"`
	MaxFileSizeMB  int      `json:"max_file_size_mb" yaml:"max_file_size_mb"`
}

type MCPConfig struct {
	Transport string `json:"transport" yaml:"transport"` // stdio | http
	Host      string `json:"host" yaml:"host"`
	Port      int    `json:"port" yaml:"port"`
}

// Default returns the built-in configuration baseline.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:     filepath.Join(".chunkhound", "db"),
			Provider: "sqlite",
		},
		Embedding: EmbeddingConfig{
			Provider:           "openai",
			Model:              "text-embedding-3-small",
			BatchSize:          32,
			MaxConcurrentBatch: 4,
			TimeoutSeconds:     30,
			MaxRetries:         3,
			MaxBatchTokens:     50000,
		},
		Indexing: IndexingConfig{
			Include:       []string{"**/*"},
			Watch:         true,
			DebounceMS:    500,
			BatchSize:     32,
			DBBatchSize:   500,
			MaxConcurrent: 4,
			MaxFileSizeMB: 100,
		},
		MCP: MCPConfig{
			Transport: "stdio",
			Host:      "127.0.0.1",
			Port:      8080,
		},
	}
}

// Load resolves the configuration for a project rooted at base. It
// layers, low to high precedence: defaults, ~/.config/chunkhound/config.yaml,
// <base>/.chunkhound.json, and CHUNKHOUND_* environment variables.
func Load(base string) (*Config, error) {
	cfg := Default()
	cfg.Database.Path = filepath.Join(base, ".chunkhound", "db")

	if home, err := os.UserHomeDir(); err == nil {
		userFile := filepath.Join(home, ".config", "chunkhound", "config.yaml")
		if data, err := os.ReadFile(userFile); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, chunkerr.Contract("ERR_CONFIG_USER_YAML", err.Error())
			}
		}
	}

	projectFile := filepath.Join(base, ".chunkhound.json")
	if data, err := os.ReadFile(projectFile); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, chunkerr.Contract("ERR_CONFIG_PROJECT_JSON", err.Error())
		}
	}

	applyEnv(cfg, os.Environ())
	return cfg, nil
}

// applyEnv overlays CHUNKHOUND_<SECTION>__<OPTION> environment variables
// onto cfg. Only the options named in the configuration table are
// recognized; unknown variables are ignored.
func applyEnv(cfg *Config, environ []string) {
	const prefix = "CHUNKHOUND_"
	for _, kv := range environ {
		if !strings.HasPrefix(kv, prefix) {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimPrefix(parts[0], prefix)
		value := parts[1]
		segs := strings.SplitN(key, "__", 2)
		if len(segs) != 2 {
			continue
		}
		section := strings.ToLower(segs[0])
		option := strings.ToLower(segs[1])
		setField(cfg, section, option, value)
	}
}

func setField(cfg *Config, section, option, value string) {
	switch section {
	case "database":
		switch option {
		case "path":
			cfg.Database.Path = value
		case "provider":
			cfg.Database.Provider = value
		}
	case "embedding":
		switch option {
		case "provider":
			cfg.Embedding.Provider = value
		case "api_key":
			cfg.Embedding.APIKey = value
		case "base_url":
			cfg.Embedding.BaseURL = value
		case "model":
			cfg.Embedding.Model = value
		case "batch_size":
			cfg.Embedding.BatchSize = atoiOr(value, cfg.Embedding.BatchSize)
		case "max_concurrent_batches":
			cfg.Embedding.MaxConcurrentBatch = atoiOr(value, cfg.Embedding.MaxConcurrentBatch)
		case "timeout":
			cfg.Embedding.TimeoutSeconds = atoiOr(value, cfg.Embedding.TimeoutSeconds)
		case "max_retries":
			cfg.Embedding.MaxRetries = atoiOr(value, cfg.Embedding.MaxRetries)
		}
	case "indexing":
		switch option {
		case "watch":
			cfg.Indexing.Watch = value == "true" || value == "1"
		case "debounce_ms":
			cfg.Indexing.DebounceMS = atoiOr(value, cfg.Indexing.DebounceMS)
		case "batch_size":
			cfg.Indexing.BatchSize = atoiOr(value, cfg.Indexing.BatchSize)
		case "db_batch_size":
			cfg.Indexing.DBBatchSize = atoiOr(value, cfg.Indexing.DBBatchSize)
		case "max_concurrent":
			cfg.Indexing.MaxConcurrent = atoiOr(value, cfg.Indexing.MaxConcurrent)
		}
	case "mcp":
		switch option {
		case "transport":
			cfg.MCP.Transport = value
		case "host":
			cfg.MCP.Host = value
		case "port":
			cfg.MCP.Port = atoiOr(value, cfg.MCP.Port)
		}
	case "debug":
		cfg.Debug = value == "true" || value == "1"
	}
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
