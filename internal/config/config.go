// Package config loads the fingraph project configuration: dataset source,
// prompt task, provider settings, and batch-processing parameters.
//
// Configuration comes from a YAML file with environment-variable overrides
// for secrets. Run-scoped values (batch directory, output directory) are
// threaded explicitly into the components that need them; nothing here
// carries mutable per-run state.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mvettori/fingraph/internal/batch"
)

// DefaultConfigFile is the config path used when --config is not given.
const DefaultConfigFile = "fingraph.yaml"

// Environment variable overrides.
const (
	// EnvAPIKey supplies the provider API key; it never lives in the
	// config file.
	EnvAPIKey = "FINGRAPH_API_KEY"

	// EnvLogLevel overrides logging.level.
	EnvLogLevel = "FINGRAPH_LOG_LEVEL"
)

// Config is the full project configuration.
type Config struct {
	// Provider selects the LLM batch provider. Only "openai" is built in.
	Provider string `yaml:"provider"`

	// Model is the provider model name used in batch requests.
	Model string `yaml:"model"`

	// BaseURL overrides the provider API host (optional).
	BaseURL string `yaml:"base_url,omitempty"`

	// Dataset configures the input news data.
	Dataset DatasetConfig `yaml:"dataset"`

	// Prompt configures the extraction prompt.
	Prompt PromptConfig `yaml:"prompt"`

	// Batch configures the batch-processing core.
	Batch BatchConfig `yaml:"batch"`

	// Graph configures the property-graph store.
	Graph GraphConfig `yaml:"graph"`

	// Logging configures the structured logger.
	Logging LoggingConfig `yaml:"logging"`

	// apiKey is resolved from the environment, not the file.
	apiKey string
}

// DatasetConfig locates and describes the input dataset.
type DatasetConfig struct {
	// Path is the dataset file (.csv, .jsonl, or .xlsx).
	Path string `yaml:"path"`

	// IDColumn names the record identifier column.
	IDColumn string `yaml:"id_column"`

	// TextColumn names the text column.
	TextColumn string `yaml:"text_column"`
}

// PromptConfig selects the extraction prompt template.
type PromptConfig struct {
	// File is the YAML prompt template file.
	File string `yaml:"file"`

	// Task names which template in the file to use.
	Task string `yaml:"task"`
}

// BatchConfig holds batch-processing parameters.
type BatchConfig struct {
	// Dir is the batch store root directory.
	Dir string `yaml:"dir"`

	// Size is the maximum records per provider batch.
	Size int `yaml:"size"`

	// WaitInterval is the polling interval for wait mode.
	WaitInterval time.Duration `yaml:"wait_interval"`
}

// GraphConfig holds graph store parameters.
type GraphConfig struct {
	// DBPath is the SQLite database file for the property graph.
	DBPath string `yaml:"db_path"`
}

// LoggingConfig holds logger parameters.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file,omitempty"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	return &Config{
		Provider: "openai",
		Model:    "gpt-4o-mini",
		Dataset: DatasetConfig{
			IDColumn:   "newsID",
			TextColumn: "story",
		},
		Prompt: PromptConfig{
			File: "prompts.yaml",
			Task: "entity_relationship_extraction",
		},
		Batch: BatchConfig{
			Dir:          "data/batch_processing",
			Size:         batch.DefaultBatchSize,
			WaitInterval: batch.DefaultWaitInterval,
		},
		Graph: GraphConfig{
			DBPath: "data/fingraph.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load reads the config file at path, applies defaults for unset fields,
// and resolves environment overrides. A missing file is not an error when
// path equals DefaultConfigFile: defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && path == DefaultConfigFile {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv resolves environment-variable overrides.
func (c *Config) applyEnv() {
	c.apiKey = os.Getenv(EnvAPIKey)
	if lvl := os.Getenv(EnvLogLevel); lvl != "" {
		c.Logging.Level = lvl
	}
}

// APIKey returns the provider API key from the environment.
func (c *Config) APIKey() string {
	return c.apiKey
}

// Validate checks the configuration for values the batch core cannot work
// with. Dataset and prompt paths are validated by the commands that use
// them, since retrieval-only runs don't need either.
func (c *Config) Validate() error {
	if c.Provider != "openai" {
		return fmt.Errorf("unsupported provider %q", c.Provider)
	}
	if c.Batch.Dir == "" {
		return errors.New("batch.dir cannot be empty")
	}
	if c.Batch.Size < batch.MinBatchSize || c.Batch.Size > batch.MaxBatchSize {
		return fmt.Errorf("batch.size must be between %d and %d, got %d",
			batch.MinBatchSize, batch.MaxBatchSize, c.Batch.Size)
	}
	if c.Batch.WaitInterval <= 0 {
		return errors.New("batch.wait_interval must be positive")
	}
	return nil
}
