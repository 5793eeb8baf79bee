package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Embedding EmbeddingConfig `yaml:"embedding"`
	Store     StoreConfig     `yaml:"store"`
	Indexer   IndexerConfig   `yaml:"indexer,omitempty"`
	Discovery DiscoveryConfig `yaml:"discovery,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
}

// EmbeddingConfig holds embedding provider configuration
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // "openai" | "volcengine"

	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint,omitempty"`
	Model    string `yaml:"model"`

	Dimensions   int           `yaml:"dimensions"`     // vector width, provider dependent
	MaxBatchSize int           `yaml:"max_batch_size"` // hard provider batch limit
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	MaxRetries   int           `yaml:"max_retries,omitempty"`
}

// StoreConfig selects the vector store backend. A non-empty LocalPath wins
// over Qdrant, mirroring the runtime's backend selection.
type StoreConfig struct {
	QdrantURL    string `yaml:"qdrant_url,omitempty"`
	QdrantAPIKey string `yaml:"qdrant_api_key,omitempty"`
	Collection   string `yaml:"collection,omitempty"`
	LocalPath    string `yaml:"local_path,omitempty"`

	TextIndexPath string `yaml:"text_index_path,omitempty"` // empty disables the keyword index
}

// IndexerConfig holds pipeline sizing
type IndexerConfig struct {
	FileWorkers   int `yaml:"file_workers,omitempty"`   // file-level pool
	VectorWorkers int `yaml:"vector_workers,omitempty"` // embedding-batch pool
	ChunkLines    int `yaml:"chunk_lines,omitempty"`
	ChunkOverlap  int `yaml:"chunk_overlap,omitempty"`

	StatePath string `yaml:"state_path,omitempty"` // branch/file state db
}

// DiscoveryConfig holds file enumeration rules
type DiscoveryConfig struct {
	ExcludeDirs  []string `yaml:"exclude_dirs,omitempty"`
	Exclude      []string `yaml:"exclude,omitempty"`
	Extensions   []string `yaml:"extensions,omitempty"`
	UseGitignore *bool    `yaml:"use_gitignore,omitempty"`
	MaxFileSize  int64    `yaml:"max_file_size,omitempty"`
}

// LoggingConfig controls the zerolog setup
type LoggingConfig struct {
	Level   string `yaml:"level,omitempty"`
	Console bool   `yaml:"console,omitempty"`
}

// Load loads configuration from the default config file
// Default location: ~/.gitvec/config/gitvec.yaml
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return LoadFromFile(filepath.Join(homeDir, ".gitvec", "config", "gitvec.yaml"))
}

// LoadFromFile loads configuration from a specific file. A .env file in the
// working directory is consulted first so API keys can stay out of the YAML.
func LoadFromFile(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			homeDir, _ := os.UserHomeDir()
			return nil, &ConfigNotFoundError{
				RequestedPath: path,
				DefaultPath:   filepath.Join(homeDir, ".gitvec", "config", "gitvec.yaml"),
			}
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ConfigNotFoundError is returned when the config file is not found
type ConfigNotFoundError struct {
	RequestedPath string
	DefaultPath   string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("config file not found at: %s (default location: %s)",
		e.RequestedPath, e.DefaultPath)
}

// IsConfigNotFound checks if err is a missing-config error
func IsConfigNotFound(err error) bool {
	_, ok := err.(*ConfigNotFoundError)
	return ok
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GITVEC_API_KEY"); v != "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv("GITVEC_QDRANT_API_KEY"); v != "" {
		c.Store.QdrantAPIKey = v
	}
	if v := os.Getenv("GITVEC_QDRANT_URL"); v != "" {
		c.Store.QdrantURL = v
	}
}

func (c *Config) applyDefaults() {
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.Model == "" {
		switch c.Embedding.Provider {
		case "volcengine":
			c.Embedding.Model = "doubao-embedding-vision-250615"
		default:
			c.Embedding.Model = "text-embedding-3-small"
		}
	}
	if c.Embedding.Dimensions == 0 {
		if c.Embedding.Provider == "volcengine" {
			c.Embedding.Dimensions = 2048
		} else {
			c.Embedding.Dimensions = 1536
		}
	}
	if c.Embedding.MaxBatchSize == 0 {
		c.Embedding.MaxBatchSize = 64
	}
	if c.Embedding.Timeout == 0 {
		c.Embedding.Timeout = 30 * time.Second
	}
	if c.Embedding.MaxRetries == 0 {
		c.Embedding.MaxRetries = 3
	}

	if c.Store.Collection == "" {
		c.Store.Collection = "gitvec_points"
	}
	// An empty LocalPath with no Qdrant URL is resolved by the caller to a
	// per-repository data directory.
	c.Store.LocalPath = expandPath(c.Store.LocalPath)
	c.Store.TextIndexPath = expandPath(c.Store.TextIndexPath)

	if c.Indexer.VectorWorkers == 0 {
		c.Indexer.VectorWorkers = defaultWorkers()
	}
	if c.Indexer.FileWorkers == 0 {
		// slightly wider than the embedding pool so chunking and I/O
		// never starve embedding throughput
		c.Indexer.FileWorkers = c.Indexer.VectorWorkers + 2
	}
	if c.Indexer.ChunkLines == 0 {
		c.Indexer.ChunkLines = 60
	}
	if c.Indexer.ChunkOverlap == 0 {
		c.Indexer.ChunkOverlap = 8
	}
	c.Indexer.StatePath = expandPath(c.Indexer.StatePath)

	if len(c.Discovery.ExcludeDirs) == 0 {
		c.Discovery.ExcludeDirs = []string{".git", "vendor", "node_modules", ".venv", "venv", "__pycache__", "target", "dist"}
	}
	if len(c.Discovery.Exclude) == 0 {
		c.Discovery.Exclude = []string{"*.min.js", "*.min.css", "*.pb.go", "*.gen.go", "*.lock"}
	}
	if c.Discovery.UseGitignore == nil {
		t := true
		c.Discovery.UseGitignore = &t
	}
	if c.Discovery.MaxFileSize == 0 {
		c.Discovery.MaxFileSize = 2 << 20 // 2 MiB
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case "openai", "volcengine":
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("%s provider requires api_key (or GITVEC_API_KEY)", c.Embedding.Provider)
		}
	default:
		return fmt.Errorf("unsupported embedding provider: %s", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("dimensions must be positive, got: %d", c.Embedding.Dimensions)
	}
	if c.Embedding.MaxBatchSize <= 0 || c.Embedding.MaxBatchSize > 2048 {
		return fmt.Errorf("max_batch_size must be between 1 and 2048, got: %d", c.Embedding.MaxBatchSize)
	}
	if c.Indexer.FileWorkers < c.Indexer.VectorWorkers {
		return fmt.Errorf("file_workers (%d) must not be smaller than vector_workers (%d)",
			c.Indexer.FileWorkers, c.Indexer.VectorWorkers)
	}
	return nil
}

// UseGitignoreEnabled reports whether .gitignore rules apply (default true).
func (c *DiscoveryConfig) UseGitignoreEnabled() bool {
	return c.UseGitignore == nil || *c.UseGitignore
}

func defaultWorkers() int {
	workers := runtime.NumCPU()
	if workers > 8 {
		return 8
	}
	if workers < 1 {
		return 1
	}
	return workers
}

// expandPath expands ~ and $HOME to the user's home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "$HOME/") || path == "$HOME" {
		homeDir := os.Getenv("HOME")
		if homeDir == "" {
			var err error
			homeDir, err = os.UserHomeDir()
			if err != nil {
				return path
			}
		}
		if path == "$HOME" {
			return homeDir
		}
		return filepath.Join(homeDir, path[6:])
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return homeDir
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

const defaultConfigTemplate = `# gitvec configuration
#
# Copy and edit this file for your environment.
# Default location: $HOME/.gitvec/config/gitvec.yaml

embedding:
  # Provider: "openai" or "volcengine"
  provider: openai
  api_key: your-api-key
  model: text-embedding-3-small
  dimensions: 1536
  max_batch_size: 64

store:
  # Leave qdrant_url empty to use the embedded sqlite store, which is kept
  # per-repository under ~/.gitvec/data.
  # qdrant_url: http://127.0.0.1:6333
  collection: gitvec_points

indexer:
  vector_workers: 4
  file_workers: 6
  chunk_lines: 60
  chunk_overlap: 8
`

// WriteDefaultTemplate creates a default configuration file if it does not
// exist. It returns true if a file was created, false if it already existed.
func WriteDefaultTemplate(path string) (bool, error) {
	if path == "" {
		return false, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0o644); err != nil {
		return false, fmt.Errorf("failed to write config template: %w", err)
	}
	return true, nil
}
