package internal

import (
	"fmt"
	"os"

	"github.com/gitvec/gitvec/internal/config"
)

// LoadConfig reads the YAML config from path, or the default location when
// path is empty.
func LoadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}

// PrintConfigExample prints a complete YAML config example to stderr.
func PrintConfigExample() {
	homeDir, _ := os.UserHomeDir()
	configPath := fmt.Sprintf("%s/.gitvec/config/gitvec.yaml", homeDir)

	fmt.Fprintf(os.Stderr, `Create a configuration file at %s:

# Embedding service configuration (required)
embedding:
  # Provider: "openai" | "volcengine"
  provider: openai
  api_key: your-api-key
  model: text-embedding-3-small
  dimensions: 1536
  max_batch_size: 64

# Vector store configuration
# Leave local_path empty and set qdrant_url to use Qdrant instead.
store:
  local_path: ""
  # qdrant_url: http://localhost:6333
  # collection: gitvec

# Pipeline sizing (optional)
# indexer:
#   vector_workers: 4
#   file_workers: 6
#   chunk_lines: 60
#   chunk_overlap: 8

Usage:
  1. Create the config file and set embedding.api_key
  2. Navigate to your project: cd /path/to/project
  3. Run: gitvec index
  4. Search: gitvec search "your query"
`, configPath)
}
