// Package config loads and validates DocuChat configuration.
//
// Configuration is applied in order of increasing precedence:
//  1. Hardcoded defaults
//  2. Config file (docuchat.yaml in the data directory)
//  3. .env file in the working directory (via godotenv)
//  4. Environment variables (DOCUCHAT_*)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete DocuChat configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	DataDir    string           `yaml:"data_dir" json:"data_dir"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Completion CompletionConfig `yaml:"completion" json:"completion"`
	Registry   RegistryConfig   `yaml:"registry" json:"registry"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Fanout     FanoutConfig     `yaml:"fanout" json:"fanout"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Watcher    WatcherConfig    `yaml:"watcher" json:"watcher"`
	LogLevel   string           `yaml:"log_level" json:"log_level"`
}

// ChunkingConfig configures the document splitter.
type ChunkingConfig struct {
	// ChunkSize is the target chunk size in runes.
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	// ChunkOverlap is the overlap between consecutive chunks in runes.
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider   string        `yaml:"provider" json:"provider"` // "ollama" or "static"
	Model      string        `yaml:"model" json:"model"`
	Host       string        `yaml:"host" json:"host"`
	Dimensions int           `yaml:"dimensions" json:"dimensions"`
	BatchSize  int           `yaml:"batch_size" json:"batch_size"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	CacheSize  int           `yaml:"cache_size" json:"cache_size"`
}

// CompletionConfig configures the text-generation provider.
type CompletionConfig struct {
	Model   string        `yaml:"model" json:"model"`
	Host    string        `yaml:"host" json:"host"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// HistoryTurns is how many prior turns are included as conversation context.
	HistoryTurns int `yaml:"history_turns" json:"history_turns"`
}

// RegistryConfig configures the vector-store registry.
type RegistryConfig struct {
	// MaxResidentStores bounds the in-memory cache of loaded indexes.
	MaxResidentStores int `yaml:"max_resident_stores" json:"max_resident_stores"`
}

// RetrievalConfig configures grounded retrieval.
type RetrievalConfig struct {
	// TopK is the number of chunks retrieved per question.
	TopK int `yaml:"top_k" json:"top_k"`
}

// FanoutConfig declares which stores every ingest is written into.
// The individual document store and the owner's combined store are always
// written; the system-wide combined store is opt-in.
type FanoutConfig struct {
	SystemCombined bool `yaml:"system_combined" json:"system_combined"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// WatcherConfig configures the uploads directory watcher.
type WatcherConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Debounce time.Duration `yaml:"debounce" json:"debounce"`
}

// Defaults.
const (
	DefaultChunkSize         = 1000
	DefaultChunkOverlap      = 200
	DefaultTopK              = 5
	DefaultHistoryTurns      = 6
	DefaultMaxResidentStores = 16
	DefaultBatchSize         = 32
	DefaultEmbeddingCache    = 1000
	DefaultServerPort        = 8080
	DefaultOllamaHost        = "http://localhost:11434"
	DefaultEmbeddingModel    = "nomic-embed-text"
	DefaultCompletionModel   = "llama3.1"
)

// configFileName is the config file looked up inside the data directory.
const configFileName = "docuchat.yaml"

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: DefaultDataDir(),
		Chunking: ChunkingConfig{
			ChunkSize:    DefaultChunkSize,
			ChunkOverlap: DefaultChunkOverlap,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "ollama",
			Model:     DefaultEmbeddingModel,
			Host:      DefaultOllamaHost,
			BatchSize: DefaultBatchSize,
			Timeout:   60 * time.Second,
			CacheSize: DefaultEmbeddingCache,
		},
		Completion: CompletionConfig{
			Model:        DefaultCompletionModel,
			Host:         DefaultOllamaHost,
			Timeout:      120 * time.Second,
			HistoryTurns: DefaultHistoryTurns,
		},
		Registry: RegistryConfig{
			MaxResidentStores: DefaultMaxResidentStores,
		},
		Retrieval: RetrievalConfig{
			TopK: DefaultTopK,
		},
		Fanout: FanoutConfig{
			SystemCombined: false,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: DefaultServerPort,
		},
		Watcher: WatcherConfig{
			Enabled:  false,
			Debounce: 500 * time.Millisecond,
		},
		LogLevel: "info",
	}
}

// DefaultDataDir returns the default data directory (~/.docuchat).
// Falls back to temp directory if home directory is unavailable.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".docuchat")
	}
	return filepath.Join(home, ".docuchat")
}

// Load loads configuration rooted at the given data directory.
// An empty dir uses the default data directory.
func Load(dir string) (*Config, error) {
	// Load .env before reading environment overrides. Missing file is fine.
	_ = godotenv.Load()

	cfg := NewConfig()
	if dir != "" {
		cfg.DataDir = dir
	}

	if err := cfg.loadFromFile(); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFromFile merges docuchat.yaml from the data directory, if present.
func (c *Config) loadFromFile() error {
	path := filepath.Join(c.DataDir, configFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // no config file is fine, use defaults
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}
	if other.Chunking.ChunkSize != 0 {
		c.Chunking.ChunkSize = other.Chunking.ChunkSize
	}
	if other.Chunking.ChunkOverlap != 0 {
		c.Chunking.ChunkOverlap = other.Chunking.ChunkOverlap
	}
	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Host != "" {
		c.Embeddings.Host = other.Embeddings.Host
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.Timeout != 0 {
		c.Embeddings.Timeout = other.Embeddings.Timeout
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}
	if other.Completion.Model != "" {
		c.Completion.Model = other.Completion.Model
	}
	if other.Completion.Host != "" {
		c.Completion.Host = other.Completion.Host
	}
	if other.Completion.Timeout != 0 {
		c.Completion.Timeout = other.Completion.Timeout
	}
	if other.Completion.HistoryTurns != 0 {
		c.Completion.HistoryTurns = other.Completion.HistoryTurns
	}
	if other.Registry.MaxResidentStores != 0 {
		c.Registry.MaxResidentStores = other.Registry.MaxResidentStores
	}
	if other.Retrieval.TopK != 0 {
		c.Retrieval.TopK = other.Retrieval.TopK
	}
	if other.Fanout.SystemCombined {
		c.Fanout.SystemCombined = true
	}
	if other.Server.Host != "" {
		c.Server.Host = other.Server.Host
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if other.Watcher.Enabled {
		c.Watcher.Enabled = true
	}
	if other.Watcher.Debounce != 0 {
		c.Watcher.Debounce = other.Watcher.Debounce
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}

// applyEnvOverrides applies DOCUCHAT_* environment variables (highest precedence).
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DOCUCHAT_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("DOCUCHAT_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Chunking.ChunkSize = n
		}
	}
	if v := os.Getenv("DOCUCHAT_CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Chunking.ChunkOverlap = n
		}
	}
	if v := os.Getenv("DOCUCHAT_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("DOCUCHAT_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("DOCUCHAT_OLLAMA_HOST"); v != "" {
		c.Embeddings.Host = v
		c.Completion.Host = v
	}
	if v := os.Getenv("DOCUCHAT_COMPLETION_MODEL"); v != "" {
		c.Completion.Model = v
	}
	if v := os.Getenv("DOCUCHAT_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retrieval.TopK = n
		}
	}
	if v := os.Getenv("DOCUCHAT_MAX_RESIDENT_STORES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Registry.MaxResidentStores = n
		}
	}
	if v := os.Getenv("DOCUCHAT_SYSTEM_COMBINED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Fanout.SystemCombined = b
		}
	}
	if v := os.Getenv("DOCUCHAT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.Port = n
		}
	}
	if v := os.Getenv("DOCUCHAT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("chunking.chunk_size must be positive, got %d", c.Chunking.ChunkSize)
	}
	if c.Chunking.ChunkOverlap < 0 {
		return fmt.Errorf("chunking.chunk_overlap must not be negative, got %d", c.Chunking.ChunkOverlap)
	}
	if c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunking.chunk_overlap (%d) must be smaller than chunk_size (%d)",
			c.Chunking.ChunkOverlap, c.Chunking.ChunkSize)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Registry.MaxResidentStores <= 0 {
		return fmt.Errorf("registry.max_resident_stores must be positive, got %d", c.Registry.MaxResidentStores)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}
	switch c.Embeddings.Provider {
	case "ollama", "static":
	default:
		return fmt.Errorf("embeddings.provider must be \"ollama\" or \"static\", got %q", c.Embeddings.Provider)
	}
	return nil
}

// Save writes the configuration as YAML into the data directory.
// Uses atomic write (temp file + rename).
func (c *Config) Save() error {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	path := filepath.Join(c.DataDir, configFileName)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

// StoresDir returns the directory holding persisted vector stores.
func (c *Config) StoresDir() string {
	return filepath.Join(c.DataDir, "stores")
}

// ChatsDir returns the directory holding persisted chat sessions.
func (c *Config) ChatsDir() string {
	return filepath.Join(c.DataDir, "chats")
}

// UploadsDir returns the directory watched for user uploads.
func (c *Config) UploadsDir() string {
	return filepath.Join(c.DataDir, "uploads")
}

// CatalogPath returns the SQLite file tracking user file records.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.DataDir, "catalog.db")
}
