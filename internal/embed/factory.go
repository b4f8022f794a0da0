package embed

import (
	"fmt"

	"github.com/ivansantander-hub/docuchat/internal/config"
)

// NewFromConfig builds the configured embedder, wrapped in an LRU cache.
func NewFromConfig(cfg config.EmbeddingsConfig) (Embedder, error) {
	var inner Embedder
	switch cfg.Provider {
	case "static":
		inner = NewStaticEmbedder()
	case "ollama", "":
		inner = NewOllamaEmbedder(OllamaConfig{
			Host:       cfg.Host,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Timeout:    cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", cfg.Provider)
	}

	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
