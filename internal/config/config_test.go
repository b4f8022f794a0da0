package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, DefaultChunkSize, cfg.Chunking.ChunkSize)
	assert.Equal(t, DefaultChunkOverlap, cfg.Chunking.ChunkOverlap)
	assert.Equal(t, DefaultTopK, cfg.Retrieval.TopK)
	assert.Equal(t, DefaultMaxResidentStores, cfg.Registry.MaxResidentStores)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.False(t, cfg.Fanout.SystemCombined)
	require.NoError(t, cfg.Validate())
}

func TestLoadWithoutConfigFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, DefaultChunkSize, cfg.Chunking.ChunkSize)
}

func TestLoadMergesYAMLFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
chunking:
  chunk_size: 500
  chunk_overlap: 50
retrieval:
  top_k: 3
fanout:
  system_combined: true
embeddings:
  provider: static
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docuchat.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Chunking.ChunkSize)
	assert.Equal(t, 50, cfg.Chunking.ChunkOverlap)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.True(t, cfg.Fanout.SystemCombined)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
	// Unset fields keep their defaults.
	assert.Equal(t, DefaultEmbeddingModel, cfg.Embeddings.Model)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	dir := t.TempDir()
	yaml := "retrieval:\n  top_k: 3\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docuchat.yaml"), []byte(yaml), 0o644))

	t.Setenv("DOCUCHAT_TOP_K", "7")
	t.Setenv("DOCUCHAT_LOG_LEVEL", "debug")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Retrieval.TopK)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero chunk size", func(c *Config) { c.Chunking.ChunkSize = 0 }},
		{"negative overlap", func(c *Config) { c.Chunking.ChunkOverlap = -1 }},
		{"overlap >= size", func(c *Config) { c.Chunking.ChunkSize = 100; c.Chunking.ChunkOverlap = 100 }},
		{"zero top_k", func(c *Config) { c.Retrieval.TopK = 0 }},
		{"zero resident stores", func(c *Config) { c.Registry.MaxResidentStores = 0 }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"bad provider", func(c *Config) { c.Embeddings.Provider = "openai" }},
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()

	cfg := NewConfig()
	cfg.DataDir = dir
	cfg.Retrieval.TopK = 9
	cfg.Embeddings.Timeout = 30 * time.Second
	require.NoError(t, cfg.Save())

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 9, loaded.Retrieval.TopK)
	assert.Equal(t, 30*time.Second, loaded.Embeddings.Timeout)
}

func TestDerivedPaths(t *testing.T) {
	cfg := NewConfig()
	cfg.DataDir = "/tmp/dc"

	assert.Equal(t, filepath.Join("/tmp/dc", "stores"), cfg.StoresDir())
	assert.Equal(t, filepath.Join("/tmp/dc", "chats"), cfg.ChatsDir())
	assert.Equal(t, filepath.Join("/tmp/dc", "uploads"), cfg.UploadsDir())
	assert.Equal(t, filepath.Join("/tmp/dc", "catalog.db"), cfg.CatalogPath())
}
