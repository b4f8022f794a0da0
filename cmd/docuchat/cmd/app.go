package cmd

import (
	"log/slog"

	"github.com/ivansantander-hub/docuchat/internal/chat"
	"github.com/ivansantander-hub/docuchat/internal/chunk"
	"github.com/ivansantander-hub/docuchat/internal/config"
	"github.com/ivansantander-hub/docuchat/internal/embed"
	"github.com/ivansantander-hub/docuchat/internal/errors"
	"github.com/ivansantander-hub/docuchat/internal/ingest"
	"github.com/ivansantander-hub/docuchat/internal/llm"
	"github.com/ivansantander-hub/docuchat/internal/registry"
	"github.com/ivansantander-hub/docuchat/internal/retrieval"
)

// app wires the full component graph from configuration. Every command that
// touches stores goes through here so they all share the same setup.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *registry.Registry
	catalog   *ingest.Catalog
	sessions  *chat.Store
	embedder  embed.Embedder
	generator llm.Generator
	pipeline  *ingest.Pipeline
	orch      *retrieval.Orchestrator
}

// newApp loads config and builds the component graph.
func newApp() (*app, error) {
	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, err
	}
	logger := slog.Default()

	reg, err := registry.New(cfg.StoresDir(), cfg.Registry.MaxResidentStores, logger)
	if err != nil {
		return nil, err
	}

	catalog, err := ingest.OpenCatalog(cfg.CatalogPath())
	if err != nil {
		_ = reg.Close()
		return nil, err
	}

	embedder, err := embed.NewFromConfig(cfg.Embeddings)
	if err != nil {
		_ = catalog.Close()
		_ = reg.Close()
		return nil, err
	}

	generator := llm.NewOllamaGenerator(llm.OllamaConfig{
		Host:    cfg.Completion.Host,
		Model:   cfg.Completion.Model,
		Timeout: cfg.Completion.Timeout,
	})

	sessions := chat.NewStore(cfg.ChatsDir(), logger)

	pipeline := ingest.NewPipeline(ingest.Options{
		Splitter: chunk.NewSplitter(chunk.SplitterOptions{
			ChunkSize:    cfg.Chunking.ChunkSize,
			ChunkOverlap: cfg.Chunking.ChunkOverlap,
		}),
		Embedder: embedder,
		Registry: reg,
		Catalog:  catalog,
		Fanout:   ingest.FanoutPolicy{SystemCombined: cfg.Fanout.SystemCombined},
		Retry:    errors.DefaultRetryConfig(),
		Logger:   logger,
	})

	orch := retrieval.New(retrieval.Options{
		Registry:     reg,
		Sessions:     sessions,
		Embedder:     embedder,
		Generator:    generator,
		TopK:         cfg.Retrieval.TopK,
		HistoryTurns: cfg.Completion.HistoryTurns,
		Retry:        errors.DefaultRetryConfig(),
		Logger:       logger,
	})

	return &app{
		cfg:       cfg,
		logger:    logger,
		registry:  reg,
		catalog:   catalog,
		sessions:  sessions,
		embedder:  embedder,
		generator: generator,
		pipeline:  pipeline,
		orch:      orch,
	}, nil
}

// Close releases all resources in reverse order of construction.
func (a *app) Close() {
	_ = a.generator.Close()
	_ = a.embedder.Close()
	_ = a.catalog.Close()
	_ = a.registry.Close()
}
