// Package ingest turns raw documents into indexed chunks: split, embed,
// fan out into the owning stores, and record the file in the catalog.
package ingest

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ivansantander-hub/docuchat/internal/chunk"
	"github.com/ivansantander-hub/docuchat/internal/embed"
	"github.com/ivansantander-hub/docuchat/internal/errors"
	"github.com/ivansantander-hub/docuchat/internal/registry"
)

var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// Options wires a Pipeline.
type Options struct {
	Splitter *chunk.Splitter
	Embedder embed.Embedder
	Registry *registry.Registry
	Catalog  *Catalog // optional
	Fanout   FanoutPolicy
	Retry    errors.RetryConfig
	Logger   *slog.Logger
}

// Result summarizes a completed ingest.
type Result struct {
	Document   string              `json:"document"`
	Docbase    string              `json:"docbase"`
	ChunkCount int                 `json:"chunk_count"`
	Stores     []registry.StoreKey `json:"stores"`
}

// Pipeline ingests documents for users. Ingestion is all-or-nothing per
// store: either every chunk of the document is embedded and indexed, or the
// store keeps its prior contents. Transient provider failures are retried
// with exponential backoff before the ingest is abandoned.
type Pipeline struct {
	splitter *chunk.Splitter
	embedder embed.Embedder
	registry *registry.Registry
	catalog  *Catalog
	fanout   FanoutPolicy
	retry    errors.RetryConfig
	logger   *slog.Logger
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.InitialDelay == 0 {
		opts.Retry = errors.DefaultRetryConfig()
	}
	return &Pipeline{
		splitter: opts.Splitter,
		embedder: opts.Embedder,
		registry: opts.Registry,
		catalog:  opts.Catalog,
		fanout:   opts.Fanout,
		retry:    opts.Retry,
		logger:   logger,
	}
}

// Ingest indexes one document for a user. Re-ingesting a document the user
// already has replaces it wholesale in every target store.
func (p *Pipeline) Ingest(ctx context.Context, userID, document, content string) (*Result, error) {
	if !userIDRegex.MatchString(userID) {
		return nil, errors.Newf(errors.ErrCodeInvalidName, "invalid user ID %q", userID)
	}
	docbase := Docbase(document)
	if docbase == "" {
		return nil, errors.Newf(errors.ErrCodeInvalidName, "invalid document name %q", document)
	}

	chunks := p.splitter.Split(content, document)
	if len(chunks) == 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidInput,
			"document %q contains no indexable text", document)
	}

	// Track the upload before indexing starts; vectorized flips to true only
	// once every target store holds the document.
	if p.catalog != nil {
		if err := p.catalog.Record(ctx, FileRecord{
			UserID:     userID,
			Document:   document,
			SizeBytes:  int64(len(content)),
			ChunkCount: len(chunks),
			IngestedAt: time.Now().UTC(),
		}); err != nil {
			return nil, err
		}
	}

	// Embed every chunk before touching any store. A failure here, after
	// retries, leaves all stores untouched.
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := errors.RetryWithResult(ctx, p.retry, func() ([][]float32, error) {
		return p.embedder.EmbedBatch(ctx, texts)
	})
	if err != nil {
		return nil, errors.IngestionFailed(document, failedChunkIndex(err), err)
	}
	if len(vectors) != len(chunks) {
		return nil, errors.IngestionFailed(document, -1,
			errors.Newf(errors.ErrCodeEmbeddingFailed,
				"provider returned %d embeddings for %d chunks", len(vectors), len(chunks)))
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}

	targets := p.fanout.Targets(userID, docbase)
	model := p.embedder.ModelName()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, target := range targets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return p.registry.Upsert(target, document, chunks, model)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.IngestionFailed(document, -1, err)
	}

	if p.catalog != nil {
		if err := p.catalog.Record(ctx, FileRecord{
			UserID:     userID,
			Document:   document,
			SizeBytes:  int64(len(content)),
			ChunkCount: len(chunks),
			Vectorized: true,
			IngestedAt: time.Now().UTC(),
		}); err != nil {
			return nil, err
		}
	}

	p.logger.Info("ingested document",
		slog.String("user", userID),
		slog.String("document", document),
		slog.Int("chunks", len(chunks)),
		slog.Int("stores", len(targets)))

	return &Result{
		Document:   document,
		Docbase:    docbase,
		ChunkCount: len(chunks),
		Stores:     targets,
	}, nil
}

// RemoveDocument drops a document from every store it fanned out to and from
// the catalog.
func (p *Pipeline) RemoveDocument(ctx context.Context, userID, document string) error {
	if !userIDRegex.MatchString(userID) {
		return errors.Newf(errors.ErrCodeInvalidName, "invalid user ID %q", userID)
	}
	docbase := Docbase(document)
	if docbase == "" {
		return errors.Newf(errors.ErrCodeInvalidName, "invalid document name %q", document)
	}

	for _, target := range p.fanout.Targets(userID, docbase) {
		err := p.registry.RemoveDocument(target, document)
		if err != nil && !errors.HasCode(err, errors.ErrCodeStoreNotFound) {
			return err
		}
	}

	if p.catalog != nil {
		return p.catalog.DeleteFile(ctx, userID, document)
	}
	return nil
}

// failedChunkIndex recovers the input position a provider failure named, or
// -1 when the failure is not chunk-specific.
func failedChunkIndex(err error) int {
	v, ok := errors.GetDetail(err, "chunk_index")
	if !ok {
		return -1
	}
	idx, convErr := strconv.Atoi(v)
	if convErr != nil {
		return -1
	}
	return idx
}
