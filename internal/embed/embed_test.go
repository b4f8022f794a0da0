package embed

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivansantander-hub/docuchat/internal/config"
	"github.com/ivansantander-hub/docuchat/internal/errors"
)

func TestStaticEmbedderDeterministic(t *testing.T) {
	e := NewStaticEmbedder()
	defer e.Close()

	v1, err := e.Embed(context.Background(), "Employees must badge in by 9am.")
	require.NoError(t, err)
	v2, err := e.Embed(context.Background(), "Employees must badge in by 9am.")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Len(t, v1, StaticDimensions)
}

func TestStaticEmbedderUnitLength(t *testing.T) {
	e := NewStaticEmbedder()
	defer e.Close()

	v, err := e.Embed(context.Background(), "some text to embed")
	require.NoError(t, err)

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestStaticEmbedderEmptyTextZeroVector(t *testing.T) {
	e := NewStaticEmbedder()
	defer e.Close()

	v, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	for _, x := range v {
		assert.Zero(t, x)
	}
}

func TestStaticEmbedderSimilarTextsCloser(t *testing.T) {
	e := NewStaticEmbedder()
	defer e.Close()

	ctx := context.Background()
	badge, _ := e.Embed(ctx, "Employees must badge in by 9am.")
	query, _ := e.Embed(ctx, "What time must employees badge in?")
	other, _ := e.Embed(ctx, "The quarterly revenue grew by twelve percent.")

	assert.Greater(t, cosine(badge, query), cosine(badge, other))
}

func TestCachedEmbedderHitsCache(t *testing.T) {
	inner := &countingEmbedder{inner: NewStaticEmbedder()}
	c := NewCachedEmbedder(inner, 10)

	ctx := context.Background()
	_, err := c.Embed(ctx, "hello")
	require.NoError(t, err)
	_, err = c.Embed(ctx, "hello")
	require.NoError(t, err)

	assert.Equal(t, int64(1), inner.calls.Load())
}

func TestCachedEmbedderBatchPartialHits(t *testing.T) {
	inner := &countingEmbedder{inner: NewStaticEmbedder()}
	c := NewCachedEmbedder(inner, 10)

	ctx := context.Background()
	_, err := c.Embed(ctx, "a")
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Len(t, v, StaticDimensions)
	}
	// "a" was cached; only "b" and "c" hit the inner embedder.
	assert.Equal(t, int64(3), inner.calls.Load())
}

func TestCachedEmbedderRemapsFailedPosition(t *testing.T) {
	inner := &positionFailEmbedder{inner: NewStaticEmbedder()}
	c := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	// Warm the cache so the inner embedder only sees the tail of the batch.
	inner.fail = false
	_, err := c.Embed(ctx, "a")
	require.NoError(t, err)

	inner.fail = true
	_, err = c.EmbedBatch(ctx, []string{"a", "b"})
	require.Error(t, err)

	// The inner embedder failed at position 0 of the uncached subset, which
	// is position 1 of the caller's batch.
	idx, ok := errors.GetDetail(err, "chunk_index")
	require.True(t, ok)
	assert.Equal(t, "1", idx)
}

func TestOllamaEmbedderBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[[1,0,0],[0,1,0]]}`))
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Model: "test-model"})
	defer e.Close()

	vecs, err := e.EmbedBatch(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.InDelta(t, 1.0, float64(vecs[0][0]), 1e-6)
	assert.Equal(t, 3, e.Dimensions())
}

func TestOllamaEmbedderFailureNamesPosition(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) > 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[[1,0,0]]}`))
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Model: "test-model", BatchSize: 1})
	defer e.Close()

	// The first batch succeeds, the second fails. The error names the input
	// position the failing batch starts at.
	_, err := e.EmbedBatch(context.Background(), []string{"one", "two", "three"})
	require.Error(t, err)
	idx, ok := errors.GetDetail(err, "chunk_index")
	require.True(t, ok)
	assert.Equal(t, "1", idx)
}

func TestOllamaEmbedderRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Model: "test-model"})
	defer e.Close()

	_, err := e.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeProviderRateLimited))
	assert.True(t, errors.IsRetryable(err))
}

func TestOllamaEmbedderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Model: "test-model"})
	defer e.Close()

	_, err := e.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeEmbeddingFailed))
	assert.False(t, errors.IsRetryable(err))
}

func TestNewFromConfig(t *testing.T) {
	e, err := NewFromConfig(config.EmbeddingsConfig{Provider: "static", CacheSize: 10})
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, "static-fnv", e.ModelName())

	_, err = NewFromConfig(config.EmbeddingsConfig{Provider: "bogus"})
	assert.Error(t, err)
}

// countingEmbedder counts calls that reach the inner embedder.
type countingEmbedder struct {
	inner Embedder
	calls atomic.Int64
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(int64(len(texts)))
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) Dimensions() int   { return c.inner.Dimensions() }
func (c *countingEmbedder) ModelName() string { return c.inner.ModelName() }
func (c *countingEmbedder) Close() error      { return c.inner.Close() }

// positionFailEmbedder fails batch calls while fail is set, naming the first
// position of the batch the way the HTTP provider does.
type positionFailEmbedder struct {
	inner Embedder
	fail  bool
}

func (p *positionFailEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return p.inner.Embed(ctx, text)
}

func (p *positionFailEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if p.fail {
		err := errors.Newf(errors.ErrCodeEmbeddingFailed, "bad input")
		return nil, errors.SetDetail(err, "chunk_index", "0")
	}
	return p.inner.EmbedBatch(ctx, texts)
}

func (p *positionFailEmbedder) Dimensions() int   { return p.inner.Dimensions() }
func (p *positionFailEmbedder) ModelName() string { return p.inner.ModelName() }
func (p *positionFailEmbedder) Close() error      { return p.inner.Close() }

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
