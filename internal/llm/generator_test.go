package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivansantander-hub/docuchat/internal/errors"
)

func TestOllamaGeneratorGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)

		var req ollamaGenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.False(t, req.Stream)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"Employees must arrive by 9am.","done":true}`))
	}))
	defer srv.Close()

	g := NewOllamaGenerator(OllamaConfig{Host: srv.URL, Model: "test-model"})
	defer g.Close()

	answer, err := g.Generate(context.Background(), "What time must employees arrive?")
	require.NoError(t, err)
	assert.Equal(t, "Employees must arrive by 9am.", answer)
}

func TestOllamaGeneratorRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := NewOllamaGenerator(OllamaConfig{Host: srv.URL, Model: "test-model"})
	defer g.Close()

	_, err := g.Generate(context.Background(), "question")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeProviderRateLimited))
	assert.True(t, errors.IsRetryable(err))
}

func TestOllamaGeneratorTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	g := NewOllamaGenerator(OllamaConfig{Host: srv.URL, Model: "test-model", Timeout: 20 * time.Millisecond})
	defer g.Close()

	_, err := g.Generate(context.Background(), "question")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeProviderTimeout))
	assert.True(t, errors.IsRetryable(err))
}

func TestOllamaGeneratorCallerCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	g := NewOllamaGenerator(OllamaConfig{Host: srv.URL, Model: "test-model"})
	defer g.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := g.Generate(ctx, "question")
	assert.ErrorIs(t, err, context.Canceled)
}
