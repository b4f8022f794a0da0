// Package retrieval answers user questions grounded in their vector stores:
// embed the question, search the store, assemble a prompt with conversation
// history, and generate the answer.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ivansantander-hub/docuchat/internal/chat"
	"github.com/ivansantander-hub/docuchat/internal/embed"
	"github.com/ivansantander-hub/docuchat/internal/errors"
	"github.com/ivansantander-hub/docuchat/internal/ingest"
	"github.com/ivansantander-hub/docuchat/internal/llm"
	"github.com/ivansantander-hub/docuchat/internal/registry"
	"github.com/ivansantander-hub/docuchat/internal/store"
)

// Options wires an Orchestrator.
type Options struct {
	Registry  *registry.Registry
	Sessions  *chat.Store
	Embedder  embed.Embedder
	Generator llm.Generator
	TopK      int
	// HistoryTurns is how many prior turns are included in the prompt.
	HistoryTurns int
	Retry        errors.RetryConfig
	Logger       *slog.Logger
}

// Answer is the result of one grounded question.
type Answer struct {
	ChatID   string          `json:"chat_id"`
	Question string          `json:"question"`
	Answer   string          `json:"answer"`
	Sources  []chat.SourceRef `json:"sources"`
}

// Orchestrator runs the ask flow. It holds no locks across provider calls;
// store access and session mutation each take their own short critical
// sections.
type Orchestrator struct {
	registry  *registry.Registry
	sessions  *chat.Store
	embedder  embed.Embedder
	generator llm.Generator
	topK      int
	history   int
	retry     errors.RetryConfig
	logger    *slog.Logger
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.HistoryTurns < 0 {
		opts.HistoryTurns = 0
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.InitialDelay == 0 {
		opts.Retry = errors.DefaultRetryConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		registry:  opts.Registry,
		sessions:  opts.Sessions,
		embedder:  opts.Embedder,
		generator: opts.Generator,
		topK:      opts.TopK,
		history:   opts.HistoryTurns,
		retry:     opts.Retry,
		logger:    logger,
	}
}

// ResolveStoreKey maps a store name as seen by a user onto a registry key.
// The bare combined name addresses the shared system store; everything else
// is a store the user owns.
func ResolveStoreKey(userID, storeName string) registry.StoreKey {
	if storeName == ingest.CombinedStoreName {
		return registry.SystemStore(storeName)
	}
	return registry.UserStore(userID, storeName)
}

// Ask answers a question against one of the user's stores inside a chat
// session. An empty chatID starts a new session. The completed turn is
// appended to the session before returning.
func (o *Orchestrator) Ask(ctx context.Context, userID, storeName, chatID, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.Newf(errors.ErrCodeInvalidInput, "question must not be empty")
	}

	key := ResolveStoreKey(userID, storeName)
	if _, err := o.registry.Open(key); err != nil {
		return nil, err
	}

	session, err := o.sessions.GetOrCreate(userID, storeName, chatID)
	if err != nil {
		return nil, err
	}

	askedAt := time.Now().UTC()

	queryVec, err := errors.RetryWithResult(ctx, o.retry, func() ([]float32, error) {
		return o.embedder.Embed(ctx, question)
	})
	if err != nil {
		return nil, err
	}

	results, err := o.registry.Search(key, queryVec, o.topK)
	if err != nil {
		return nil, err
	}

	prompt := buildPrompt(results, session.LastTurns(o.history), question)

	answer, err := errors.RetryWithResult(ctx, o.retry, func() (string, error) {
		return o.generator.Generate(ctx, prompt)
	})
	if err != nil {
		return nil, err
	}
	answer = strings.TrimSpace(answer)

	sources := make([]chat.SourceRef, 0, len(results))
	for _, r := range results {
		sources = append(sources, chat.SourceRef{
			Document:   r.Chunk.Source,
			ChunkIndex: r.Chunk.Index,
			Score:      r.Score,
		})
	}

	turn := chat.Turn{
		Question:   question,
		Answer:     answer,
		AskedAt:    askedAt,
		AnsweredAt: time.Now().UTC(),
		Sources:    sources,
	}
	if err := o.sessions.AppendTurn(userID, storeName, session.ChatID, turn); err != nil {
		return nil, err
	}

	o.logger.Info("answered question",
		slog.String("user", userID),
		slog.String("store", storeName),
		slog.String("chat", session.ChatID),
		slog.Int("sources", len(sources)))

	return &Answer{
		ChatID:   session.ChatID,
		Question: question,
		Answer:   answer,
		Sources:  sources,
	}, nil
}

// buildPrompt assembles the generation prompt: instructions, retrieved
// context, recent conversation, then the question.
func buildPrompt(results []store.Result, history []chat.Turn, question string) string {
	var b strings.Builder

	b.WriteString("You are a helpful assistant. Answer the question using only the provided context. ")
	b.WriteString("If the context does not contain the answer, say you don't know.\n\n")

	b.WriteString("Context:\n")
	if len(results) == 0 {
		b.WriteString("(no relevant context found)\n")
	}
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, r.Chunk.Source, r.Chunk.Text)
	}

	if len(history) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", turn.Question, turn.Answer)
		}
	}

	fmt.Fprintf(&b, "\nQuestion: %s\nAnswer:", question)
	return b.String()
}
