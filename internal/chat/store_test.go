package chat

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivansantander-hub/docuchat/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGetOrCreateGeneratesChatID(t *testing.T) {
	s := newTestStore(t)

	session, err := s.GetOrCreate("alice", "alice_policy", "")
	require.NoError(t, err)
	assert.NotEmpty(t, session.ChatID)
	assert.Equal(t, "alice", session.UserID)
	assert.Equal(t, "alice_policy", session.StoreName)
	assert.Empty(t, session.Turns)
	assert.NotEmpty(t, session.DisplayName)
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	first, err := s.GetOrCreate("alice", "alice_policy", "chat-1")
	require.NoError(t, err)

	require.NoError(t, s.AppendTurn("alice", "alice_policy", "chat-1", Turn{
		Question: "q", Answer: "a",
	}))

	again, err := s.GetOrCreate("alice", "alice_policy", "chat-1")
	require.NoError(t, err)
	assert.Equal(t, first.ChatID, again.ChatID)
	assert.Len(t, again.Turns, 1)
}

func TestAppendTurnMissingSession(t *testing.T) {
	s := newTestStore(t)

	err := s.AppendTurn("alice", "alice_policy", "ghost", Turn{Question: "q", Answer: "a"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeSessionNotFound))
}

func TestAppendTurnAndGet(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetOrCreate("alice", "alice_policy", "chat-1")
	require.NoError(t, err)

	turn := Turn{
		Question:   "What time must employees badge in?",
		Answer:     "By 9am.",
		AskedAt:    time.Now().UTC(),
		AnsweredAt: time.Now().UTC(),
		Sources:    []SourceRef{{Document: "policy.txt", ChunkIndex: 0, Score: 0.91}},
	}
	require.NoError(t, s.AppendTurn("alice", "alice_policy", "chat-1", turn))

	session, err := s.Get("alice", "alice_policy", "chat-1")
	require.NoError(t, err)
	require.Len(t, session.Turns, 1)
	assert.Equal(t, "By 9am.", session.Turns[0].Answer)
	require.Len(t, session.Turns[0].Sources, 1)
	assert.Equal(t, "policy.txt", session.Turns[0].Sources[0].Document)
}

func TestListOrdersByActivity(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetOrCreate("alice", "alice_policy", "older")
	require.NoError(t, err)
	_, err = s.GetOrCreate("alice", "alice_policy", "newer")
	require.NoError(t, err)

	// Touching the older session makes it most recent.
	require.NoError(t, s.AppendTurn("alice", "alice_policy", "older", Turn{Question: "q", Answer: "a"}))

	metas, err := s.List("alice")
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, "older", metas[0].ChatID)
	assert.Equal(t, 1, metas[0].TurnCount)
	assert.Equal(t, "newer", metas[1].ChatID)
}

func TestListUnknownUserEmpty(t *testing.T) {
	s := newTestStore(t)

	metas, err := s.List("nobody")
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestRename(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetOrCreate("alice", "alice_policy", "chat-1")
	require.NoError(t, err)

	require.NoError(t, s.Rename("alice", "alice_policy", "chat-1", "Badge questions"))

	session, err := s.Get("alice", "alice_policy", "chat-1")
	require.NoError(t, err)
	assert.Equal(t, "Badge questions", session.DisplayName)

	metas, err := s.List("alice")
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "Badge questions", metas[0].DisplayName)

	err = s.Rename("alice", "alice_policy", "ghost", "x")
	assert.True(t, errors.HasCode(err, errors.ErrCodeSessionNotFound))
}

func TestClearHistoryKeepsSession(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetOrCreate("alice", "alice_policy", "chat-1")
	require.NoError(t, err)
	require.NoError(t, s.AppendTurn("alice", "alice_policy", "chat-1", Turn{Question: "q", Answer: "a"}))

	require.NoError(t, s.ClearHistory("alice", "alice_policy", "chat-1"))

	session, err := s.Get("alice", "alice_policy", "chat-1")
	require.NoError(t, err)
	assert.Empty(t, session.Turns)
}

func TestDeleteSession(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetOrCreate("alice", "alice_policy", "chat-1")
	require.NoError(t, err)

	require.NoError(t, s.DeleteSession("alice", "alice_policy", "chat-1"))

	_, err = s.Get("alice", "alice_policy", "chat-1")
	assert.True(t, errors.HasCode(err, errors.ErrCodeSessionNotFound))

	metas, err := s.List("alice")
	require.NoError(t, err)
	assert.Empty(t, metas)

	err = s.DeleteSession("alice", "alice_policy", "chat-1")
	assert.True(t, errors.HasCode(err, errors.ErrCodeSessionNotFound))
}

func TestInvalidIDsRejected(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetOrCreate("../evil", "store", "chat")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidName))

	_, err = s.Get("alice", "store/with/slash", "chat")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidName))
}

func TestConcurrentAppendsSameSession(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetOrCreate("alice", "alice_policy", "chat-1")
	require.NoError(t, err)

	const turns = 10
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.AppendTurn("alice", "alice_policy", "chat-1", Turn{
				Question: fmt.Sprintf("q%d", i),
				Answer:   fmt.Sprintf("a%d", i),
			})
		}(i)
	}
	wg.Wait()

	session, err := s.Get("alice", "alice_policy", "chat-1")
	require.NoError(t, err)
	assert.Len(t, session.Turns, turns)
}

func TestLastTurns(t *testing.T) {
	s := &Session{Turns: []Turn{
		{Question: "q1"}, {Question: "q2"}, {Question: "q3"},
	}}

	assert.Nil(t, s.LastTurns(0))
	assert.Len(t, s.LastTurns(2), 2)
	assert.Equal(t, "q2", s.LastTurns(2)[0].Question)
	assert.Len(t, s.LastTurns(10), 3)
}
