// Package chat persists per-user chat sessions: the question/answer turns a
// user has exchanged against one of their docbases.
package chat

import "time"

// SourceRef points at a chunk that grounded an answer.
type SourceRef struct {
	Document   string  `json:"document"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float32 `json:"score"`
}

// Turn is one question/answer exchange.
type Turn struct {
	Question   string      `json:"question"`
	Answer     string      `json:"answer"`
	AskedAt    time.Time   `json:"asked_at"`
	AnsweredAt time.Time   `json:"answered_at"`
	Sources    []SourceRef `json:"sources,omitempty"`
}

// Session is a conversation bound to one user and one store.
type Session struct {
	UserID         string    `json:"user_id"`
	StoreName      string    `json:"store_name"`
	ChatID         string    `json:"chat_id"`
	DisplayName    string    `json:"display_name"`
	Turns          []Turn    `json:"turns"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Meta is the lightweight listing entry kept in the per-user index.
type Meta struct {
	ChatID         string    `json:"chat_id"`
	StoreName      string    `json:"store_name"`
	DisplayName    string    `json:"display_name"`
	TurnCount      int       `json:"turn_count"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// LastTurns returns up to n most recent turns, oldest first.
func (s *Session) LastTurns(n int) []Turn {
	if n <= 0 || len(s.Turns) == 0 {
		return nil
	}
	if n >= len(s.Turns) {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}
