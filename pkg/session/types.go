// Package session holds per-session conversation state: the turn history and
// the last recognized intent used to resolve follow-up questions.
// Sessions live only as long as the process (or the redis TTL) keeps them.
package session

import (
	"slices"
	"time"

	"github.com/aixgo-dev/sentichat/pkg/intent"
	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	// RoleUser marks text typed by the user.
	RoleUser Role = "user"
	// RoleAssistant marks replies, including block explanations.
	RoleAssistant Role = "assistant"
)

// Message is a single immutable utterance.
type Message struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Turn pairs a user message with the reply it produced.
// Turns are append-only. Only the assistant text may change after the turn is
// written, once the full answer is ready.
type Turn struct {
	// ID is the unique identifier for this turn.
	ID        string  `json:"id"`
	User      Message `json:"user"`
	Assistant Message `json:"assistant"`
	// Blocked is set when the reply is a guardrail explanation.
	Blocked bool `json:"blocked"`
}

// NewTurn builds a turn stamped at the given time.
func NewTurn(user, assistant string, blocked bool, at time.Time) Turn {
	return Turn{
		ID:        uuid.NewString(),
		User:      Message{Role: RoleUser, Text: user, Timestamp: at},
		Assistant: Message{Role: RoleAssistant, Text: assistant, Timestamp: at},
		Blocked:   blocked,
	}
}

// Session is a snapshot of one conversation.
type Session struct {
	ID           string         `json:"id"`
	Turns        []Turn         `json:"turns"`
	LastIntent   *intent.Intent `json:"lastIntent,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	LastActiveAt time.Time      `json:"lastActiveAt"`
}

// History returns the newest n turns, oldest first.
func (s *Session) History(n int) []Turn {
	if n <= 0 || n >= len(s.Turns) {
		return slices.Clone(s.Turns)
	}
	return slices.Clone(s.Turns[len(s.Turns)-n:])
}

// Expired reports whether the session has been idle longer than ttl.
// A non-positive ttl never expires.
func (s *Session) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(s.LastActiveAt) > ttl
}

// Clone returns a deep copy so callers never share backend state.
func (s *Session) Clone() *Session {
	out := *s
	out.Turns = slices.Clone(s.Turns)
	if s.LastIntent != nil {
		in := s.LastIntent.Clone()
		out.LastIntent = &in
	}
	return &out
}

// header is the session without its turns, as stored separately by the
// redis backend.
type header struct {
	ID           string         `json:"id"`
	LastIntent   *intent.Intent `json:"lastIntent,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	LastActiveAt time.Time      `json:"lastActiveAt"`
}

func trimTurns(turns []Turn, limit int) []Turn {
	if limit > 0 && len(turns) > limit {
		return slices.Clone(turns[len(turns)-limit:])
	}
	return turns
}
