// Package types defines the shared conversation types used across spibot packages.
//
// These types are the lingua franca between the API client, the conversation
// store, the turn orchestrator and the terminal renderer. Cross-cutting data
// structures live here to avoid circular imports.
package types

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a [Message].
type Role string

const (
	// RoleUser marks a message typed or spoken by the person using the client.
	RoleUser Role = "user"

	// RoleAssistant marks a message produced by the question-answering backend.
	RoleAssistant Role = "assistant"
)

// IsValid reports whether r is a recognised role.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Citation is a scripture excerpt the backend used to ground an answer.
// Citations are immutable once attached to a [Message].
type Citation struct {
	// Reference is the human-readable location (e.g., "Bhagavad Gita 2.47").
	Reference string `json:"reference"`

	// Text is the quoted excerpt.
	Text string `json:"text"`

	// Scripture identifies the source text (e.g., "bhagavad_gita").
	Scripture string `json:"scripture"`

	// Score is the retrieval relevance reported by the backend.
	Score float64 `json:"score"`
}

// Message is a single entry in the conversation log.
//
// Content is mutable only while the message is the in-flight assistant message
// of a streaming turn; the conversation store enforces that. Everywhere else a
// Message is treated as a value.
type Message struct {
	// ID uniquely identifies the message within the session.
	ID string

	// Role is the author of the message.
	Role Role

	// Content is the message text.
	Content string

	// Citations is only set on assistant messages. Nil means "none attached".
	Citations []Citation

	// Timestamp is when the message was created.
	Timestamp time.Time
}

// NewUserMessage returns a fully populated user message stamped with a fresh
// ID and the current time.
func NewUserMessage(content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewAssistantMessage returns an assistant message stamped with a fresh ID and
// the current time. Pass an empty content for a streaming placeholder.
func NewAssistantMessage(content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Clone returns a deep copy of m so that callers cannot alias the citation
// slice of a stored message.
func (m Message) Clone() Message {
	m.Citations = slices.Clone(m.Citations)
	return m
}

// History projects m to the outbound [HistoryEntry] shape.
func (m Message) History() HistoryEntry {
	return HistoryEntry{Role: m.Role, Content: m.Content}
}

// HistoryEntry is the {role, content} projection of a message sent to the
// backend as conversation context. It is derived at submit time and never
// stored.
type HistoryEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
