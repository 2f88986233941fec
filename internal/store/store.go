// Package store persists conversation threads and their message history.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a thread does not exist for the given owner.
// Ownership violations report the same error so existence is never revealed
// to other callers.
var ErrNotFound = errors.New("conversation not found")

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
)

// Conversation is a chat thread owned by a single caller.
type Conversation struct {
	ThreadID     string    `json:"thread_id"`
	OwnerID      string    `json:"owner_id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
}

// Message is a single turn in a conversation. Messages are append-only and
// keep strict insertion order.
type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the conversation state store.
type Store interface {
	// GetOrCreate returns the thread, creating it on first use. Idempotent
	// for the same (threadID, ownerID); a different owner gets ErrNotFound.
	GetOrCreate(ctx context.Context, threadID, ownerID, title string) (*Conversation, error)
	// Get returns the thread if it exists and belongs to ownerID.
	Get(ctx context.Context, threadID, ownerID string) (*Conversation, error)
	// Append adds a message to the thread in arrival order.
	Append(ctx context.Context, threadID string, msg Message) error
	// History returns the full ordered transcript, empty if no messages.
	History(ctx context.Context, threadID string) ([]Message, error)
	// List returns the owner's conversations, newest first.
	List(ctx context.Context, ownerID string) ([]Conversation, error)
	// Delete removes the thread and all its messages. No-op when the thread
	// does not exist for that owner.
	Delete(ctx context.Context, threadID, ownerID string) error
	// Close releases resources.
	Close() error
}
