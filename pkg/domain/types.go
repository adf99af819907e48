package domain

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Conversation is a named thread of messages for one user. Exactly one
// conversation exists per (user, conversation ID) pair; it is created lazily
// on the first message when absent.
type Conversation struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	Title         string     `json:"title"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Message is a single turn in a conversation. Content is immutable after
// creation; Metadata is the only part updated afterwards, once vector
// indexing resolves the chunk IDs.
type Message struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversationId"`
	UserID         string            `json:"userId"`
	Role           Role              `json:"role"`
	Content        string            `json:"content"`
	Images         []ImageAttachment `json:"images,omitempty"`
	Metadata       Metadata          `json:"metadata"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// ImageAttachment links an uploaded image to the message it arrived with.
type ImageAttachment struct {
	ID         string    `json:"id"`
	MessageID  string    `json:"messageId"`
	StorageKey string    `json:"-"`
	URL        string    `json:"url"`
	CreatedAt  time.Time `json:"createdAt"`
}

type ContextSource string

const (
	ContextSourceVector   ContextSource = "vector"
	ContextSourceDatabase ContextSource = "database"
)

// CombinedContext is an ephemeral projection used only during prompt
// assembly. It is produced by merging recent messages with semantic search
// hits and is never persisted.
type CombinedContext struct {
	Source         ContextSource `json:"source"`
	Role           Role          `json:"role"`
	Content        string        `json:"content"`
	Timestamp      time.Time     `json:"timestamp"`
	ConversationID string        `json:"conversationId"`
}

// Answer is the outward result of one processed exchange.
type Answer struct {
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	ResponseText   string    `json:"responseText"`
	UsedFallback   bool      `json:"usedFallback"`
	RespondedAt    time.Time `json:"respondedAt"`
}
