package store

import (
	"context"
	"time"

	"memochat/pkg/domain"
)

// Store defines the relational persistence operations the pipeline needs.
// It is the source of truth for conversations and messages; the vector
// index is derived from it and reconciled through message metadata.
type Store interface {
	// conversations
	CreateConversation(ctx context.Context, conversation domain.Conversation) error
	GetConversation(ctx context.Context, id string) (domain.Conversation, bool, error)
	ListConversationsByUser(ctx context.Context, userID string, limit int) ([]domain.Conversation, error)
	TouchConversation(ctx context.Context, id string, lastMessageAt time.Time) error
	// DeleteConversation removes the conversation with its messages and
	// image rows in one transaction.
	DeleteConversation(ctx context.Context, id string) error

	// messages
	// HasMessage reports whether a message with this ID already exists in
	// the conversation under the given role. Used for idempotent retries.
	HasMessage(ctx context.Context, conversationID string, role domain.Role, id string) (bool, error)
	// SaveExchange writes the user message (with its image rows) and the
	// assistant message atomically.
	SaveExchange(ctx context.Context, userMsg, assistantMsg domain.Message) error
	// SaveMessage writes a single message. Used when an idempotent retry
	// finds the user row already present and only the assistant side is new.
	SaveMessage(ctx context.Context, msg domain.Message) error
	ListConversationMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
	LatestAssistantMessage(ctx context.Context, conversationID string) (domain.Message, bool, error)
	// ListMessagesMissingChunkLinks returns assistant messages whose
	// metadata carries no vector chunk linkage yet.
	ListMessagesMissingChunkLinks(ctx context.Context, conversationID string) ([]domain.Message, error)
	// UpdateMessageMetadata replaces the metadata bag of one message. This
	// is the only post-creation mutation a message supports.
	UpdateMessageMetadata(ctx context.Context, id string, md domain.Metadata) error
}
