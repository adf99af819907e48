package vector

import (
	"context"
	"time"

	"memochat/pkg/domain"
)

// Document is one indexed fragment of message text. A short message is
// stored as a single document whose ID equals the message ID; a long
// assistant message is split into several documents with generated IDs, each
// keeping MessageID as the back-reference to its parent and ChunkIndex as
// its position.
type Document struct {
	ID             string
	Text           string
	Role           domain.Role
	UserID         string
	ConversationID string
	MessageID      string
	ChunkIndex     int
	HasImages      bool
	Timestamp      time.Time
}

// SearchResult pairs a document with its similarity score.
type SearchResult struct {
	Document
	Score float32
}

// Filter narrows searches and listings. Empty fields match everything.
// Searches on behalf of a user must set UserID; documents are indexed per
// tenant and recall never crosses them.
type Filter struct {
	UserID         string
	ConversationID string
	Role           domain.Role
}

// Store is the vector index the pipeline reads and writes. Implementations
// embed query text themselves. All writes are best-effort from the caller's
// point of view: the relational store is the source of truth and the index
// is reconciled through the chunk-linkage metadata.
type Store interface {
	// Search returns the topK most similar documents matching the filter,
	// ordered by descending score.
	Search(ctx context.Context, query string, topK int, filter Filter) ([]SearchResult, error)
	// Upsert writes a single document keyed by its ID.
	Upsert(ctx context.Context, doc Document) error
	// AddDocuments writes a batch of documents.
	AddDocuments(ctx context.Context, docs []Document) error
	// Fetch returns the documents stored under the given IDs. Missing IDs
	// are simply absent from the result.
	Fetch(ctx context.Context, ids []string) ([]Document, error)
	// ListByMessage returns all documents whose back-reference is messageID.
	ListByMessage(ctx context.Context, messageID string) ([]Document, error)
	// Delete removes documents by ID.
	Delete(ctx context.Context, ids []string) error
	// DeleteByConversation removes every document of one conversation.
	DeleteByConversation(ctx context.Context, conversationID string) error
	// Close releases the underlying connection.
	Close() error
}
