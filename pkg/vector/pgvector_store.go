package vector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"memochat/pkg/domain"
)

// VectorDocModel is the pgvector-backed row for one indexed document. It
// lives in its own table so the same Postgres instance can serve as both the
// relational store and the vector index in single-database deployments.
type VectorDocModel struct {
	ID             string `gorm:"primaryKey"`
	Text           string `gorm:"type:text;not null"`
	Role           string `gorm:"not null;index"`
	UserID         string `gorm:"not null;index"`
	ConversationID string `gorm:"not null;index"`
	MessageID      string `gorm:"index"`
	ChunkIndex     int
	HasImages      bool
	Timestamp      time.Time        `gorm:"not null"`
	Embedding      *pgvector.Vector `gorm:"type:vector(1536)"`
}

func (VectorDocModel) TableName() string { return "vector_documents" }

// PgvectorStore implements Store on Postgres with the pgvector extension.
type PgvectorStore struct {
	db         *gorm.DB
	embedder   Embedder
	dimensions int
}

// NewPgvectorStore opens the DB, enables the extension, and migrates the
// document table to the embedder's dimensionality.
func NewPgvectorStore(dsn string, dimensions int, embedder Embedder) (*PgvectorStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database DSN required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("create pgvector extension: %w", err)
	}
	if err := db.AutoMigrate(&VectorDocModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate vector documents: %w", err)
	}
	if err := db.Exec(fmt.Sprintf(
		"ALTER TABLE vector_documents ALTER COLUMN embedding TYPE vector(%d)", dimensions,
	)).Error; err != nil {
		return nil, fmt.Errorf("alter embedding type: %w", err)
	}
	return &PgvectorStore{db: db, embedder: embedder, dimensions: dimensions}, nil
}

// Search embeds the query and orders rows by cosine distance.
func (s *PgvectorStore) Search(ctx context.Context, query string, topK int, filter Filter) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	embedding, err := s.embedder.EmbedText(ctx, query, taskQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	vec := pgvector.NewVector(embedding)
	type scoredRow struct {
		VectorDocModel
		Score float32
	}
	q := s.db.WithContext(ctx).Model(&VectorDocModel{}).
		Select("*, 1 - (embedding <=> ?) AS score", vec).
		Where("embedding IS NOT NULL")
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.ConversationID != "" {
		q = q.Where("conversation_id = ?", filter.ConversationID)
	}
	if filter.Role != "" {
		q = q.Where("role = ?", string(filter.Role))
	}
	var rows []scoredRow
	if err := q.Order(clause.Expr{SQL: "embedding <=> ?", Vars: []any{vec}}).
		Limit(topK).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	results := make([]SearchResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, SearchResult{
			Document: documentFromModel(row.VectorDocModel),
			Score:    row.Score,
		})
	}
	return results, nil
}

// Upsert writes one document.
func (s *PgvectorStore) Upsert(ctx context.Context, doc Document) error {
	return s.AddDocuments(ctx, []Document{doc})
}

// AddDocuments embeds and writes a batch of documents.
func (s *PgvectorStore) AddDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	models := make([]VectorDocModel, 0, len(docs))
	for _, doc := range docs {
		if strings.TrimSpace(doc.Text) == "" {
			continue
		}
		embedding, err := s.embedder.EmbedText(ctx, doc.Text, taskDocument)
		if err != nil {
			return fmt.Errorf("embed document %s: %w", doc.ID, err)
		}
		vec := pgvector.NewVector(embedding)
		model := modelFromDocument(doc)
		model.Embedding = &vec
		models = append(models, model)
	}
	if len(models) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		CreateInBatches(&models, 100).Error
	if err != nil {
		return fmt.Errorf("pgvector upsert: %w", err)
	}
	return nil
}

// Fetch retrieves documents by ID.
func (s *PgvectorStore) Fetch(ctx context.Context, ids []string) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var models []VectorDocModel
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("pgvector fetch: %w", err)
	}
	return documentsFromModels(models), nil
}

// ListByMessage returns the documents back-referencing one message.
func (s *PgvectorStore) ListByMessage(ctx context.Context, messageID string) ([]Document, error) {
	var models []VectorDocModel
	if err := s.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("chunk_index ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("pgvector list by message: %w", err)
	}
	return documentsFromModels(models), nil
}

// Delete removes documents by ID.
func (s *PgvectorStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Delete(&VectorDocModel{}, "id IN ?", ids).Error; err != nil {
		return fmt.Errorf("pgvector delete: %w", err)
	}
	return nil
}

// DeleteByConversation removes every document of a conversation.
func (s *PgvectorStore) DeleteByConversation(ctx context.Context, conversationID string) error {
	if err := s.db.WithContext(ctx).
		Delete(&VectorDocModel{}, "conversation_id = ?", conversationID).Error; err != nil {
		return fmt.Errorf("pgvector delete by conversation: %w", err)
	}
	return nil
}

// Close is a no-op; the pooled connection belongs to gorm.
func (s *PgvectorStore) Close() error { return nil }

func modelFromDocument(doc Document) VectorDocModel {
	return VectorDocModel{
		ID:             doc.ID,
		Text:           doc.Text,
		Role:           string(doc.Role),
		UserID:         doc.UserID,
		ConversationID: doc.ConversationID,
		MessageID:      doc.MessageID,
		ChunkIndex:     doc.ChunkIndex,
		HasImages:      doc.HasImages,
		Timestamp:      doc.Timestamp.UTC(),
	}
}

func documentFromModel(model VectorDocModel) Document {
	return Document{
		ID:             model.ID,
		Text:           model.Text,
		Role:           domain.Role(model.Role),
		UserID:         model.UserID,
		ConversationID: model.ConversationID,
		MessageID:      model.MessageID,
		ChunkIndex:     model.ChunkIndex,
		HasImages:      model.HasImages,
		Timestamp:      model.Timestamp,
	}
}

func documentsFromModels(models []VectorDocModel) []Document {
	docs := make([]Document, 0, len(models))
	for _, model := range models {
		docs = append(docs, documentFromModel(model))
	}
	return docs
}
