package store

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"memochat/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database DSN required")
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&ConversationModel{}, &MessageModel{}, &ImageModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// CreateConversation inserts one conversation row.
func (s *GormStore) CreateConversation(ctx context.Context, conversation domain.Conversation) error {
	model := conversationToModel(conversation)
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetConversation returns one conversation by ID.
func (s *GormStore) GetConversation(ctx context.Context, id string) (domain.Conversation, bool, error) {
	var model ConversationModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// ListConversationsByUser returns latest conversations of a user.
func (s *GormStore) ListConversationsByUser(ctx context.Context, userID string, limit int) ([]domain.Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []ConversationModel
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_message_at DESC NULLS LAST").
		Order("updated_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Conversation, 0, len(models))
	for _, model := range models {
		items = append(items, conversationFromModel(model))
	}
	return items, nil
}

// TouchConversation refreshes the last-message timestamp.
func (s *GormStore) TouchConversation(ctx context.Context, id string, lastMessageAt time.Time) error {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if !lastMessageAt.IsZero() {
		updates["last_message_at"] = lastMessageAt.UTC()
	}
	return s.db.WithContext(ctx).Model(&ConversationModel{}).Where("id = ?", id).Updates(updates).Error
}

// DeleteConversation removes the conversation, its messages, and their
// image rows in one transaction.
func (s *GormStore) DeleteConversation(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			"DELETE FROM image_models WHERE message_id IN (SELECT id FROM message_models WHERE conversation_id = ?)", id,
		).Error; err != nil {
			return err
		}
		if err := tx.Delete(&MessageModel{}, "conversation_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&ConversationModel{}, "id = ?", id).Error
	})
}

// HasMessage reports whether the message already exists under this
// conversation and role.
func (s *GormStore) HasMessage(ctx context.Context, conversationID string, role domain.Role, id string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&MessageModel{}).
		Where("id = ? AND conversation_id = ? AND role = ?", id, conversationID, string(role)).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SaveExchange writes the user message, its image rows, and the assistant
// message in one transaction.
func (s *GormStore) SaveExchange(ctx context.Context, userMsg, assistantMsg domain.Message) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		userModel := messageToModel(userMsg)
		if err := tx.Create(&userModel).Error; err != nil {
			return fmt.Errorf("insert user message: %w", err)
		}
		for _, img := range userMsg.Images {
			imgModel := imageToModel(img)
			if err := tx.Create(&imgModel).Error; err != nil {
				return fmt.Errorf("insert image row: %w", err)
			}
		}
		assistantModel := messageToModel(assistantMsg)
		if err := tx.Create(&assistantModel).Error; err != nil {
			return fmt.Errorf("insert assistant message: %w", err)
		}
		return nil
	})
}

// SaveMessage writes one message row.
func (s *GormStore) SaveMessage(ctx context.Context, msg domain.Message) error {
	model := messageToModel(msg)
	return s.db.WithContext(ctx).Create(&model).Error
}

// ListConversationMessages returns the most recent messages of a
// conversation in chronological order, with image rows attached.
func (s *GormStore) ListConversationMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	query := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []MessageModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		msgs = append(msgs, messageFromModel(models[i]))
	}
	return s.attachImages(ctx, msgs)
}

// LatestAssistantMessage returns the newest assistant message of a
// conversation, if any.
func (s *GormStore) LatestAssistantMessage(ctx context.Context, conversationID string) (domain.Message, bool, error) {
	var model MessageModel
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND role = ?", conversationID, string(domain.RoleAssistant)).
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	return messageFromModel(model), true, nil
}

// ListMessagesMissingChunkLinks returns assistant messages whose metadata
// has no chunk linkage yet.
func (s *GormStore) ListMessagesMissingChunkLinks(ctx context.Context, conversationID string) ([]domain.Message, error) {
	var models []MessageModel
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND role = ?", conversationID, string(domain.RoleAssistant)).
		Where("metadata IS NULL OR NOT jsonb_exists(metadata, 'vectorChunkIds') OR jsonb_array_length(metadata->'vectorChunkIds') = 0").
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, model := range models {
		// Rows with linkage only under a legacy spelling are not missing.
		msg := messageFromModel(model)
		if len(msg.Metadata.VectorChunkIDs) > 0 {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// UpdateMessageMetadata replaces the metadata bag of one message.
func (s *GormStore) UpdateMessageMetadata(ctx context.Context, id string, md domain.Metadata) error {
	model := messageToModel(domain.Message{Metadata: md})
	return s.db.WithContext(ctx).Model(&MessageModel{}).
		Where("id = ?", id).
		Update("metadata", model.Metadata).Error
}

func (s *GormStore) attachImages(ctx context.Context, msgs []domain.Message) ([]domain.Message, error) {
	ids := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Metadata.ImageCount > 0 {
			ids = append(ids, msg.ID)
		}
	}
	if len(ids) == 0 {
		return msgs, nil
	}
	var imageModels []ImageModel
	if err := s.db.WithContext(ctx).Where("message_id IN ?", ids).Find(&imageModels).Error; err != nil {
		return nil, err
	}
	byMessage := make(map[string][]domain.ImageAttachment)
	for _, model := range imageModels {
		byMessage[model.MessageID] = append(byMessage[model.MessageID], imageFromModel(model))
	}
	for i := range msgs {
		msgs[i].Images = byMessage[msgs[i].ID]
	}
	return msgs, nil
}
