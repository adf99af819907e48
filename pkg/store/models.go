package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"memochat/pkg/domain"
)

// GORM models used for persistence.

type ConversationModel struct {
	ID            string `gorm:"primaryKey"`
	UserID        string `gorm:"not null;index"`
	Title         string `gorm:"not null"`
	LastMessageAt *time.Time
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

type MessageModel struct {
	ID             string         `gorm:"primaryKey"`
	ConversationID string         `gorm:"not null;index:idx_messages_conversation_created"`
	UserID         string         `gorm:"not null"`
	Role           string         `gorm:"not null;index"`
	Content        string         `gorm:"type:text;not null"`
	Metadata       datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_messages_conversation_created"`
}

type ImageModel struct {
	ID         string `gorm:"primaryKey"`
	MessageID  string `gorm:"not null;index"`
	StorageKey string
	URL        string    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

func conversationToModel(c domain.Conversation) ConversationModel {
	return ConversationModel{
		ID:            c.ID,
		UserID:        c.UserID,
		Title:         c.Title,
		LastMessageAt: c.LastMessageAt,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	return domain.Conversation{
		ID:            m.ID,
		UserID:        m.UserID,
		Title:         m.Title,
		LastMessageAt: m.LastMessageAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	raw, _ := json.Marshal(msg.Metadata)
	return MessageModel{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		UserID:         msg.UserID,
		Role:           string(msg.Role),
		Content:        msg.Content,
		Metadata:       datatypes.JSON(raw),
		CreatedAt:      msg.CreatedAt,
	}
}

// messageFromModel converts a row back to the domain shape, folding legacy
// metadata spellings into the canonical schema on the way out.
func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		UserID:         m.UserID,
		Role:           domain.Role(m.Role),
		Content:        m.Content,
		Metadata:       domain.NormalizeMetadata([]byte(m.Metadata)),
		CreatedAt:      m.CreatedAt,
	}
}

func imageToModel(img domain.ImageAttachment) ImageModel {
	return ImageModel{
		ID:         img.ID,
		MessageID:  img.MessageID,
		StorageKey: img.StorageKey,
		URL:        img.URL,
		CreatedAt:  img.CreatedAt,
	}
}

func imageFromModel(m ImageModel) domain.ImageAttachment {
	return domain.ImageAttachment{
		ID:         m.ID,
		MessageID:  m.MessageID,
		StorageKey: m.StorageKey,
		URL:        m.URL,
		CreatedAt:  m.CreatedAt,
	}
}
