package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"memochat/internal/util"
	"memochat/pkg/domain"
	"memochat/pkg/vector"
)

// persistExchange records one completed exchange. The relational write is
// the only step allowed to fail the pipeline; everything after it, vector
// indexing, chunk-link metadata, the answer cache, and event publishing,
// is best-effort and reconciled later.
func (a *App) persistExchange(ctx context.Context, conversation domain.Conversation, req ChatRequest, attachments []domain.ImageAttachment, userTime time.Time, result invokeResult) (domain.Answer, error) {
	respondedAt := a.clock().UTC()
	// The assistant row must sort strictly after the user row even when the
	// model answered within the same clock tick.
	assistantTime := respondedAt
	if floor := userTime.Add(time.Millisecond); assistantTime.Before(floor) {
		assistantTime = floor
	}

	userMsg := domain.Message{
		ID:             req.MessageID,
		ConversationID: conversation.ID,
		UserID:         req.UserID,
		Role:           domain.RoleUser,
		Content:        req.Content,
		Images:         attachments,
		Metadata:       domain.NewMetadata(len(attachments)),
		CreatedAt:      userTime.UTC(),
	}
	assistantMsg := domain.Message{
		ID:             util.NewID(),
		ConversationID: conversation.ID,
		UserID:         req.UserID,
		Role:           domain.RoleAssistant,
		Content:        result.text,
		Metadata:       domain.NewMetadata(0),
		CreatedAt:      assistantTime,
	}

	alreadyStored, err := a.store.HasMessage(ctx, conversation.ID, domain.RoleUser, userMsg.ID)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("check existing message: %w", err)
	}
	if alreadyStored {
		// Idempotent retry of the same client message: keep the existing
		// user row and only add the fresh assistant side.
		if err := a.store.SaveMessage(ctx, assistantMsg); err != nil {
			return domain.Answer{}, fmt.Errorf("save assistant message: %w", err)
		}
	} else {
		if err := a.store.SaveExchange(ctx, userMsg, assistantMsg); err != nil {
			return domain.Answer{}, fmt.Errorf("save exchange: %w", err)
		}
	}
	if err := a.store.TouchConversation(ctx, conversation.ID, assistantTime); err != nil {
		slog.Warn("touch conversation failed", "conversationId", conversation.ID, "err", err)
	}

	if !alreadyStored {
		a.indexUserMessage(ctx, userMsg)
	}
	a.indexAssistantMessage(ctx, assistantMsg)

	if a.answers != nil {
		if err := a.answers.SetLastAnswer(ctx, conversation.ID, result.text); err != nil {
			slog.Warn("answer cache write failed", "conversationId", conversation.ID, "err", err)
		}
	}
	a.publishExchangeEvent(ctx, conversation, userMsg, assistantMsg, result.usedFallback)

	return domain.Answer{
		ConversationID: conversation.ID,
		MessageID:      assistantMsg.ID,
		ResponseText:   result.text,
		UsedFallback:   result.usedFallback,
		RespondedAt:    assistantTime,
	}, nil
}

// indexUserMessage writes the user turn as one vector document keyed by the
// message ID, unless the duplicate detector recognizes a semantically
// identical earlier message in the same conversation.
func (a *App) indexUserMessage(ctx context.Context, msg domain.Message) {
	if a.isDuplicateUserMessage(ctx, msg) {
		slog.Info("skipping vector index for duplicate user message",
			"conversationId", msg.ConversationID, "messageId", msg.ID)
		return
	}
	doc := vector.Document{
		ID:             msg.ID,
		Text:           msg.Content,
		Role:           domain.RoleUser,
		UserID:         msg.UserID,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		HasImages:      len(msg.Images) > 0,
		Timestamp:      msg.CreatedAt,
	}
	if err := a.vector.Upsert(ctx, doc); err != nil {
		slog.Error("vector index failed for user message",
			"conversationId", msg.ConversationID, "messageId", msg.ID, "err", err)
	}
}

// indexAssistantMessage chunks long replies, writes the documents, then
// records the resulting chunk IDs back onto the message metadata. A short
// reply stays a single document whose ID equals the message ID, so the
// linkage is self-evident even when the metadata update is lost.
func (a *App) indexAssistantMessage(ctx context.Context, msg domain.Message) {
	chunks := a.chunker.Split(msg.Content)
	if len(chunks) == 0 {
		return
	}
	docs := make([]vector.Document, 0, len(chunks))
	ids := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		id := msg.ID
		if len(chunks) > 1 {
			id = util.NewID()
		}
		ids = append(ids, id)
		docs = append(docs, vector.Document{
			ID:             id,
			Text:           chunk,
			Role:           domain.RoleAssistant,
			UserID:         msg.UserID,
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			ChunkIndex:     i,
			Timestamp:      msg.CreatedAt,
		})
	}
	if err := a.vector.AddDocuments(ctx, docs); err != nil {
		slog.Error("vector index failed for assistant message",
			"conversationId", msg.ConversationID, "messageId", msg.ID, "err", err)
		return
	}
	if err := a.store.UpdateMessageMetadata(ctx, msg.ID, msg.Metadata.WithChunks(ids)); err != nil {
		slog.Error("chunk link metadata update failed",
			"conversationId", msg.ConversationID, "messageId", msg.ID, "err", err)
	}
}

type exchangeEvent struct {
	ConversationID     string    `json:"conversationId"`
	UserMessageID      string    `json:"userMessageId"`
	AssistantMessageID string    `json:"assistantMessageId"`
	UserID             string    `json:"userId"`
	ImageCount         int       `json:"imageCount"`
	UsedFallback       bool      `json:"usedFallback"`
	RecordedAt         time.Time `json:"recordedAt"`
}

func (a *App) publishExchangeEvent(ctx context.Context, conversation domain.Conversation, userMsg, assistantMsg domain.Message, usedFallback bool) {
	if a.events == nil {
		return
	}
	event := exchangeEvent{
		ConversationID:     conversation.ID,
		UserMessageID:      userMsg.ID,
		AssistantMessageID: assistantMsg.ID,
		UserID:             userMsg.UserID,
		ImageCount:         len(userMsg.Images),
		UsedFallback:       usedFallback,
		RecordedAt:         a.clock().UTC(),
	}
	if err := a.events.Publish(ctx, "exchange.recorded", event); err != nil {
		slog.Warn("exchange event publish failed", "conversationId", conversation.ID, "err", err)
	}
}
