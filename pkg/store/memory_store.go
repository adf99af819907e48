package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"memochat/pkg/domain"
)

// MemoryStore keeps conversations and messages in-process. It backs tests
// and local development.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]domain.Conversation
	messages      map[string][]domain.Message // keyed by conversation ID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]domain.Conversation),
		messages:      make(map[string][]domain.Message),
	}
}

func (m *MemoryStore) CreateConversation(_ context.Context, conversation domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.conversations[conversation.ID]; exists {
		return fmt.Errorf("conversation %s already exists", conversation.ID)
	}
	m.conversations[conversation.ID] = conversation
	return nil
}

func (m *MemoryStore) GetConversation(_ context.Context, id string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conversation, ok := m.conversations[id]
	return conversation, ok, nil
}

func (m *MemoryStore) ListConversationsByUser(_ context.Context, userID string, limit int) ([]domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var items []domain.Conversation
	for _, conversation := range m.conversations {
		if conversation.UserID == userID {
			items = append(items, conversation)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *MemoryStore) TouchConversation(_ context.Context, id string, lastMessageAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conversation, ok := m.conversations[id]
	if !ok {
		return fmt.Errorf("conversation %s not found", id)
	}
	conversation.UpdatedAt = time.Now().UTC()
	if !lastMessageAt.IsZero() {
		at := lastMessageAt.UTC()
		conversation.LastMessageAt = &at
	}
	m.conversations[id] = conversation
	return nil
}

func (m *MemoryStore) DeleteConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conversations, id)
	delete(m.messages, id)
	return nil
}

func (m *MemoryStore) HasMessage(_ context.Context, conversationID string, role domain.Role, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, msg := range m.messages[conversationID] {
		if msg.ID == id && msg.Role == role {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) SaveExchange(_ context.Context, userMsg, assistantMsg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	convID := userMsg.ConversationID
	m.messages[convID] = append(m.messages[convID], userMsg, assistantMsg)
	return nil
}

func (m *MemoryStore) SaveMessage(_ context.Context, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)
	return nil
}

func (m *MemoryStore) ListConversationMessages(_ context.Context, conversationID string, limit int) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := append([]domain.Message{}, m.messages[conversationID]...)
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (m *MemoryStore) LatestAssistantMessage(_ context.Context, conversationID string) (domain.Message, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest domain.Message
	found := false
	for _, msg := range m.messages[conversationID] {
		if msg.Role != domain.RoleAssistant {
			continue
		}
		if !found || msg.CreatedAt.After(latest.CreatedAt) {
			latest = msg
			found = true
		}
	}
	return latest, found, nil
}

func (m *MemoryStore) ListMessagesMissingChunkLinks(_ context.Context, conversationID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var msgs []domain.Message
	for _, msg := range m.messages[conversationID] {
		if msg.Role == domain.RoleAssistant && len(msg.Metadata.VectorChunkIDs) == 0 {
			msgs = append(msgs, msg)
		}
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	return msgs, nil
}

func (m *MemoryStore) UpdateMessageMetadata(_ context.Context, id string, md domain.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for convID, msgs := range m.messages {
		for i := range msgs {
			if msgs[i].ID == id {
				msgs[i].Metadata = md
				m.messages[convID] = msgs
				return nil
			}
		}
	}
	return fmt.Errorf("message %s not found", id)
}
