package vector

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store used by tests and local development.
// It embeds documents through the same Embedder interface as the real
// backends and ranks by cosine similarity.
type MemoryStore struct {
	mu       sync.RWMutex
	docs     map[string]Document
	vectors  map[string][]float32
	embedder Embedder
}

// NewMemoryStore builds an empty in-memory index.
func NewMemoryStore(embedder Embedder) *MemoryStore {
	return &MemoryStore{
		docs:     make(map[string]Document),
		vectors:  make(map[string][]float32),
		embedder: embedder,
	}
}

func (s *MemoryStore) Search(ctx context.Context, query string, topK int, filter Filter) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	queryVec, err := s.embedder.EmbedText(ctx, query, taskQuery)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var results []SearchResult
	for id, doc := range s.docs {
		if filter.UserID != "" && doc.UserID != filter.UserID {
			continue
		}
		if filter.ConversationID != "" && doc.ConversationID != filter.ConversationID {
			continue
		}
		if filter.Role != "" && doc.Role != filter.Role {
			continue
		}
		results = append(results, SearchResult{
			Document: doc,
			Score:    cosineSimilarity(queryVec, s.vectors[id]),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, doc Document) error {
	return s.AddDocuments(ctx, []Document{doc})
}

func (s *MemoryStore) AddDocuments(ctx context.Context, docs []Document) error {
	for _, doc := range docs {
		if strings.TrimSpace(doc.Text) == "" {
			continue
		}
		vec, err := s.embedder.EmbedText(ctx, doc.Text, taskDocument)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.docs[doc.ID] = doc
		s.vectors[doc.ID] = vec
		s.mu.Unlock()
	}
	return nil
}

func (s *MemoryStore) Fetch(_ context.Context, ids []string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var docs []Document
	for _, id := range ids {
		if doc, ok := s.docs[id]; ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (s *MemoryStore) ListByMessage(_ context.Context, messageID string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var docs []Document
	for _, doc := range s.docs {
		if doc.MessageID == messageID {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ChunkIndex < docs[j].ChunkIndex })
	return docs, nil
}

func (s *MemoryStore) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.docs, id)
		delete(s.vectors, id)
	}
	return nil
}

func (s *MemoryStore) DeleteByConversation(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, doc := range s.docs {
		if doc.ConversationID == conversationID {
			delete(s.docs, id)
			delete(s.vectors, id)
		}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// Len reports the number of stored documents.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
