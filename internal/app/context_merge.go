package app

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"memochat/pkg/domain"
	"memochat/pkg/vector"
)

const fingerprintLength = 100

// mergeContext assembles the combined context for one query: semantic hits
// from the vector index interleaved across both roles, plus the recent
// relational history, sorted chronologically and deduplicated. Semantic
// search failures degrade to an empty contribution; the pipeline never
// fails here.
func (a *App) mergeContext(ctx context.Context, userID, query, conversationID string, recent []domain.Message) []domain.CombinedContext {
	semantic := a.searchBothRoles(ctx, userID, query, conversationID)
	semantic = regroupAssistantChunks(semantic)

	merged := make([]domain.CombinedContext, 0, len(semantic)+len(recent))
	for _, doc := range semantic {
		if strings.TrimSpace(doc.Text) == "" {
			continue
		}
		merged = append(merged, domain.CombinedContext{
			Source:         domain.ContextSourceVector,
			Role:           doc.Role,
			Content:        doc.Text,
			Timestamp:      doc.Timestamp,
			ConversationID: doc.ConversationID,
		})
	}
	for _, msg := range recent {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		merged = append(merged, domain.CombinedContext{
			Source:         domain.ContextSourceDatabase,
			Role:           msg.Role,
			Content:        msg.Content,
			Timestamp:      msg.CreatedAt,
			ConversationID: msg.ConversationID,
		})
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	return dedupeContext(merged)
}

// searchBothRoles runs one role-filtered search per role in parallel and
// interleaves the two result lists, alternating user and assistant hits,
// capped at the context limit. Both searches are scoped to the requesting
// user but carry no conversation ID: recall spans that user's whole
// history and never anyone else's.
func (a *App) searchBothRoles(ctx context.Context, userID, query, conversationID string) []vector.Document {
	var userHits, assistantHits []vector.SearchResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		results, err := a.vector.Search(gctx, query, a.topK, vector.Filter{UserID: userID, Role: domain.RoleUser})
		if err != nil {
			slog.Warn("semantic search failed for user role", "conversationId", conversationID, "err", err)
			return nil
		}
		userHits = results
		return nil
	})
	g.Go(func() error {
		results, err := a.vector.Search(gctx, query, a.topK, vector.Filter{UserID: userID, Role: domain.RoleAssistant})
		if err != nil {
			slog.Warn("semantic search failed for assistant role", "conversationId", conversationID, "err", err)
			return nil
		}
		assistantHits = results
		return nil
	})
	g.Wait()

	interleaved := make([]vector.Document, 0, len(userHits)+len(assistantHits))
	for i := 0; i < len(userHits) || i < len(assistantHits); i++ {
		if i < len(userHits) {
			interleaved = append(interleaved, userHits[i].Document)
		}
		if i < len(assistantHits) {
			interleaved = append(interleaved, assistantHits[i].Document)
		}
	}
	if len(interleaved) > a.contextCap {
		interleaved = interleaved[:a.contextCap]
	}
	return interleaved
}

// regroupAssistantChunks rejoins chunked assistant documents that share a
// parent message, ordered by chunk index and joined with single spaces, so
// the prompt sees whole replies instead of fragments. Order of first
// appearance is preserved; user documents pass through untouched.
func regroupAssistantChunks(docs []vector.Document) []vector.Document {
	grouped := make(map[string][]vector.Document)
	order := make([]vector.Document, 0, len(docs))
	for _, doc := range docs {
		if doc.Role != domain.RoleAssistant || doc.MessageID == "" {
			order = append(order, doc)
			continue
		}
		if _, seen := grouped[doc.MessageID]; !seen {
			placeholder := doc
			placeholder.Text = ""
			order = append(order, placeholder)
		}
		grouped[doc.MessageID] = append(grouped[doc.MessageID], doc)
	}

	out := make([]vector.Document, 0, len(order))
	for _, doc := range order {
		if doc.Role != domain.RoleAssistant || doc.MessageID == "" {
			out = append(out, doc)
			continue
		}
		chunks := grouped[doc.MessageID]
		if chunks == nil {
			continue
		}
		delete(grouped, doc.MessageID)
		sort.SliceStable(chunks, func(i, j int) bool {
			return chunks[i].ChunkIndex < chunks[j].ChunkIndex
		})
		parts := make([]string, 0, len(chunks))
		for _, chunk := range chunks {
			parts = append(parts, chunk.Text)
		}
		joined := chunks[0]
		joined.Text = strings.Join(parts, " ")
		out = append(out, joined)
	}
	return out
}

// dedupeContext drops entries whose fingerprint was already seen. The
// fingerprint is the role plus the first characters of the normalized
// content, so near-identical vector and database copies of the same turn
// collapse to the earliest occurrence.
func dedupeContext(entries []domain.CombinedContext) []domain.CombinedContext {
	seen := make(map[string]struct{}, len(entries))
	out := make([]domain.CombinedContext, 0, len(entries))
	for _, entry := range entries {
		key := string(entry.Role) + ":" + contextFingerprint(entry.Content)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, entry)
	}
	return out
}

func contextFingerprint(content string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(content), " "))
	if runes := []rune(normalized); len(runes) > fingerprintLength {
		normalized = string(runes[:fingerprintLength])
	}
	return normalized
}
