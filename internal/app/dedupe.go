package app

import (
	"context"
	"log/slog"
	"strings"

	"memochat/pkg/domain"
	"memochat/pkg/vector"
)

const (
	duplicateSearchTopK     = 3
	duplicateScoreThreshold = 0.95
	duplicateJaccardFloor   = 0.90
)

// isDuplicateUserMessage checks whether the same user message is already
// indexed in this conversation, so resends do not pile up near-identical
// vectors. A candidate counts as a duplicate only when its image flag
// matches and either the similarity score clears the threshold, the
// normalized text is identical, or the token Jaccard overlap is near-total.
// Detection fails open: any search error means not a duplicate.
func (a *App) isDuplicateUserMessage(ctx context.Context, msg domain.Message) bool {
	results, err := a.vector.Search(ctx, msg.Content, duplicateSearchTopK, vector.Filter{
		ConversationID: msg.ConversationID,
		Role:           domain.RoleUser,
	})
	if err != nil {
		slog.Warn("duplicate detection search failed",
			"conversationId", msg.ConversationID, "err", err)
		return false
	}
	hasImages := len(msg.Images) > 0
	normalized := normalizeForCompare(msg.Content)
	for _, result := range results {
		if result.Document.ID == msg.ID {
			continue
		}
		if result.Document.HasImages != hasImages {
			continue
		}
		if result.Score >= duplicateScoreThreshold {
			return true
		}
		candidate := normalizeForCompare(result.Document.Text)
		if candidate == normalized {
			return true
		}
		if jaccardSimilarity(normalized, candidate) >= duplicateJaccardFloor {
			return true
		}
	}
	return false
}

func normalizeForCompare(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// jaccardSimilarity is the token-set overlap of two normalized strings.
func jaccardSimilarity(a, b string) float64 {
	tokensA := strings.Fields(a)
	tokensB := strings.Fields(b)
	if len(tokensA) == 0 && len(tokensB) == 0 {
		return 1
	}
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(tokensA))
	for _, t := range tokensA {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(tokensB))
	for _, t := range tokensB {
		setB[t] = struct{}{}
	}
	intersection := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 1
	}
	return float64(intersection) / float64(union)
}
