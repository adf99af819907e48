package app

import (
	"context"
	"testing"
	"time"

	"memochat/pkg/domain"
	"memochat/pkg/store"
	"memochat/pkg/vector"
)

func newDedupeApp(t *testing.T, index vector.Store) *App {
	t.Helper()
	a, err := New(Config{
		Store:   store.NewMemoryStore(),
		Vector:  index,
		Primary: &scriptedModel{name: "primary"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestIsDuplicateUserMessage(t *testing.T) {
	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	seed := func(t *testing.T, docs ...vector.Document) *App {
		index := vector.NewMemoryStore(hashEmbedder{})
		if err := index.AddDocuments(context.Background(), docs); err != nil {
			t.Fatalf("AddDocuments: %v", err)
		}
		return newDedupeApp(t, index)
	}
	msg := func(content string, images int) domain.Message {
		m := domain.Message{
			ID:             "new-msg",
			ConversationID: "c1",
			Role:           domain.RoleUser,
			Content:        content,
			CreatedAt:      base,
		}
		for i := 0; i < images; i++ {
			m.Images = append(m.Images, domain.ImageAttachment{ID: "img"})
		}
		return m
	}

	t.Run("exact text match is a duplicate", func(t *testing.T) {
		a := seed(t, vector.Document{
			ID: "old", Text: "What Is The Weather Today", Role: domain.RoleUser,
			ConversationID: "c1", MessageID: "old", Timestamp: base,
		})
		if !a.isDuplicateUserMessage(context.Background(), msg("what is the   weather today", 0)) {
			t.Fatal("normalized identical text must count as duplicate")
		}
	})

	t.Run("image flag mismatch is never a duplicate", func(t *testing.T) {
		a := seed(t, vector.Document{
			ID: "old", Text: "what is the weather today", Role: domain.RoleUser,
			ConversationID: "c1", MessageID: "old", HasImages: false, Timestamp: base,
		})
		if a.isDuplicateUserMessage(context.Background(), msg("what is the weather today", 1)) {
			t.Fatal("same text with images attached is a different message")
		}
	})

	t.Run("other conversation does not count", func(t *testing.T) {
		a := seed(t, vector.Document{
			ID: "old", Text: "what is the weather today", Role: domain.RoleUser,
			ConversationID: "c2", MessageID: "old", Timestamp: base,
		})
		if a.isDuplicateUserMessage(context.Background(), msg("what is the weather today", 0)) {
			t.Fatal("duplicate detection is scoped to one conversation")
		}
	})

	t.Run("near-total token overlap is a duplicate", func(t *testing.T) {
		text := "please summarize chapter one two three four five six seven eight nine ten"
		a := seed(t, vector.Document{
			ID: "old", Text: text, Role: domain.RoleUser,
			ConversationID: "c1", MessageID: "old", Timestamp: base,
		})
		resent := text + " now"
		if !a.isDuplicateUserMessage(context.Background(), msg(resent, 0)) {
			t.Fatal("near-identical resend must count as duplicate")
		}
	})

	t.Run("unrelated text is not a duplicate", func(t *testing.T) {
		a := seed(t, vector.Document{
			ID: "old", Text: "recipe for sourdough bread", Role: domain.RoleUser,
			ConversationID: "c1", MessageID: "old", Timestamp: base,
		})
		if a.isDuplicateUserMessage(context.Background(), msg("explain general relativity", 0)) {
			t.Fatal("unrelated message flagged as duplicate")
		}
	})

	t.Run("search failure fails open", func(t *testing.T) {
		a := newDedupeApp(t, failingVectorStore{})
		if a.isDuplicateUserMessage(context.Background(), msg("anything at all", 0)) {
			t.Fatal("detection must fail open on search errors")
		}
	})
}

func TestJaccardSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "a b c", "a b c", 1},
		{"disjoint", "a b", "c d", 0},
		{"both empty", "", "", 1},
		{"one empty", "a", "", 0},
		{"half overlap", "a b c d", "c d e f", 1.0 / 3.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := jaccardSimilarity(tc.a, tc.b)
			if diff := got - tc.want; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("jaccardSimilarity(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}
