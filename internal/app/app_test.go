package app

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"testing"
	"time"

	"memochat/pkg/ai"
	"memochat/pkg/chunker"
	"memochat/pkg/domain"
	"memochat/pkg/store"
	"memochat/pkg/vector"
)

// hashEmbedder embeds text as a hashed bag of words. Identical texts map to
// identical vectors, overlapping texts to similar ones, which is enough for
// exercising search behavior without a model.
type hashEmbedder struct{}

func (hashEmbedder) EmbedText(_ context.Context, text, _ string) ([]float32, error) {
	const dims = 64
	vec := make([]float32, dims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[h.Sum32()%dims]++
	}
	return vec, nil
}

// scriptedModel replays a fixed sequence of replies and errors.
type scriptedModel struct {
	mu      sync.Mutex
	name    string
	replies []string
	errs    []error
	calls   int
}

func (m *scriptedModel) Name() string { return m.name }

func (m *scriptedModel) Invoke(_ context.Context, _ []ai.ChatMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	var reply string
	var err error
	if i < len(m.replies) {
		reply = m.replies[i]
	}
	if i < len(m.errs) {
		err = m.errs[i]
	}
	return reply, err
}

func (m *scriptedModel) invocations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type testFixture struct {
	app    *App
	store  *store.MemoryStore
	vector *vector.MemoryStore
	now    time.Time
}

func newTestApp(t *testing.T, primary, fallback ai.ChatModel) *testFixture {
	t.Helper()
	relational := store.NewMemoryStore()
	index := vector.NewMemoryStore(hashEmbedder{})
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	a, err := New(Config{
		Store:          relational,
		Vector:         index,
		Primary:        primary,
		Fallback:       fallback,
		RetryBaseDelay: time.Millisecond,
		Clock:          func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testFixture{app: a, store: relational, vector: index, now: now}
}

func TestProcessMessageFullExchange(t *testing.T) {
	primary := &scriptedModel{name: "primary", replies: []string{"Hi there, nice to meet you."}}
	fx := newTestApp(t, primary, nil)
	ctx := context.Background()

	answer, err := fx.app.ProcessMessage(ctx, ChatRequest{
		UserID:  "user-1",
		Content: "hello",
	})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if answer.ResponseText != "Hi there, nice to meet you." {
		t.Fatalf("unexpected reply %q", answer.ResponseText)
	}
	if answer.UsedFallback {
		t.Fatal("primary success should not be marked as fallback")
	}
	if answer.ConversationID == "" || answer.MessageID == "" {
		t.Fatal("answer must carry conversation and message identity")
	}

	msgs, err := fx.app.ListMessages(ctx, "user-1", answer.ConversationID, 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 stored messages, got %d", len(msgs))
	}
	if msgs[0].Role != domain.RoleUser || msgs[1].Role != domain.RoleAssistant {
		t.Fatalf("message roles out of order: %s, %s", msgs[0].Role, msgs[1].Role)
	}
	// Both turns must be indexed: one user document, one assistant document.
	if got := fx.vector.Len(); got != 2 {
		t.Fatalf("expected 2 vector documents, got %d", got)
	}
}

func TestProcessMessageAssistantTimestampAfterUser(t *testing.T) {
	primary := &scriptedModel{name: "primary", replies: []string{"done"}}
	fx := newTestApp(t, primary, nil)

	answer, err := fx.app.ProcessMessage(context.Background(), ChatRequest{
		UserID:  "user-1",
		Content: "fast question",
	})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	msgs, err := fx.app.ListMessages(context.Background(), "user-1", answer.ConversationID, 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	userAt := msgs[0].CreatedAt
	assistantAt := msgs[1].CreatedAt
	// The clock is frozen, so only the ordering floor separates the rows.
	if !assistantAt.After(userAt) {
		t.Fatalf("assistant timestamp %v not after user %v", assistantAt, userAt)
	}
	if got := assistantAt.Sub(userAt); got != time.Millisecond {
		t.Fatalf("expected 1ms floor, got %v", got)
	}
}

func TestProcessMessageIdempotentResend(t *testing.T) {
	primary := &scriptedModel{name: "primary", replies: []string{"first answer", "second answer"}}
	fx := newTestApp(t, primary, nil)
	ctx := context.Background()

	first, err := fx.app.ProcessMessage(ctx, ChatRequest{
		UserID:    "user-1",
		MessageID: "msg-client-1",
		Content:   "tell me about tides",
	})
	if err != nil {
		t.Fatalf("first ProcessMessage: %v", err)
	}
	second, err := fx.app.ProcessMessage(ctx, ChatRequest{
		UserID:         "user-1",
		ConversationID: first.ConversationID,
		MessageID:      "msg-client-1",
		Content:        "tell me about tides",
	})
	if err != nil {
		t.Fatalf("second ProcessMessage: %v", err)
	}
	if second.ConversationID != first.ConversationID {
		t.Fatal("resend must land in the same conversation")
	}

	msgs, err := fx.app.ListMessages(ctx, "user-1", first.ConversationID, 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	userRows := 0
	assistantRows := 0
	for _, msg := range msgs {
		switch msg.Role {
		case domain.RoleUser:
			userRows++
		case domain.RoleAssistant:
			assistantRows++
		}
	}
	if userRows != 1 {
		t.Fatalf("resend duplicated the user row: got %d", userRows)
	}
	if assistantRows != 2 {
		t.Fatalf("expected 2 assistant rows, got %d", assistantRows)
	}
}

func TestProcessMessageChunkedAssistantReply(t *testing.T) {
	var reply strings.Builder
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&reply, "Paragraph %d explains one more aspect of the answer in enough words to matter. ", i)
	}
	primary := &scriptedModel{name: "primary", replies: []string{reply.String()}}
	fx := newTestApp(t, primary, nil)
	ctx := context.Background()

	answer, err := fx.app.ProcessMessage(ctx, ChatRequest{UserID: "user-1", Content: "explain everything"})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	docs, err := fx.vector.ListByMessage(ctx, answer.MessageID)
	if err != nil {
		t.Fatalf("ListByMessage: %v", err)
	}
	if len(docs) < 2 {
		t.Fatalf("long reply should be chunked, got %d documents", len(docs))
	}
	for i, doc := range docs {
		if doc.ChunkIndex != i {
			t.Fatalf("chunk %d has index %d", i, doc.ChunkIndex)
		}
		if doc.ID == answer.MessageID {
			t.Fatal("multi-chunk documents must not reuse the message ID")
		}
	}

	msgs, err := fx.app.ListMessages(ctx, "user-1", answer.ConversationID, 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	var assistant domain.Message
	for _, msg := range msgs {
		if msg.Role == domain.RoleAssistant {
			assistant = msg
		}
	}
	md := assistant.Metadata
	if !md.Chunked || md.VectorChunkCount != len(docs) || len(md.VectorChunkIDs) != len(docs) {
		t.Fatalf("metadata does not reflect chunking: %+v", md)
	}

	// The recorded IDs must round-trip through Fetch.
	fetched, err := fx.vector.Fetch(ctx, md.VectorChunkIDs)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(fetched) != len(docs) {
		t.Fatalf("fetched %d of %d chunk documents", len(fetched), len(docs))
	}
}

func TestProcessMessageShortReplyChunkIDEqualsMessageID(t *testing.T) {
	primary := &scriptedModel{name: "primary", replies: []string{"short reply"}}
	fx := newTestApp(t, primary, nil)
	ctx := context.Background()

	answer, err := fx.app.ProcessMessage(ctx, ChatRequest{UserID: "user-1", Content: "quick one"})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	docs, err := fx.vector.ListByMessage(ctx, answer.MessageID)
	if err != nil {
		t.Fatalf("ListByMessage: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected a single document, got %d", len(docs))
	}
	if docs[0].ID != answer.MessageID {
		t.Fatalf("single chunk ID %q must equal message ID %q", docs[0].ID, answer.MessageID)
	}
}

func TestProcessMessageModelFailureCarriesLastKnownGood(t *testing.T) {
	primary := &scriptedModel{
		name:    "primary",
		replies: []string{"the moon causes tides", "", "", ""},
		errs:    []error{nil, errors.New("boom"), errors.New("boom"), errors.New("boom")},
	}
	fx := newTestApp(t, primary, nil)
	ctx := context.Background()

	first, err := fx.app.ProcessMessage(ctx, ChatRequest{UserID: "user-1", Content: "what causes tides?"})
	if err != nil {
		t.Fatalf("first ProcessMessage: %v", err)
	}

	_, err = fx.app.ProcessMessage(ctx, ChatRequest{
		UserID:         "user-1",
		ConversationID: first.ConversationID,
		Content:        "and the sun?",
	})
	if err == nil {
		t.Fatal("expected pipeline failure")
	}
	var pErr *PipelineError
	if !errors.As(err, &pErr) {
		t.Fatalf("expected *PipelineError, got %T", err)
	}
	if pErr.Step != StepModel {
		t.Fatalf("failure attributed to step %q", pErr.Step)
	}
	if pErr.Fallback != "the moon causes tides" {
		t.Fatalf("expected last stored reply as fallback, got %q", pErr.Fallback)
	}
}

func TestConversationOwnershipEnforced(t *testing.T) {
	primary := &scriptedModel{name: "primary", replies: []string{"ok"}}
	fx := newTestApp(t, primary, nil)
	ctx := context.Background()

	answer, err := fx.app.ProcessMessage(ctx, ChatRequest{UserID: "user-1", Content: "mine"})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	if _, err := fx.app.ListMessages(ctx, "user-2", answer.ConversationID, 10); !errors.Is(err, ErrConversationForbidden) {
		t.Fatalf("expected ErrConversationForbidden, got %v", err)
	}
	_, err = fx.app.ProcessMessage(ctx, ChatRequest{
		UserID:         "user-2",
		ConversationID: answer.ConversationID,
		Content:        "hijack",
	})
	if !errors.Is(err, ErrConversationForbidden) {
		t.Fatalf("expected ErrConversationForbidden, got %v", err)
	}
}

func TestDeleteConversationClearsBothStores(t *testing.T) {
	primary := &scriptedModel{name: "primary", replies: []string{"ok"}}
	fx := newTestApp(t, primary, nil)
	ctx := context.Background()

	answer, err := fx.app.ProcessMessage(ctx, ChatRequest{UserID: "user-1", Content: "remember this"})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if err := fx.app.DeleteConversation(ctx, "user-1", answer.ConversationID); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if _, err := fx.app.ListMessages(ctx, "user-1", answer.ConversationID, 10); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
	if got := fx.vector.Len(); got != 0 {
		t.Fatalf("vector documents left behind after delete: %d", got)
	}
}

func TestRepairChunkLinks(t *testing.T) {
	primary := &scriptedModel{name: "primary", replies: []string{"ok"}}
	fx := newTestApp(t, primary, nil)
	ctx := context.Background()

	conversation := domain.Conversation{ID: "conv-1", UserID: "user-1", CreatedAt: fx.now, UpdatedAt: fx.now}
	if err := fx.store.CreateConversation(ctx, conversation); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	msg := domain.Message{
		ID:             "assist-1",
		ConversationID: "conv-1",
		UserID:         "user-1",
		Role:           domain.RoleAssistant,
		Content:        "orphaned reply",
		Metadata:       domain.NewMetadata(0),
		CreatedAt:      fx.now,
	}
	if err := fx.store.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	docs := []vector.Document{
		{ID: "chunk-b", Text: "part two", Role: domain.RoleAssistant, ConversationID: "conv-1", MessageID: "assist-1", ChunkIndex: 1, Timestamp: fx.now},
		{ID: "chunk-a", Text: "part one", Role: domain.RoleAssistant, ConversationID: "conv-1", MessageID: "assist-1", ChunkIndex: 0, Timestamp: fx.now},
	}
	if err := fx.vector.AddDocuments(ctx, docs); err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}

	repaired, err := fx.app.RepairChunkLinks(ctx, "conv-1")
	if err != nil {
		t.Fatalf("RepairChunkLinks: %v", err)
	}
	if repaired != 1 {
		t.Fatalf("expected 1 repaired message, got %d", repaired)
	}
	msgs, err := fx.store.ListConversationMessages(ctx, "conv-1", 10)
	if err != nil {
		t.Fatalf("ListConversationMessages: %v", err)
	}
	md := msgs[0].Metadata
	if len(md.VectorChunkIDs) != 2 || md.VectorChunkIDs[0] != "chunk-a" || md.VectorChunkIDs[1] != "chunk-b" {
		t.Fatalf("chunk links not restored in order: %v", md.VectorChunkIDs)
	}
}

func TestNewRejectsMissingCollaborators(t *testing.T) {
	primary := &scriptedModel{name: "primary"}
	index := vector.NewMemoryStore(hashEmbedder{})
	relational := store.NewMemoryStore()

	cases := []struct {
		name string
		cfg  Config
	}{
		{"no store", Config{Vector: index, Primary: primary}},
		{"no vector", Config{Store: relational, Primary: primary}},
		{"no model", Config{Store: relational, Vector: index}},
		{"bad template", Config{Store: relational, Vector: index, Primary: primary, TemplateVersion: "v3"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg); err == nil {
				t.Fatal("expected construction error")
			}
		})
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	primary := &scriptedModel{name: "primary"}
	a, err := New(Config{
		Store:   store.NewMemoryStore(),
		Vector:  vector.NewMemoryStore(hashEmbedder{}),
		Primary: primary,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.topK != defaultTopK || a.contextCap != defaultContextCap || a.maxRetries != defaultMaxRetries {
		t.Fatalf("defaults not applied: topK=%d cap=%d retries=%d", a.topK, a.contextCap, a.maxRetries)
	}
	if a.templateVersion != TemplateVersionCurrent {
		t.Fatalf("expected current template, got %q", a.templateVersion)
	}
	if a.chunker.Overlap() != chunker.DefaultOverlap {
		t.Fatalf("default chunker not applied")
	}
}
