package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"memochat/internal/util"
	"memochat/pkg/ai"
	"memochat/pkg/cache"
	"memochat/pkg/chunker"
	"memochat/pkg/domain"
	"memochat/pkg/queue"
	"memochat/pkg/storage"
	"memochat/pkg/store"
	"memochat/pkg/vector"
)

const (
	defaultTopK         = 4
	defaultContextCap   = 12
	defaultHistoryLimit = 10
	defaultMaxRetries   = 3
	defaultRetryDelay   = 2 * time.Second
)

// Config holds runtime configuration for the core application.
type Config struct {
	Store    store.Store
	Vector   vector.Store
	Primary  ai.ChatModel
	Fallback ai.ChatModel

	// optional collaborators; nil disables the capability
	Images  storage.ImageStore
	Events  queue.Publisher
	Answers cache.AnswerCache

	TemplateVersion TemplateVersion
	TopK            int
	ContextCap      int
	HistoryLimit    int
	MaxRetries      int
	RetryBaseDelay  time.Duration
	Chunker         *chunker.Chunker

	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

// App is the context-assembly and model-invocation pipeline wired together
// with its two stores.
type App struct {
	store    store.Store
	vector   vector.Store
	primary  ai.ChatModel
	fallback ai.ChatModel
	images   storage.ImageStore
	events   queue.Publisher
	answers  cache.AnswerCache

	templateVersion TemplateVersion
	topK            int
	contextCap      int
	historyLimit    int
	maxRetries      int
	retryBaseDelay  time.Duration
	chunker         *chunker.Chunker
	clock           func() time.Time
}

// New validates the wiring and constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("relational store required")
	}
	if cfg.Vector == nil {
		return nil, fmt.Errorf("vector store required")
	}
	if cfg.Primary == nil {
		return nil, fmt.Errorf("primary chat model required")
	}
	version := cfg.TemplateVersion
	if version == "" {
		version = TemplateVersionCurrent
	}
	if version != TemplateVersionCurrent && version != TemplateVersionLegacy {
		return nil, fmt.Errorf("unknown prompt template version %q", version)
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	contextCap := cfg.ContextCap
	if contextCap <= 0 {
		contextCap = defaultContextCap
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	retryDelay := cfg.RetryBaseDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	ch := cfg.Chunker
	if ch == nil {
		ch = chunker.New(chunker.DefaultChunkSize, chunker.DefaultOverlap)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &App{
		store:           cfg.Store,
		vector:          cfg.Vector,
		primary:         cfg.Primary,
		fallback:        cfg.Fallback,
		images:          cfg.Images,
		events:          cfg.Events,
		answers:         cfg.Answers,
		templateVersion: version,
		topK:            topK,
		contextCap:      contextCap,
		historyLimit:    historyLimit,
		maxRetries:      maxRetries,
		retryBaseDelay:  retryDelay,
		chunker:         ch,
		clock:           clock,
	}, nil
}

// ChatRequest is one inbound user message. Identity is request-scoped;
// nothing about the current user lives in process-wide state.
type ChatRequest struct {
	UserID         string
	ConversationID string
	// MessageID is the client-generated message identity, stable across
	// the relational and vector representations. Assigned server-side
	// when the client omits it.
	MessageID string
	Content   string
	// Images are base64-encoded payloads (raw or data URIs).
	Images []string
}

// ProcessMessage runs the full pipeline for one user message: context
// merge, prompt build, model invocation, then durable recording across
// both stores. Terminal failures come back as *PipelineError carrying the
// last stored assistant reply when one exists.
func (a *App) ProcessMessage(ctx context.Context, req ChatRequest) (domain.Answer, error) {
	start := a.clock()
	if strings.TrimSpace(req.UserID) == "" {
		return domain.Answer{}, fmt.Errorf("user id required")
	}
	if strings.TrimSpace(req.Content) == "" {
		return domain.Answer{}, fmt.Errorf("message content required")
	}
	if strings.TrimSpace(req.MessageID) == "" {
		req.MessageID = util.NewID()
	}

	conversation, err := a.ensureConversation(ctx, req)
	if err != nil {
		if errors.Is(err, ErrConversationForbidden) {
			return domain.Answer{}, err
		}
		return domain.Answer{}, a.terminal(ctx, StepSave, start, req.ConversationID, err)
	}

	attachments, imageURIs, err := a.processImages(ctx, req)
	if err != nil {
		return domain.Answer{}, a.terminal(ctx, StepImages, start, conversation.ID, err)
	}

	recent, err := a.store.ListConversationMessages(ctx, conversation.ID, a.historyLimit)
	if err != nil {
		slog.Warn("recent history unavailable, continuing without it",
			"conversationId", conversation.ID, "err", err)
		recent = nil
	}
	merged := a.mergeContext(ctx, req.UserID, req.Content, conversation.ID, recent)

	prompt, err := a.buildSystemPrompt(merged, recent)
	if err != nil {
		return domain.Answer{}, a.terminal(ctx, StepPrompt, start, conversation.ID, err)
	}

	result, err := a.invokeModel(ctx, prompt, recent, req.Content, imageURIs)
	if err != nil {
		return domain.Answer{}, a.terminal(ctx, StepModel, start, conversation.ID, err)
	}

	answer, err := a.persistExchange(ctx, conversation, req, attachments, start, result)
	if err != nil {
		return domain.Answer{}, a.terminal(ctx, StepSave, start, conversation.ID, err)
	}
	return answer, nil
}

// ListConversations lists recent conversations for a user.
func (a *App) ListConversations(ctx context.Context, userID string, limit int) ([]domain.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id required")
	}
	if limit <= 0 || limit > 100 {
		limit = 30
	}
	items, err := a.store.ListConversationsByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return items, nil
}

// ListMessages returns a conversation's messages in chronological order.
func (a *App) ListMessages(ctx context.Context, userID, conversationID string, limit int) ([]domain.Message, error) {
	conversation, err := a.authorizeConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	msgs, err := a.store.ListConversationMessages(ctx, conversation.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversation messages: %w", err)
	}
	return msgs, nil
}

// DeleteConversation removes the conversation from the relational store and
// the vector index. The vector side is best-effort; its failure is logged
// and the relational deletion stands.
func (a *App) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	conversation, err := a.authorizeConversation(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	if err := a.store.DeleteConversation(ctx, conversation.ID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if err := a.vector.DeleteByConversation(ctx, conversation.ID); err != nil {
		slog.Error("vector cleanup failed for deleted conversation",
			"conversationId", conversation.ID, "err", err)
	}
	return nil
}

// RepairChunkLinks re-derives the vectorChunkIds metadata for assistant
// messages that lost their linkage in the eventual-consistency window.
// Returns how many messages were repaired.
func (a *App) RepairChunkLinks(ctx context.Context, conversationID string) (int, error) {
	msgs, err := a.store.ListMessagesMissingChunkLinks(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("list unlinked messages: %w", err)
	}
	repaired := 0
	for _, msg := range msgs {
		docs, err := a.vector.ListByMessage(ctx, msg.ID)
		if err != nil {
			return repaired, fmt.Errorf("list vector documents for %s: %w", msg.ID, err)
		}
		if len(docs) == 0 {
			continue
		}
		ids := make([]string, 0, len(docs))
		for _, doc := range docs {
			ids = append(ids, doc.ID)
		}
		if err := a.store.UpdateMessageMetadata(ctx, msg.ID, msg.Metadata.WithChunks(ids)); err != nil {
			return repaired, fmt.Errorf("update metadata for %s: %w", msg.ID, err)
		}
		repaired++
	}
	return repaired, nil
}

func (a *App) authorizeConversation(ctx context.Context, userID, conversationID string) (domain.Conversation, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return domain.Conversation{}, fmt.Errorf("conversation id required")
	}
	conversation, ok, err := a.store.GetConversation(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	if !ok {
		return domain.Conversation{}, ErrConversationNotFound
	}
	if conversation.UserID != userID {
		return domain.Conversation{}, ErrConversationForbidden
	}
	return conversation, nil
}

func (a *App) ensureConversation(ctx context.Context, req ChatRequest) (domain.Conversation, error) {
	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID != "" {
		conversation, ok, err := a.store.GetConversation(ctx, conversationID)
		if err != nil {
			return domain.Conversation{}, fmt.Errorf("load conversation: %w", err)
		}
		if ok {
			if conversation.UserID != req.UserID {
				return domain.Conversation{}, ErrConversationForbidden
			}
			return conversation, nil
		}
	} else {
		conversationID = util.NewID()
	}
	now := a.clock().UTC()
	conversation := domain.Conversation{
		ID:            conversationID,
		UserID:        req.UserID,
		Title:         conversationTitle(req.Content),
		LastMessageAt: &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := a.store.CreateConversation(ctx, conversation); err != nil {
		return domain.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conversation, nil
}

func (a *App) processImages(ctx context.Context, req ChatRequest) ([]domain.ImageAttachment, []string, error) {
	if len(req.Images) == 0 {
		return nil, nil, nil
	}
	if a.images == nil {
		return nil, nil, fmt.Errorf("image store not configured")
	}
	attachments := make([]domain.ImageAttachment, 0, len(req.Images))
	uris := make([]string, 0, len(req.Images))
	for i, data := range req.Images {
		key, url, err := a.images.UploadBase64(ctx, data)
		if err != nil {
			return nil, nil, fmt.Errorf("upload image %d: %w", i, err)
		}
		attachments = append(attachments, domain.ImageAttachment{
			ID:         util.NewID(),
			MessageID:  req.MessageID,
			StorageKey: key,
			URL:        url,
			CreatedAt:  a.clock().UTC(),
		})
		uris = append(uris, toDataURI(data))
	}
	return attachments, uris, nil
}

// terminal wraps err into a PipelineError, attaching the last stored
// assistant reply so the caller can degrade instead of failing empty.
func (a *App) terminal(ctx context.Context, step Step, start time.Time, conversationID string, err error) error {
	pErr := &PipelineError{
		Step:    step,
		Elapsed: a.clock().Sub(start),
		Err:     err,
	}
	if conversationID != "" {
		pErr.Fallback = a.lastKnownGood(ctx, conversationID)
	}
	return pErr
}

func (a *App) lastKnownGood(ctx context.Context, conversationID string) string {
	if a.answers != nil {
		if text, ok, err := a.answers.LastAnswer(ctx, conversationID); err == nil && ok {
			return text
		}
	}
	msg, ok, err := a.store.LatestAssistantMessage(ctx, conversationID)
	if err != nil || !ok {
		return ""
	}
	return msg.Content
}

// toDataURI normalizes a base64 payload to a data URI for the model.
func toDataURI(data string) string {
	data = strings.TrimSpace(data)
	if strings.HasPrefix(data, "data:") {
		return data
	}
	return "data:image/jpeg;base64," + data
}

func conversationTitle(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	if len(title) > 60 {
		title = strings.TrimSpace(title[:60])
	}
	if title == "" {
		title = "New conversation"
	}
	return title
}
