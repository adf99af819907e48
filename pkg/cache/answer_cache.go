package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// AnswerCache remembers the last successfully stored assistant reply per
// conversation. It feeds the degraded-answer path when the pipeline fails
// terminally.
type AnswerCache interface {
	SetLastAnswer(ctx context.Context, conversationID, text string) error
	LastAnswer(ctx context.Context, conversationID string) (string, bool, error)
}

const defaultAnswerTTL = 72 * time.Hour

// RedisAnswerCache implements AnswerCache on Redis with a TTL.
type RedisAnswerCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisAnswerCache connects to Redis and verifies it with a ping.
func NewRedisAnswerCache(addr, password string, ttl time.Duration) (*RedisAnswerCache, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis addr required")
	}
	if ttl <= 0 {
		ttl = defaultAnswerTTL
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisAnswerCache{client: client, ttl: ttl}, nil
}

func answerKey(conversationID string) string {
	return "chat:lastanswer:" + conversationID
}

// SetLastAnswer stores the reply text for the conversation.
func (c *RedisAnswerCache) SetLastAnswer(ctx context.Context, conversationID, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if err := c.client.Set(ctx, answerKey(conversationID), text, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// LastAnswer returns the cached reply, if present.
func (c *RedisAnswerCache) LastAnswer(ctx context.Context, conversationID string) (string, bool, error) {
	text, err := c.client.Get(ctx, answerKey(conversationID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("cache get: %w", err)
	}
	return text, true, nil
}
