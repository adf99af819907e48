package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"memochat/pkg/ai"
	"memochat/pkg/domain"
)

// invokeState is the explicit state of the retry machine. Transitions:
// tryPrimary -> tryFallback on exhaustion or server-side failure,
// tryPrimary/tryFallback -> success on a non-empty reply,
// tryFallback -> exhausted when its attempts run out too.
type invokeState int

const (
	statePrimary invokeState = iota
	stateFallback
	stateSuccess
	stateExhausted
)

// invokeResult is a successful model reply plus which tier produced it.
type invokeResult struct {
	text         string
	usedFallback bool
}

// serverFailureMarkers identify transient server-side failures in provider
// error text. Matching one triggers immediate failover to the fallback
// model instead of burning the remaining attempts on the same tier.
var serverFailureMarkers = []string{
	"500",
	"502",
	"503",
	"internal server error",
	"bad gateway",
	"service unavailable",
}

// invokeModel drives the retry state machine over the configured models.
// An empty reply counts as a retryable failure; a success is never empty.
func (a *App) invokeModel(ctx context.Context, systemPrompt string, recent []domain.Message, userContent string, imageURIs []string) (invokeResult, error) {
	messages := buildChatMessages(systemPrompt, recent, userContent, imageURIs)

	state := statePrimary
	model := a.primary
	attempt := 0
	var lastErr error

	for {
		switch state {
		case statePrimary, stateFallback:
			attempt++
			if attempt > 1 {
				if err := a.retryWait(ctx, attempt-1); err != nil {
					return invokeResult{}, err
				}
			}
			text, err := model.Invoke(ctx, messages)
			switch {
			case err == nil && strings.TrimSpace(text) != "":
				if state == stateFallback {
					slog.Info("fallback model answered", "model", model.Name(), "attempt", attempt)
				}
				return invokeResult{text: text, usedFallback: state == stateFallback}, nil
			case err == nil:
				lastErr = ErrEmptyResponse
				slog.Warn("model returned empty reply", "model", model.Name(), "attempt", attempt)
			default:
				lastErr = err
				slog.Warn("model invocation failed", "model", model.Name(), "attempt", attempt, "err", err)
				if state == statePrimary && isServerFailure(err) {
					// No point retrying the same broken tier.
					attempt = a.maxRetries
				}
			}
			if ctx.Err() != nil {
				return invokeResult{}, ctx.Err()
			}
			if attempt >= a.maxRetries {
				if state == statePrimary && a.fallback != nil {
					state = stateFallback
					model = a.fallback
					attempt = 0
					continue
				}
				state = stateExhausted
			}
		case stateExhausted:
			return invokeResult{}, a.exhaustedError(lastErr)
		case stateSuccess:
			// Success returns directly from the attempt arm; reaching
			// here would be a programming error.
			return invokeResult{}, fmt.Errorf("invalid invoke state")
		}
	}
}

// retryWait sleeps for the linear backoff delay, attempt*base, honoring
// cancellation.
func (a *App) retryWait(ctx context.Context, attempt int) error {
	delay := time.Duration(attempt) * a.retryBaseDelay
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (a *App) exhaustedError(lastErr error) error {
	names := a.primary.Name()
	if a.fallback != nil {
		names += ", " + a.fallback.Name()
	}
	if lastErr == nil {
		lastErr = ErrEmptyResponse
	}
	return fmt.Errorf("all models failed after %d attempts each (%s): %w", a.maxRetries, names, lastErr)
}

func isServerFailure(err error) bool {
	text := strings.ToLower(err.Error())
	for _, marker := range serverFailureMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// buildChatMessages lays out the request: system prompt, recent turns,
// then the new user message with any image attachments.
func buildChatMessages(systemPrompt string, recent []domain.Message, userContent string, imageURIs []string) []ai.ChatMessage {
	messages := make([]ai.ChatMessage, 0, len(recent)+2)
	messages = append(messages, ai.ChatMessage{Role: ai.ChatRoleSystem, Text: systemPrompt})
	for _, msg := range recent {
		role := ai.ChatRoleUser
		if msg.Role == domain.RoleAssistant {
			role = ai.ChatRoleAssistant
		}
		messages = append(messages, ai.ChatMessage{Role: role, Text: msg.Content})
	}
	messages = append(messages, ai.ChatMessage{
		Role:      ai.ChatRoleUser,
		Text:      userContent,
		ImageURLs: imageURIs,
	})
	return messages
}
