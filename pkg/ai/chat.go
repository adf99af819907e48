package ai

import "context"

// Chat roles in provider wire format.
const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is one turn handed to a model. ImageURLs (data URIs or plain
// URLs) turn the message into a multi-part payload; only user turns carry
// images.
type ChatMessage struct {
	Role      string
	Text      string
	ImageURLs []string
}

// ChatModel is a single model endpoint. The invocation engine composes two
// of these into its primary/fallback pair. An empty return with a nil error
// means the model produced no content and the caller should retry.
type ChatModel interface {
	Name() string
	Invoke(ctx context.Context, messages []ChatMessage) (string, error)
}
