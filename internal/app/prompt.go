package app

import (
	"fmt"
	"strings"

	"memochat/pkg/domain"
)

// TemplateVersion selects which system prompt layout is rendered. The set
// is closed: adding a variant means adding a constant and a render arm.
type TemplateVersion string

const (
	// TemplateVersionCurrent renders one combined context block.
	TemplateVersionCurrent TemplateVersion = "current"
	// TemplateVersionLegacy renders context and recent history as two
	// separate blocks, for deployments still pinned to the older layout.
	TemplateVersionLegacy TemplateVersion = "legacy"
)

const promptPreamble = "You are a helpful assistant with long-term memory of this user's past conversations. " +
	"Use the remembered context below when it is relevant, and answer naturally without mentioning the memory mechanism. " +
	"Today's date is %s."

// buildSystemPrompt renders the system prompt for the configured template
// version from the merged context and recent history.
func (a *App) buildSystemPrompt(merged []domain.CombinedContext, recent []domain.Message) (string, error) {
	date := a.clock().UTC().Format("2006-01-02")
	header := fmt.Sprintf(promptPreamble, date)

	switch a.templateVersion {
	case TemplateVersionCurrent:
		return renderCurrent(header, merged), nil
	case TemplateVersionLegacy:
		return renderLegacy(header, merged, recent), nil
	default:
		return "", fmt.Errorf("unknown prompt template version %q", a.templateVersion)
	}
}

func renderCurrent(header string, merged []domain.CombinedContext) string {
	var b strings.Builder
	b.WriteString(header)
	if len(merged) > 0 {
		b.WriteString("\n\nRemembered context:\n")
		for _, entry := range merged {
			writeContextLine(&b, entry.Role, entry.Content)
		}
	}
	return collapseWhitespace(b.String())
}

func renderLegacy(header string, merged []domain.CombinedContext, recent []domain.Message) string {
	var b strings.Builder
	b.WriteString(header)

	semantic := make([]domain.CombinedContext, 0, len(merged))
	for _, entry := range merged {
		if entry.Source == domain.ContextSourceVector {
			semantic = append(semantic, entry)
		}
	}
	if len(semantic) > 0 {
		b.WriteString("\n\nRelevant memories:\n")
		for _, entry := range semantic {
			writeContextLine(&b, entry.Role, entry.Content)
		}
	}
	if len(recent) > 0 {
		b.WriteString("\n\nRecent conversation:\n")
		for _, msg := range recent {
			writeContextLine(&b, msg.Role, msg.Content)
		}
	}
	return collapseWhitespace(b.String())
}

func writeContextLine(b *strings.Builder, role domain.Role, content string) {
	label := "User"
	if role == domain.RoleAssistant {
		label = "Assistant"
	}
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(content)
	b.WriteString("\n")
}

// collapseWhitespace squeezes runs of spaces and tabs inside each line and
// trims trailing blank lines, keeping the line structure of the prompt.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
