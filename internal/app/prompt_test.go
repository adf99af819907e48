package app

import (
	"strings"
	"testing"
	"time"

	"memochat/pkg/domain"
	"memochat/pkg/store"
	"memochat/pkg/vector"
)

func newPromptApp(t *testing.T, version TemplateVersion) *App {
	t.Helper()
	a, err := New(Config{
		Store:           store.NewMemoryStore(),
		Vector:          vector.NewMemoryStore(hashEmbedder{}),
		Primary:         &scriptedModel{name: "primary"},
		TemplateVersion: version,
		Clock: func() time.Time {
			return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestBuildSystemPromptCurrent(t *testing.T) {
	a := newPromptApp(t, TemplateVersionCurrent)
	merged := []domain.CombinedContext{
		{Source: domain.ContextSourceVector, Role: domain.RoleUser, Content: "I live in Lisbon"},
		{Source: domain.ContextSourceDatabase, Role: domain.RoleAssistant, Content: "Lisbon has mild winters"},
	}
	prompt, err := a.buildSystemPrompt(merged, nil)
	if err != nil {
		t.Fatalf("buildSystemPrompt: %v", err)
	}
	if !strings.Contains(prompt, "2026-03-14") {
		t.Fatalf("prompt missing the current date: %q", prompt)
	}
	if !strings.Contains(prompt, "Remembered context:") {
		t.Fatalf("prompt missing the combined context block: %q", prompt)
	}
	if !strings.Contains(prompt, "User: I live in Lisbon") {
		t.Fatalf("prompt missing user context line: %q", prompt)
	}
	if !strings.Contains(prompt, "Assistant: Lisbon has mild winters") {
		t.Fatalf("prompt missing assistant context line: %q", prompt)
	}
	if strings.Contains(prompt, "Recent conversation:") {
		t.Fatalf("current layout must not render a separate recent block: %q", prompt)
	}
}

func TestBuildSystemPromptLegacySplitsBlocks(t *testing.T) {
	a := newPromptApp(t, TemplateVersionLegacy)
	merged := []domain.CombinedContext{
		{Source: domain.ContextSourceVector, Role: domain.RoleUser, Content: "I live in Lisbon"},
		{Source: domain.ContextSourceDatabase, Role: domain.RoleUser, Content: "what about summer"},
	}
	recent := []domain.Message{
		{Role: domain.RoleUser, Content: "what about summer"},
		{Role: domain.RoleAssistant, Content: "Summers are hot and dry"},
	}
	prompt, err := a.buildSystemPrompt(merged, recent)
	if err != nil {
		t.Fatalf("buildSystemPrompt: %v", err)
	}
	memoriesAt := strings.Index(prompt, "Relevant memories:")
	recentAt := strings.Index(prompt, "Recent conversation:")
	if memoriesAt < 0 || recentAt < 0 {
		t.Fatalf("legacy layout must render both blocks: %q", prompt)
	}
	if memoriesAt > recentAt {
		t.Fatal("memories block must precede the recent block")
	}
	// Database-sourced merge entries belong to the recent block only.
	memories := prompt[memoriesAt:recentAt]
	if strings.Contains(memories, "what about summer") {
		t.Fatalf("database entries leaked into the memories block: %q", memories)
	}
}

func TestBuildSystemPromptCollapsesWhitespace(t *testing.T) {
	a := newPromptApp(t, TemplateVersionCurrent)
	merged := []domain.CombinedContext{
		{Source: domain.ContextSourceVector, Role: domain.RoleUser, Content: "too   many\tspaces   here"},
	}
	prompt, err := a.buildSystemPrompt(merged, nil)
	if err != nil {
		t.Fatalf("buildSystemPrompt: %v", err)
	}
	if !strings.Contains(prompt, "too many spaces here") {
		t.Fatalf("whitespace not collapsed: %q", prompt)
	}
	if strings.Contains(prompt, "  ") {
		t.Fatalf("double spaces survived collapsing: %q", prompt)
	}
	if strings.HasSuffix(prompt, "\n") {
		t.Fatal("prompt must not end with trailing newline")
	}
}

func TestBuildSystemPromptEmptyContext(t *testing.T) {
	a := newPromptApp(t, TemplateVersionCurrent)
	prompt, err := a.buildSystemPrompt(nil, nil)
	if err != nil {
		t.Fatalf("buildSystemPrompt: %v", err)
	}
	if strings.Contains(prompt, "Remembered context:") {
		t.Fatalf("empty context must not render a context block: %q", prompt)
	}
	if !strings.Contains(prompt, "helpful assistant") {
		t.Fatalf("preamble missing: %q", prompt)
	}
}
