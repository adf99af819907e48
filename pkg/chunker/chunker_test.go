package chunker

import (
	"fmt"
	"strings"
	"testing"
)

func TestSplitShortTextSingleChunk(t *testing.T) {
	c := New(800, 100)
	for _, text := range []string{
		"hello",
		"A short answer that fits easily.",
		strings.Repeat("word ", 50),
	} {
		chunks := c.Split(text)
		if len(chunks) != 1 {
			t.Fatalf("short text produced %d chunks", len(chunks))
		}
		if chunks[0] != strings.TrimSpace(text) {
			t.Fatalf("single chunk %q != original %q", chunks[0], text)
		}
	}
}

func TestSplitEmpty(t *testing.T) {
	c := New(800, 100)
	if got := c.Split("   \n\n  "); got != nil {
		t.Fatalf("whitespace input produced %v", got)
	}
}

func TestSplitLongTextBounds(t *testing.T) {
	c := New(800, 100)
	var sb strings.Builder
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&sb, "Sentence number %d carries a moderate amount of text for the splitter to work with. ", i)
		if i%7 == 6 {
			sb.WriteString("\n\n")
		}
	}
	original := strings.TrimSpace(sb.String())
	chunks := c.Split(original)
	if len(chunks) < 2 {
		t.Fatalf("long text produced %d chunks", len(chunks))
	}
	total := 0
	for i, chunk := range chunks {
		if strings.TrimSpace(chunk) == "" {
			t.Fatalf("chunk %d is empty", i)
		}
		if len(chunk) > 800+100+1 {
			t.Fatalf("chunk %d exceeds size bound: %d", i, len(chunk))
		}
		total += len(chunk)
	}
	// Index-order concatenation reconstructs the content plus at most one
	// overlap worth of duplication per boundary, and some joiner slack.
	bound := len(original) + (len(chunks)-1)*(c.Overlap()+2)
	if total > bound {
		t.Fatalf("total chunk length %d exceeds duplication bound %d (original %d)", total, bound, len(original))
	}
	// Nothing may be lost: every sentence must appear in some chunk.
	joined := strings.Join(chunks, " ")
	for i := 0; i < 60; i++ {
		marker := fmt.Sprintf("Sentence number %d ", i)
		if !strings.Contains(joined, marker) {
			t.Fatalf("sentence %d missing from chunks", i)
		}
	}
}

func TestSplitUnbrokenRun(t *testing.T) {
	c := New(200, 20)
	c.minLength = 100
	text := strings.Repeat("x", 1000)
	chunks := c.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("unbroken run produced %d chunks", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > 200+20+1 {
			t.Fatalf("chunk %d too large: %d", i, len(chunk))
		}
	}
}

func TestShouldChunk(t *testing.T) {
	c := New(800, 100)
	if c.ShouldChunk("short") {
		t.Fatal("short text flagged for chunking")
	}
	if !c.ShouldChunk(strings.Repeat("a", MinChunkableLength)) {
		t.Fatal("long text not flagged for chunking")
	}
}
