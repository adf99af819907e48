package chunker

import "strings"

const (
	// DefaultChunkSize is the target chunk length in characters.
	DefaultChunkSize = 800
	// DefaultOverlap is how much of the previous chunk's tail is repeated at
	// the start of the next chunk.
	DefaultOverlap = 100
	// MinChunkableLength is the threshold below which text is stored as a
	// single chunk instead of being split.
	MinChunkableLength = 1000
)

// Chunker splits long text into bounded, overlapping fragments. Splits
// prefer paragraph boundaries, then sentence boundaries, and fall back to a
// hard cut only for pathological unbroken runs.
type Chunker struct {
	chunkSize int
	overlap   int
	minLength int
}

// New builds a chunker. Non-positive arguments fall back to defaults.
func New(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = DefaultOverlap
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap, minLength: MinChunkableLength}
}

// Overlap reports the configured overlap length.
func (c *Chunker) Overlap() int { return c.overlap }

// ShouldChunk reports whether text is long enough to be split.
func (c *Chunker) ShouldChunk(text string) bool {
	return len(strings.TrimSpace(text)) >= c.minLength
}

// Split returns the chunks for text. Text below the minimum length comes
// back as exactly one chunk equal to the trimmed input.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if !c.ShouldChunk(text) {
		return []string{text}
	}

	var chunks []string
	current := ""
	for _, unit := range splitUnits(text, c.chunkSize) {
		if current != "" && len(current)+len(unit)+1 > c.chunkSize {
			chunks = append(chunks, current)
			current = overlapTail(current, c.overlap)
		}
		if current != "" {
			current += " "
		}
		current += unit
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

// splitUnits breaks text into paragraph units; paragraphs longer than the
// chunk size are further broken into sentences, and any sentence still
// longer than the chunk size is hard-cut.
func splitUnits(text string, chunkSize int) []string {
	var units []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) <= chunkSize {
			units = append(units, para)
			continue
		}
		for _, sentence := range splitSentences(para) {
			if len(sentence) <= chunkSize {
				units = append(units, sentence)
				continue
			}
			for len(sentence) > chunkSize {
				cut := lastSpaceBefore(sentence, chunkSize)
				units = append(units, strings.TrimSpace(sentence[:cut]))
				sentence = strings.TrimSpace(sentence[cut:])
			}
			if sentence != "" {
				units = append(units, sentence)
			}
		}
	}
	return units
}

func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if ch != '.' && ch != '!' && ch != '?' && ch != '\n' {
			continue
		}
		if ch != '\n' && i+1 < len(text) && text[i+1] != ' ' && text[i+1] != '\n' {
			continue
		}
		sentence := strings.TrimSpace(text[start : i+1])
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		start = i + 1
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

// overlapTail returns the last roughly n characters of chunk, extended left
// to the nearest word boundary.
func overlapTail(chunk string, n int) string {
	if len(chunk) <= n {
		return chunk
	}
	tail := chunk[len(chunk)-n:]
	if idx := strings.IndexByte(tail, ' '); idx >= 0 && idx+1 < len(tail) {
		tail = tail[idx+1:]
	}
	return tail
}

func lastSpaceBefore(s string, limit int) int {
	if limit >= len(s) {
		return len(s)
	}
	if idx := strings.LastIndexByte(s[:limit], ' '); idx > 0 {
		return idx
	}
	return limit
}
