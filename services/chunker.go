package services

import (
	"strings"
	"unicode"
)

// Chunker splits extracted document text into overlapping windows sized for
// the embedding model. Chunking is a pure function of its inputs so the same
// document always produces the same chunk sequence.
type Chunker struct {
	ChunkSize    int
	ChunkOverlap int
}

func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 2500
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	return &Chunker{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
	}
}

// ChunkText slides a ChunkSize window over the text, snapping each cut back
// to the last whitespace inside the window so words are not split, and starts
// the next window ChunkOverlap characters before the previous cut. Empty and
// whitespace-only slices are dropped; empty input yields no chunks.
func (c *Chunker) ChunkText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if len(text) <= c.ChunkSize {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + c.ChunkSize
		if end >= len(text) {
			end = len(text)
		} else {
			// search backward for whitespace so we don't cut mid-word;
			// fall back to the raw boundary when the window has none
			if ws := lastWhitespace(text, start, end); ws > start {
				end = ws
			}
		}

		chunk := strings.TrimSpace(text[start:end])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end >= len(text) {
			break
		}

		next := end - c.ChunkOverlap
		if next <= start {
			// force forward progress when overlap >= chunk size
			next = start + 1
		} else if !unicode.IsSpace(rune(text[next-1])) {
			// the raw restart may land mid-word; snap forward to the next
			// word start so overlapping windows repeat whole words only
			next = nextWordStart(text, next, end)
		}
		start = next
	}

	return chunks
}

// nextWordStart returns the position just after the first whitespace in
// text[from:limit], or from when the stretch holds a single unbroken token.
func nextWordStart(text string, from, limit int) int {
	for i := from; i < limit; i++ {
		if unicode.IsSpace(rune(text[i])) {
			return i + 1
		}
	}
	return from
}

// lastWhitespace returns the cut position just after the last whitespace
// character in text[start:end], or start when there is none.
func lastWhitespace(text string, start, end int) int {
	for i := end - 1; i > start; i-- {
		if unicode.IsSpace(rune(text[i])) {
			return i + 1
		}
	}
	return start
}
