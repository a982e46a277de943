package chunking

import (
	"strings"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
)

// Splitter packs paragraphs into chunks of at most ChunkSize runes. Code keeps
// larger chunks so functions stay together; API reference entries stay small.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 900
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

func (s *Splitter) Split(text string, contentType domain.ContentType) []string {
	size := s.sizeFor(contentType)
	var out []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if chunk := strings.TrimSpace(current.String()); chunk != "" {
			out = append(out, chunk)
		}
		current.Reset()
		currentLen = 0
	}

	for _, block := range paragraphs(text) {
		blockLen := len([]rune(block))
		if blockLen > size {
			flush()
			out = append(out, s.window(block, size)...)
			continue
		}
		if currentLen > 0 && currentLen+2+blockLen > size {
			flush()
		}
		if currentLen > 0 {
			current.WriteString("\n\n")
			currentLen += 2
		}
		current.WriteString(block)
		currentLen += blockLen
	}
	flush()
	return out
}

func (s *Splitter) sizeFor(contentType domain.ContentType) int {
	switch contentType {
	case domain.ContentTypeCode:
		return s.ChunkSize * 2
	case domain.ContentTypeAPIReference:
		return max(s.ChunkSize/2, 1)
	default:
		return s.ChunkSize
	}
}

// window cuts an oversized block with a fixed rune window and overlap.
func (s *Splitter) window(text string, size int) []string {
	runes := []rune(text)
	overlap := s.Overlap
	if overlap >= size {
		overlap = size / 4
	}
	step := size - overlap
	if step <= 0 {
		step = size
	}

	out := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			out = append(out, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

func paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := strings.Split(text, "\n\n")
	out := parts[:0]
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
