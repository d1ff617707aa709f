package document

import (
	"strings"
	"unicode"
)

// Splitter cuts page text into fixed-size chunks with overlap, so context
// spanning a chunk boundary survives in the neighbouring chunk.
type Splitter struct {
	Size    int // chunk size in runes
	Overlap int // runes carried over between consecutive chunks
}

// Split cuts text into chunks. Cuts prefer whitespace within the back half of
// the window so words stay whole; overlap is measured from the cut point.
func (s Splitter) Split(text string) []string {
	size := s.Size
	if size <= 0 {
		size = 1000
	}
	overlap := s.Overlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(text)
	if len(runes) <= size {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			return []string{trimmed}
		}
		return nil
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			if trimmed := strings.TrimSpace(string(runes[start:])); trimmed != "" {
				chunks = append(chunks, trimmed)
			}
			break
		}

		cut := end
		for i := end; i > start+size/2; i-- {
			if unicode.IsSpace(runes[i-1]) {
				cut = i
				break
			}
		}

		if trimmed := strings.TrimSpace(string(runes[start:cut])); trimmed != "" {
			chunks = append(chunks, trimmed)
		}

		next := cut - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}
