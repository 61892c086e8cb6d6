package memory

import "strings"

// Chunk splits text into overlapping windows of at most size bytes,
// preferring to break after a period or newline in the second half of a
// window. Empty chunks are dropped.
func Chunk(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []string
	for start := 0; start < len(text); {
		end := start + size
		if end >= len(text) {
			if c := strings.TrimSpace(text[start:]); c != "" {
				chunks = append(chunks, c)
			}
			break
		}
		window := text[start:end]
		if cut := max(strings.LastIndexByte(window, '.'), strings.LastIndexByte(window, '\n')); cut > size/2 {
			end = start + cut + 1
		}
		if c := strings.TrimSpace(text[start:end]); c != "" {
			chunks = append(chunks, c)
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}
