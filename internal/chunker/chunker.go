// Package chunker splits raw text into bounded-size overlapping segments
// suitable for embedding and retrieval.
package chunker

import "strings"

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultOverlap is the default number of overlapping characters between
// consecutive chunks.
const DefaultOverlap = 200

// boundary preference, strongest first. A chunk ends at the latest boundary
// found inside its window; when no boundary exists the cut is fixed-width.
var boundaries = []string{"\n\n", ". ", "! ", "? ", "\n", " "}

// Split cuts text into chunks of at most chunkSize characters, consecutive
// chunks sharing overlap characters of context. Cuts prefer paragraph and
// sentence boundaries and fall back to fixed-width slicing. The output is
// deterministic for identical input and parameters. Empty input yields nil.
func Split(text string, chunkSize, overlap int) []string {
	if text == "" {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = chunkSize / 4
	}

	runes := []rune(text)
	if len(runes) <= chunkSize {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + chunkSize
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		end = cutPoint(runes, start, end)
		chunks = append(chunks, string(runes[start:end]))

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// cutPoint finds the latest semantic boundary in runes[start:limit]. Only
// boundaries past the window midpoint are considered so chunks do not
// degenerate; without one the cut is fixed-width at limit.
func cutPoint(runes []rune, start, limit int) int {
	window := string(runes[start:limit])
	min := (limit - start) / 2
	for _, b := range boundaries {
		if idx := strings.LastIndex(window, b); idx >= 0 {
			cut := len([]rune(window[:idx])) + len([]rune(b))
			if cut > min {
				return start + cut
			}
		}
	}
	return limit
}
