package llm

import "strings"

// StripThinkingTags removes <think>...</think> blocks from LLM output.
// Some models (e.g. qwen3) wrap their reasoning in these tags.
func StripThinkingTags(s string) string {
	for {
		start := strings.Index(s, "<think>")
		end := strings.Index(s, "</think>")
		switch {
		case end != -1 && (start == -1 || end < start):
			// A closing tag with no opener means the reasoning began
			// before this output did; everything up to it is reasoning.
			s = s[end+len("</think>"):]
		case start == -1:
			return strings.TrimSpace(s)
		case end == -1:
			// Unclosed block, drop the rest.
			return strings.TrimSpace(s[:start])
		default:
			s = s[:start] + s[end+len("</think>"):]
		}
	}
}
