package summarize

import (
	"strings"
	"unicode/utf8"
)

// DefaultChunkMaxChars is the default chunk size in characters.
const DefaultChunkMaxChars = 1800

// Chunk splits text into pieces along line boundaries. Lines are packed
// into a chunk until adding the next one would exceed maxChars. A single
// line longer than maxChars becomes its own oversized chunk.
func Chunk(text string, maxChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxChars <= 0 {
		maxChars = DefaultChunkMaxChars
	}

	var (
		parts  []string
		buf    []string
		bufLen int
	)
	for _, line := range strings.Split(text, "\n") {
		n := utf8.RuneCountInString(line)
		combined := bufLen + n
		if len(buf) > 0 {
			combined++ // joining newline
		}
		if combined > maxChars && len(buf) > 0 {
			parts = append(parts, strings.TrimSpace(strings.Join(buf, "\n")))
			buf = []string{line}
			bufLen = n
			continue
		}
		buf = append(buf, line)
		bufLen = combined
	}
	if len(buf) > 0 {
		parts = append(parts, strings.TrimSpace(strings.Join(buf, "\n")))
	}
	return parts
}
