package summarize

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestChunkSplitsLongText(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("الف\n", 200) + "پایان"
	parts := Chunk(text, 100)

	assert.Greater(t, len(parts), 1)
	assert.Contains(t, parts[len(parts)-1], "پایان")
	for _, p := range parts {
		assert.LessOrEqual(t, utf8.RuneCountInString(p), 100, "chunk is measured in characters, not bytes")
	}
}

func TestChunkEdgeCases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		text     string
		maxChars int
		want     []string
	}{
		{name: "empty", text: "", maxChars: 10, want: nil},
		{name: "whitespace only", text: " \n\t\n", maxChars: 10, want: nil},
		{name: "fits in one chunk", text: "a\nb\nc", maxChars: 10, want: []string{"a\nb\nc"}},
		{name: "exact boundary", text: "aaaa\nbbbb", maxChars: 9, want: []string{"aaaa\nbbbb"}},
		{name: "one over boundary", text: "aaaa\nbbbbb", maxChars: 9, want: []string{"aaaa", "bbbbb"}},
		{name: "oversized line stands alone", text: "short\n" + strings.Repeat("x", 20) + "\nend", maxChars: 10,
			want: []string{"short", strings.Repeat("x", 20), "end"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Chunk(tt.text, tt.maxChars))
		})
	}
}

func TestChunkPreservesContent(t *testing.T) {
	t.Parallel()

	lines := make([]string, 50)
	for i := range lines {
		lines[i] = strings.Repeat(string(rune('a'+i%26)), 37)
	}
	text := strings.Join(lines, "\n")

	parts := Chunk(text, DefaultChunkMaxChars/10)
	assert.Equal(t, text, strings.Join(parts, "\n"))
}
