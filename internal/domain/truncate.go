package domain

import "strings"

// DefaultMaxErrorLength bounds the error text persisted on a failed job.
const DefaultMaxErrorLength = 1000

const truncationMarker = "...[truncated]"

// TruncateError bounds msg to at most maxLen runes. Longer messages keep
// their head and end with a truncation marker. A non-positive maxLen selects
// DefaultMaxErrorLength. The result is always valid UTF-8 without NUL bytes,
// which text columns reject.
func TruncateError(msg string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxErrorLength
	}
	msg = strings.ReplaceAll(strings.ToValidUTF8(msg, "\uFFFD"), "\x00", "")

	runes := []rune(msg)
	if len(runes) <= maxLen {
		return msg
	}

	marker := []rune(truncationMarker)
	if maxLen <= len(marker) {
		return string(runes[:maxLen])
	}

	return string(runes[:maxLen-len(marker)]) + truncationMarker
}
