// Package redact removes credentials from text before it is logged or
// persisted as a job error. Stage services echo request details in their
// error bodies, and those details can include keys, tokens and signed URLs.
package redact

import (
	"regexp"
)

// Placeholders written in place of redacted text.
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedSignaturePlaceholder  = "[REDACTED_SIGNATURE]"
)

type rule struct {
	re          *regexp.Regexp
	placeholder string
}

// rules are applied in order.
var rules = []rule{
	// user:password@ in connection strings (postgres, redis, s3 endpoints)
	{regexp.MustCompile(`(?i)\b([a-z][a-z0-9+.-]*)://[^/@\s]+:[^/@\s]+@`), "$1://" + RedactedCredentialPlaceholder + "@"},
	{regexp.MustCompile(`(?i)(password|passwd|pwd)([=:\s]?['"]?)[^'"&\s]{3,}`), RedactedCredentialPlaceholder},
	{regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9_\-.~+/=]{8,}`), "Bearer " + RedactedKeyPlaceholder},
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`), "[REDACTED_JWT]"},
	// hosted model API keys quoted back in error bodies
	{regexp.MustCompile(`\b(sk-[A-Za-z0-9_\-*]{8,}|AIza[0-9A-Za-z_\-]{20,})`), RedactedKeyPlaceholder},
	{regexp.MustCompile(`(?i)(api[_-]?key|token|secret|access[_-]?key|x-goog-api-key)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`), "$1$2" + RedactedKeyPlaceholder},
	{regexp.MustCompile(`\b(AKIA|ASIA)[A-Z0-9]{16}\b`), RedactedKeyPlaceholder},
	// presigned URL query parameters
	{regexp.MustCompile(`(?i)(X-Amz-(?:Signature|Credential|Security-Token))=[^&\s"]+`), "$1=" + RedactedSignaturePlaceholder},
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`(?:goroutine \d+|panic:)[\s\S]*?(\n\t.*)+`), "[STACK_TRACE_REDACTED]"},
}

// String redacts credentials from input.
func String(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, r := range rules {
		result = r.re.ReplaceAllString(result, r.placeholder)
	}
	return result
}

// Error redacts credentials from err's message.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
