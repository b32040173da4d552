// Package gemini provides a summarization backend that uses Google's Gemini
// API through the genai client library.
//
// This package is an infrastructure adapter: it satisfies the backend
// contract of the summarize stage without exposing genai types to the rest
// of the application.
//
// Key components:
//
// 1. Backend:
//   - Sends one system instruction and one user prompt per call
//   - Applies the configured temperature and output token limit
//   - Bounds each call with its own timeout
//
// 2. Error Handling:
//   - A missing API key is a configuration error raised before any request
//   - Failed calls are transport errors
//   - Empty or safety-blocked responses are malformed response errors
package gemini
