// Package stage holds what the pipeline stages share: a typed error that
// records which stage failed and why, and a tagged result type.
package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Kind classifies a stage failure.
type Kind string

const (
	KindTransport         Kind = "transport"
	KindMalformedResponse Kind = "malformed_response"
	KindConfiguration     Kind = "configuration"
	KindNotFound          Kind = "not_found"
	KindCancelled         Kind = "cancelled"
	KindTimeout           Kind = "timeout"
)

// Sentinels for errors.Is against a stage error's kind.
var (
	ErrTransport         = errors.New("transport error")
	ErrMalformedResponse = errors.New("malformed response error")
	ErrConfiguration     = errors.New("configuration error")
	ErrNotFound          = errors.New("not found error")
	ErrCancelled         = errors.New("cancelled error")
	ErrTimeout           = errors.New("timeout error")
)

func (k Kind) sentinel() error {
	switch k {
	case KindTransport:
		return ErrTransport
	case KindMalformedResponse:
		return ErrMalformedResponse
	case KindConfiguration:
		return ErrConfiguration
	case KindNotFound:
		return ErrNotFound
	case KindCancelled:
		return ErrCancelled
	case KindTimeout:
		return ErrTimeout
	default:
		return nil
	}
}

// Error is a failure of one named stage.
// Its text starts with the kind marker, e.g. "transport error: transcribe: ...".
type Error struct {
	Kind    Kind
	Stage   string
	Message string
	Err     error
}

// Error formats the failure for logs and Job.error.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	marker := string(e.Kind) + " error"
	if s := e.Kind.sentinel(); s != nil {
		marker = s.Error()
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s: %s: %s", marker, e.Stage, msg)
}

// Unwrap exposes the cause for errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	s := e.Kind.sentinel()
	return s != nil && s == target
}

// New creates a stage error.
func New(kind Kind, stageName, message string, cause error) *Error {
	return &Error{Kind: kind, Stage: stageName, Message: message, Err: cause}
}

// Transport reports a failed or timed out call to a stage service.
func Transport(stageName string, err error) *Error {
	return New(KindTransport, stageName, err.Error(), err)
}

// CallFailed classifies an error returned by a call made under a derived
// per-call timeout. When the caller's own context has ended the failure is
// a cancellation or a timeout of the job; otherwise it is a transport error,
// including the per-call timeout firing.
func CallFailed(parent context.Context, stageName string, err error) *Error {
	if perr := parent.Err(); perr != nil {
		kind, _ := contextKind(perr)
		return New(kind, stageName, err.Error(), err)
	}
	return Transport(stageName, err)
}

// Malformed reports a response that could not be interpreted.
func Malformed(stageName, message string, cause error) *Error {
	return New(KindMalformedResponse, stageName, message, cause)
}

// Configuration reports a stage that cannot run with the given settings.
func Configuration(stageName, message string) *Error {
	return New(KindConfiguration, stageName, message, nil)
}

// Classify turns any error into a stage error for stageName, keeping an
// existing classification.
func Classify(stageName string, err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	if kind, ok := contextKind(err); ok {
		return New(kind, stageName, err.Error(), err)
	}
	return New(KindTransport, stageName, err.Error(), err)
}

func contextKind(err error) (Kind, bool) {
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled, true
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout, true
	default:
		return "", false
	}
}

// Snippet returns at most n leading bytes of body for error messages.
// The cut never splits a rune, and invalid sequences are replaced.
func Snippet(body []byte, n int) string {
	if len(body) > n {
		body = body[:n]
		for i := 1; i < utf8.UTFMax && i <= len(body); i++ {
			if utf8.RuneStart(body[len(body)-i]) {
				if !utf8.FullRune(body[len(body)-i:]) {
					body = body[:len(body)-i]
				}
				break
			}
		}
	}
	return strings.ToValidUTF8(string(body), "\uFFFD")
}
