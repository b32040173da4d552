package domain

import (
	"fmt"
	"time"
)

// JobPatch is the complete set of fields changed by one job transition.
// A store writes all of them in a single atomic update, so a terminal status
// is never visible without its dependent fields.
type JobPatch struct {
	Status      JobStatus
	OutputRefs  []string
	Error       string
	CompletedAt *time.Time
}

// MarkProcessing is the patch written before any stage runs.
func MarkProcessing() JobPatch {
	return JobPatch{Status: JobStatusProcessing}
}

// MarkCompleted records successful completion with the produced artifacts.
func MarkCompleted(outputRefs []string, at time.Time) JobPatch {
	at = at.UTC()
	return JobPatch{
		Status:      JobStatusCompleted,
		OutputRefs:  append([]string(nil), outputRefs...),
		CompletedAt: &at,
	}
}

// MarkFailed records a failure with an error message.
// The store bounds the message length before writing it.
func MarkFailed(message string) JobPatch {
	if message == "" {
		message = "unknown error"
	}
	return JobPatch{Status: JobStatusFailed, Error: message}
}

// MarkCancelled records an operator-initiated abort.
func MarkCancelled() JobPatch {
	return JobPatch{Status: JobStatusCancelled}
}

// Validate checks that the patch fields agree with its target status.
func (p JobPatch) Validate() error {
	if !p.Status.IsValid() || p.Status == JobStatusPending {
		return fmt.Errorf("%w: cannot patch to status %q", ErrInvalidPatch, p.Status)
	}

	switch p.Status {
	case JobStatusCompleted:
		if len(p.OutputRefs) == 0 || p.CompletedAt == nil {
			return fmt.Errorf("%w: completion requires output refs and completed_at", ErrInvalidPatch)
		}
		if p.Error != "" {
			return fmt.Errorf("%w: completion cannot carry an error", ErrInvalidPatch)
		}
	case JobStatusFailed:
		if p.Error == "" {
			return fmt.Errorf("%w: failure requires an error message", ErrInvalidPatch)
		}
		if len(p.OutputRefs) > 0 || p.CompletedAt != nil {
			return fmt.Errorf("%w: failure cannot carry outputs", ErrInvalidPatch)
		}
	default:
		if len(p.OutputRefs) > 0 || p.CompletedAt != nil || p.Error != "" {
			return fmt.Errorf("%w: %s cannot carry outputs or errors", ErrInvalidPatch, p.Status)
		}
	}

	return nil
}

// Bounded returns a copy of p whose error text is truncated to maxLen runes.
func (p JobPatch) Bounded(maxLen int) JobPatch {
	p.Error = TruncateError(p.Error, maxLen)
	return p
}
