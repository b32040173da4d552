package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

// Possible job status values
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// transitions lists the permitted successor states for each status.
// Terminal states have no successors.
var transitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing, JobStatusCancelled},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
	JobStatusCompleted:  nil,
	JobStatusFailed:     nil,
	JobStatusCancelled:  nil,
}

// IsValid reports whether s is a known status.
func (s JobStatus) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no further transition is possible from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// CanTransitionTo reports whether next is a permitted successor of s.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Predecessors returns every status from which target may be reached.
// Stores use it to build conditional updates.
func Predecessors(target JobStatus) []JobStatus {
	var from []JobStatus
	for _, s := range []JobStatus{
		JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled,
	} {
		if s.CanTransitionTo(target) {
			from = append(from, s)
		}
	}
	return from
}

// ParseJobStatus converts a string into a JobStatus.
func ParseJobStatus(s string) (JobStatus, error) {
	status := JobStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidJobStatus, s)
	}
	return status, nil
}

// Job is the durable record of one unit of asynchronous work.
// InputRef and ID never change after creation.
type Job struct {
	ID          uuid.UUID  `json:"id"`
	OwnerID     string     `json:"owner_id,omitempty"`
	Status      JobStatus  `json:"status"`
	InputRef    string     `json:"input_ref"`
	OutputRefs  []string   `json:"output_refs,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewJob creates a pending job for inputRef owned by ownerID.
func NewJob(inputRef, ownerID string) (*Job, error) {
	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Status:    JobStatusPending,
		InputRef:  inputRef,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	return job, nil
}

// Validate checks the job's fields and the dependencies between status,
// output references, error text and completion time.
func (j *Job) Validate() error {
	if j.ID == uuid.Nil {
		return fmt.Errorf("%w: job ID cannot be empty", ErrInvalidID)
	}
	if j.InputRef == "" {
		return ErrEmptyInputRef
	}
	if !j.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidJobStatus, j.Status)
	}

	completed := j.Status == JobStatusCompleted
	if completed != (len(j.OutputRefs) > 0) {
		return fmt.Errorf("%w: output refs must be present exactly when completed", ErrValidation)
	}
	if completed != (j.CompletedAt != nil) {
		return fmt.Errorf("%w: completed_at must be set exactly when completed", ErrValidation)
	}
	if j.CompletedAt != nil && j.CompletedAt.After(j.UpdatedAt) {
		return fmt.Errorf("%w: completed_at is after updated_at", ErrValidation)
	}
	if j.Error != "" && j.Status != JobStatusFailed {
		return fmt.Errorf("%w: error text is only allowed on failed jobs", ErrValidation)
	}
	if j.UpdatedAt.Before(j.CreatedAt) {
		return fmt.Errorf("%w: updated_at is before created_at", ErrValidation)
	}

	return nil
}

// Apply mutates j according to patch at time now, enforcing the state
// machine. UpdatedAt never moves backwards. In-memory stores use it; SQL
// stores express the same rules in a single conditional UPDATE.
func (j *Job) Apply(patch JobPatch, now time.Time) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	if !j.Status.CanTransitionTo(patch.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, patch.Status)
	}

	j.Status = patch.Status
	j.OutputRefs = append([]string(nil), patch.OutputRefs...)
	j.Error = patch.Error
	j.CompletedAt = patch.CompletedAt
	j.UpdatedAt = LaterOf(j.UpdatedAt, now, patch.CompletedAt)

	return nil
}

// LaterOf returns the latest of current, now and (when set) completedAt.
func LaterOf(current, now time.Time, completedAt *time.Time) time.Time {
	latest := current
	if now.After(latest) {
		latest = now
	}
	if completedAt != nil && completedAt.After(latest) {
		latest = *completedAt
	}
	return latest
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	c := *j
	c.OutputRefs = append([]string(nil), j.OutputRefs...)
	if len(c.OutputRefs) == 0 {
		c.OutputRefs = nil
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
