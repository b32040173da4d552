package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Message is the queue payload that hands a job to a worker.
type Message struct {
	JobID    string `json:"job_id"`
	InputRef string `json:"input_ref"`
}

// NewMessage builds the message for job.
func NewMessage(job *Job) Message {
	return Message{JobID: job.ID.String(), InputRef: job.InputRef}
}

// Encode serializes m as JSON.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses a JSON payload and validates it.
func DecodeMessage(payload []byte) (Message, uuid.UUID, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	id, err := uuid.Parse(m.JobID)
	if err != nil || id == uuid.Nil {
		return m, uuid.Nil, fmt.Errorf("%w: bad job_id %q", ErrInvalidMessage, m.JobID)
	}
	if m.InputRef == "" {
		return m, uuid.Nil, fmt.Errorf("%w: missing input_ref", ErrInvalidMessage)
	}

	return m, id, nil
}
