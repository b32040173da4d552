package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/events"
)

// Dispatcher publishes a queue message for every job that needs a worker.
// It implements events.EventHandler so the job service never talks to the
// broker directly.
type Dispatcher struct {
	publisher Publisher
	logger    *slog.Logger
}

// Compile-time check that Dispatcher implements events.EventHandler.
var _ events.EventHandler = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher publishing to publisher.
func NewDispatcher(publisher Publisher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		publisher: publisher,
		logger:    logger.With("component", "dispatcher"),
	}
}

// Dispatch publishes the message for job. The job must already be stored.
func (d *Dispatcher) Dispatch(ctx context.Context, msg domain.Message) error {
	payload, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	if err := d.publisher.Publish(ctx, payload); err != nil {
		d.logger.Error("failed to publish job message", "job_id", msg.JobID, "error", err)
		return fmt.Errorf("failed to publish job %s: %w", msg.JobID, err)
	}

	d.logger.Debug("job message published", "job_id", msg.JobID)
	return nil
}

// HandleEvent publishes messages for submitted and requeued jobs and ignores other events.
func (d *Dispatcher) HandleEvent(ctx context.Context, event *events.JobEvent) error {
	if event.Type != events.TypeJobSubmitted && event.Type != events.TypeJobRequeued {
		d.logger.Debug("ignoring event with unsupported type",
			"event_type", event.Type,
			"event_id", event.ID)
		return nil
	}

	var msg domain.Message
	if err := event.UnmarshalPayload(&msg); err != nil {
		d.logger.Error("failed to unmarshal payload", "error", err, "event_id", event.ID)
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if msg.JobID == "" {
		msg.JobID = event.JobID.String()
	}

	return d.Dispatch(ctx, msg)
}
