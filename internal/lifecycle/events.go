package lifecycle

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cuongbtq/gigmarket/internal/api/domain"
)

// EventType names a lifecycle event; it doubles as the routing key
type EventType string

const (
	EventJobCreated         EventType = "job.open"
	EventJobAccepted        EventType = "job.accepted"
	EventJobSubmitted       EventType = "job.submitted"
	EventJobValidated       EventType = "job.validated"
	EventJobCompleted       EventType = "job.completed"
	EventVerificationFailed EventType = "job.verification_failed"
)

// Event is the message body published for every transition
type Event struct {
	Type       EventType `json:"type"`
	JobID      string    `json:"job_id"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
	Attempt    int       `json:"attempt"`
}

// NewEvent builds the event for job's current state
func NewEvent(eventType EventType, job *domain.Job) Event {
	return Event{
		Type:       eventType,
		JobID:      job.ID,
		Status:     string(job.Status),
		OccurredAt: job.UpdatedAt,
		Attempt:    1,
	}
}

// publish is best effort: the transition is already committed
func (c *Controller) publish(ctx context.Context, eventType EventType, job *domain.Job) {
	if c.publisher == nil {
		return
	}

	body, err := json.Marshal(NewEvent(eventType, job))
	if err != nil {
		c.logger.Error("Failed to encode job event", slog.String("job_id", job.ID), slog.Any("error", err))
		return
	}

	if err := c.publisher.PublishWithRetry(ctx, string(eventType), body, "application/json"); err != nil {
		c.logger.Error("Failed to publish job event",
			slog.String("job_id", job.ID),
			slog.String("event", string(eventType)),
			slog.Any("error", err),
		)
	}
}
