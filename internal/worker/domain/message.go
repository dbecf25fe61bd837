package domain

import (
	"github.com/cuongbtq/gigmarket/internal/lifecycle"
	amqp "github.com/rabbitmq/amqp091-go"
)

// JobMessage is a validated-job event taken off the queue
type JobMessage struct {
	Event    lifecycle.Event
	Delivery amqp.Delivery
}

// JobID returns the job the event is about
func (m *JobMessage) JobID() string {
	return m.Event.JobID
}

// Attempt is the 1-based delivery attempt carried in the event
func (m *JobMessage) Attempt() int {
	if m.Event.Attempt < 1 {
		return 1
	}
	return m.Event.Attempt
}
