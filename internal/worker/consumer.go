package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/gigmarket/internal/lifecycle"
	"github.com/cuongbtq/gigmarket/internal/worker/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer starts consuming; QoS is set when the queue is declared
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	if w.broker == nil {
		return nil, fmt.Errorf("rabbitmq broker is nil")
	}

	// Manual acknowledgment, consumer tag is the worker id
	deliveries, err := w.broker.Consume(w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
	)

	return deliveries, nil
}

// startMessageDispatcher decodes deliveries and hands them to the worker pool
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return ctx.Err()

		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped - stopChan closed")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return domain.ErrDeliveriesClosed
			}

			msg, err := decodeMessage(delivery)
			if err != nil {
				w.logger.Error("Failed to decode job event",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// Malformed messages go straight to the dead letter queue
				w.nack(delivery, false)
				continue
			}

			if msg.Event.Type != lifecycle.EventJobValidated {
				w.logger.Debug("Ignoring job event",
					slog.String("job_id", msg.JobID()),
					slog.String("event", string(msg.Event.Type)),
				)
				w.ack(delivery)
				continue
			}

			select {
			case w.jobsChan <- msg:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", msg.JobID()),
					slog.Int("attempt", msg.Attempt()),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching job")
				// Requeue so another consumer can pick it up
				w.nack(delivery, true)
				return ctx.Err()
			case <-w.stopChan:
				w.nack(delivery, true)
				return nil
			}
		}
	}
}

func decodeMessage(delivery amqp.Delivery) (*domain.JobMessage, error) {
	var event lifecycle.Event
	if err := json.Unmarshal(delivery.Body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	if _, err := uuid.Parse(event.JobID); err != nil {
		return nil, fmt.Errorf("%w: job_id %q is not a UUID", domain.ErrInvalidPayload, event.JobID)
	}

	if event.Type == "" {
		event.Type = lifecycle.EventType(delivery.RoutingKey)
	}

	return &domain.JobMessage{Event: event, Delivery: delivery}, nil
}
