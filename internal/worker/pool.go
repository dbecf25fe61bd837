package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/gigmarket/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

const maxRetryBackoff = 5 * time.Minute

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context, g *errgroup.Group) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		workerNum := i
		g.Go(func() error {
			w.workerLoop(ctx, workerNum)
			return nil
		})
	}
}

// workerLoop processes jobs until the dispatcher closes jobsChan
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for msg := range w.jobsChan {
		if ctx.Err() != nil {
			w.nack(msg.Delivery, true)
			continue
		}

		w.logger.Info("Worker received job",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.JobID()),
			slog.Int("attempt", msg.Attempt()),
		)

		err := w.processJob(ctx, msg)
		outcome := w.settle(ctx, msg, err)

		attrs := []any{
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.JobID()),
			slog.String("outcome", string(outcome)),
		}
		if err != nil {
			w.logger.Warn("Job processing failed", append(attrs, slog.String("error", err.Error()))...)
		} else {
			w.logger.Info("Job processed", attrs...)
		}
	}

	w.logger.Info("Worker goroutine stopping - jobsChan closed",
		slog.String("worker_name", workerName),
	)
}

// settle acknowledges the delivery according to the processing result
func (w *Worker) settle(ctx context.Context, msg *domain.JobMessage, err error) domain.Outcome {
	switch {
	case err == nil:
		w.ack(msg.Delivery)
		return domain.OutcomeAck

	case errors.Is(err, context.Canceled):
		w.nack(msg.Delivery, true)
		return domain.OutcomeRequeue

	case shouldRetry(err):
		if retryErr := w.republish(ctx, msg); retryErr != nil {
			w.logger.Error("Failed to republish job for retry",
				slog.String("job_id", msg.JobID()),
				slog.String("error", retryErr.Error()),
			)
			w.nack(msg.Delivery, true)
			return domain.OutcomeRequeue
		}
		w.ack(msg.Delivery)
		return domain.OutcomeRetry

	default:
		w.nack(msg.Delivery, false)
		return domain.OutcomeDeadLetter
	}
}

// shouldRetry determines if a job gets another attempt based on the error type
func shouldRetry(err error) bool {
	if errors.Is(err, domain.ErrMaxRetriesExceeded) || errors.Is(err, domain.ErrInvalidPayload) {
		return false
	}

	var retryableErr *domain.RetryableError
	return errors.As(err, &retryableErr)
}

// republish waits out the backoff and sends the event again with the next attempt number
func (w *Worker) republish(ctx context.Context, msg *domain.JobMessage) error {
	delay := w.backoff(msg.Attempt())
	w.logger.Info("Job will be retried",
		slog.String("job_id", msg.JobID()),
		slog.Int("attempt", msg.Attempt()),
		slog.Int("max_attempts", w.maxAttempts),
		slog.Duration("backoff", delay),
	)

	if err := w.sleep(ctx, delay); err != nil {
		return err
	}

	next := msg.Event
	next.Attempt = msg.Attempt() + 1

	body, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode retry event: %w", err)
	}

	return w.broker.PublishWithRetry(ctx, string(next.Type), body, "application/json")
}

// backoff doubles retryBackoff for every attempt already made
func (w *Worker) backoff(attempt int) time.Duration {
	delay := w.retryBackoff
	for i := 1; i < attempt && delay < maxRetryBackoff; i++ {
		delay *= 2
	}
	return min(delay, maxRetryBackoff)
}

func (w *Worker) ack(delivery amqp.Delivery) {
	if err := delivery.Ack(false); err != nil {
		w.logger.Error("Failed to ACK message",
			slog.Uint64("delivery_tag", delivery.DeliveryTag),
			slog.String("error", err.Error()),
		)
	}
}

func (w *Worker) nack(delivery amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		w.logger.Error("Failed to NACK message",
			slog.Uint64("delivery_tag", delivery.DeliveryTag),
			slog.Bool("requeue", requeue),
			slog.String("error", err.Error()),
		)
	}
}
