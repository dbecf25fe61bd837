package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apidomain "github.com/cuongbtq/gigmarket/internal/api/domain"
	"github.com/cuongbtq/gigmarket/internal/gateway"
	"github.com/cuongbtq/gigmarket/internal/worker/domain"
)

// processJob attests one validated job and classifies the failure, if any.
// A nil return means the delivery can be acknowledged.
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) error {
	w.logger.Info("Processing job",
		slog.String("job_id", msg.JobID()),
		slog.String("worker_id", w.workerID),
	)

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(jobCtx, msg.JobID(), heartbeatDone)
	defer close(heartbeatDone)

	start := time.Now()
	job, err := w.jobs.Attest(jobCtx, msg.JobID())
	if err == nil {
		w.logger.Info("Job completed successfully",
			slog.String("job_id", job.ID),
			slog.String("attestation_id", job.AttestationID),
			slog.Duration("duration", time.Since(start)),
		)
		return nil
	}

	switch {
	case errors.Is(err, apidomain.ErrJobNotFound), errors.Is(err, apidomain.ErrInvalidTransition):
		// Already completed or never stored; nothing left to do
		w.logger.Warn("Skipping job",
			slog.String("job_id", msg.JobID()),
			slog.String("reason", err.Error()),
		)
		return nil

	case ctx.Err() != nil:
		return ctx.Err()

	case gateway.IsRetryable(err):
		if msg.Attempt() < w.maxAttempts {
			return domain.NewRetryableError(fmt.Errorf("attestation failed: %w", err))
		}
		w.logger.Warn("Job exceeded max attempts",
			slog.String("job_id", msg.JobID()),
			slog.Int("attempt", msg.Attempt()),
			slog.Int("max_attempts", w.maxAttempts),
		)
		return fmt.Errorf("%w: %v", domain.ErrMaxRetriesExceeded, err)

	default:
		return fmt.Errorf("attestation failed: %w", err)
	}
}

// sendJobHeartbeat logs progress while a slow attestation is in flight
func (w *Worker) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	if w.heartbeatInterval <= 0 {
		return
	}

	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.logger.Info("Attestation still in progress",
				slog.String("job_id", jobID),
				slog.Duration("elapsed", time.Since(start)),
			)
		}
	}
}
