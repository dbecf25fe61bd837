package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	apidomain "github.com/cuongbtq/gigmarket/internal/api/domain"
	"github.com/cuongbtq/gigmarket/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

// JobAttester completes validated jobs
type JobAttester interface {
	Attest(ctx context.Context, ref string) (*apidomain.Job, error)
}

// Broker is the queue the worker consumes from and republishes retries to
type Broker interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Jobs              JobAttester
	Broker            Broker
	WorkerID          string
	Concurrency       int
	MaxJobs           int
	MaxAttempts       int
	RetryBackoff      time.Duration
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
}

// Worker attests validated jobs taken off the event queue
type Worker struct {
	logger            *slog.Logger
	jobs              JobAttester
	broker            Broker
	workerID          string
	concurrency       int
	maxAttempts       int
	retryBackoff      time.Duration
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	jobsChan          chan *domain.JobMessage
	stopChan          chan struct{}
	stopOnce          sync.Once
	done              chan struct{}
	sleep             func(ctx context.Context, d time.Duration) error
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		logger:            cfg.Logger,
		jobs:              cfg.Jobs,
		broker:            cfg.Broker,
		workerID:          cfg.WorkerID,
		concurrency:       cfg.Concurrency,
		maxAttempts:       cfg.MaxAttempts,
		retryBackoff:      cfg.RetryBackoff,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
		stopChan:          make(chan struct{}),
		done:              make(chan struct{}),
		sleep:             sleepContext,
	}

	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.workerID == "" {
		w.workerID = "attestation-worker"
	}
	if w.concurrency <= 0 {
		w.concurrency = 1
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = 1
	}
	if w.jobTimeout <= 0 {
		w.jobTimeout = 2 * time.Minute
	}

	w.jobsChan = make(chan *domain.JobMessage, max(cfg.MaxJobs, 0))
	return w
}

// Start consumes until ctx is canceled, Stop is called or the broker
// closes the delivery channel. It returns once every in-flight job is settled.
func (w *Worker) Start(ctx context.Context) error {
	defer close(w.done)

	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("max_attempts", w.maxAttempts),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	// Workers drain jobsChan after the dispatcher exits, whatever the reason
	var g errgroup.Group
	g.Go(func() error {
		defer close(w.jobsChan)
		return w.startMessageDispatcher(ctx, deliveries)
	})
	w.spawnWorkerPool(ctx, &g)

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))
	return err
}

// Stop asks Start to return and waits for it
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.done
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
