package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/cuongbtq/gigmarket/internal/api/domain"
	"github.com/google/uuid"
)

// Store persists job records
type Store interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, ref string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error)
	UpdateJob(ctx context.Context, ref string, mutate func(job *domain.Job) error) (*domain.Job, error)
	SaveVerification(ctx context.Context, v *domain.Verification) error
	GetAttestation(ctx context.Context, jobID string, status domain.Status) (string, error)
	SaveAttestation(ctx context.Context, jobID string, status domain.Status, attestationID string) error
}

// Verifier judges a submission against the job requirements
type Verifier interface {
	Verify(ctx context.Context, requirements, content string) (domain.VerificationResult, error)
}

// Attester records a completion attestation
type Attester interface {
	Attest(ctx context.Context, req domain.AttestationRequest) (domain.AttestationResult, error)
}

// Escrow mirrors lifecycle transitions on the escrow contract. WorkState lets
// a retried transition skip a write that was already mined.
type Escrow interface {
	CreateJob(ctx context.Context, description string, amount *big.Int) (domain.EscrowReceipt, error)
	WorkState(ctx context.Context, chainJobID *big.Int) (domain.EscrowState, error)
	SubmitWork(ctx context.Context, chainJobID *big.Int, submission string) (string, error)
	ApproveWork(ctx context.Context, chainJobID *big.Int) (string, error)
}

// Publisher delivers lifecycle events
type Publisher interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// Config wires a Controller. Escrow and Publisher are optional.
type Config struct {
	Store         Store
	Verifier      Verifier
	Attester      Attester
	Escrow        Escrow
	Publisher     Publisher
	MinimumEscrow *big.Int
	Logger        *slog.Logger
	Now           func() time.Time
	NewID         func() string
}

// Controller applies job lifecycle transitions
type Controller struct {
	store     Store
	verifier  Verifier
	attester  Attester
	escrow    Escrow
	publisher Publisher
	minimum   *big.Int
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// NewController creates a Controller
func NewController(cfg Config) (*Controller, error) {
	if cfg.Store == nil {
		return nil, errors.New("lifecycle: store is required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("lifecycle: verifier is required")
	}
	if cfg.Attester == nil {
		return nil, errors.New("lifecycle: attester is required")
	}

	c := &Controller{
		store:     cfg.Store,
		verifier:  cfg.Verifier,
		attester:  cfg.Attester,
		escrow:    cfg.Escrow,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		now:       cfg.Now,
		newID:     cfg.NewID,
	}
	if cfg.MinimumEscrow != nil {
		c.minimum = new(big.Int).Set(cfg.MinimumEscrow)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	return c, nil
}

// MinimumEscrow returns the lowest accepted escrow in base units. Zero means
// any positive amount is accepted.
func (c *Controller) MinimumEscrow() *big.Int {
	if c.minimum == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(c.minimum)
}

// CreateInput describes a new job
type CreateInput struct {
	Requirements string
	EscrowAmount *big.Int
	Requester    string
	// TransactionHash is set when the requester already funded the escrow
	TransactionHash string
	ChainJobID      *big.Int
}

// Create validates and stores a new open job, funding the escrow contract
// first when a chain writer is configured and the caller has not funded it.
func (c *Controller) Create(ctx context.Context, in CreateInput) (*domain.Job, error) {
	job, err := domain.NewJob(c.newID(), in.Requirements, in.EscrowAmount, c.minimum, in.Requester, c.timestamp())
	if err != nil {
		return nil, err
	}

	job.TransactionHash = strings.TrimSpace(in.TransactionHash)
	if in.ChainJobID != nil {
		job.ChainJobID = new(big.Int).Set(in.ChainJobID)
	}

	if c.escrow != nil && job.TransactionHash == "" {
		receipt, err := c.escrow.CreateJob(ctx, job.Requirements, job.EscrowAmount)
		if err != nil {
			return nil, fmt.Errorf("failed to fund escrow: %w", err)
		}
		job.TransactionHash = receipt.TxHash
		job.ChainJobID = receipt.JobID
	}

	if err := c.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	c.logger.Info("Job created",
		slog.String("job_id", job.ID),
		slog.String("escrow_amount", job.EscrowAmount.String()),
		slog.String("transaction_hash", job.TransactionHash),
	)
	c.publish(ctx, EventJobCreated, job)
	return job, nil
}

// Get returns one job by id or transaction hash
func (c *Controller) Get(ctx context.Context, ref string) (*domain.Job, error) {
	return c.store.GetJob(ctx, ref)
}

// List returns jobs matching filter, newest first
func (c *Controller) List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	return c.store.ListJobs(ctx, filter)
}

// Accept assigns a worker to an open job
func (c *Controller) Accept(ctx context.Context, ref, worker string) (*domain.Job, error) {
	now := c.timestamp()
	job, err := c.store.UpdateJob(ctx, ref, func(j *domain.Job) error {
		return j.Accept(worker, now)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("Job accepted", slog.String("job_id", job.ID), slog.String("worker", job.Worker))
	c.publish(ctx, EventJobAccepted, job)
	return job, nil
}

// Submit records the worker's content on an accepted job
func (c *Controller) Submit(ctx context.Context, ref, content string) (*domain.Job, error) {
	job, err := c.store.GetJob(ctx, ref)
	if err != nil {
		return nil, err
	}

	// Check the transition before touching the chain
	draft := *job
	if err := draft.Submit(content, c.timestamp()); err != nil {
		return nil, err
	}

	if c.escrow != nil && job.ChainJobID != nil {
		state, err := c.escrow.WorkState(ctx, job.ChainJobID)
		if err != nil {
			return nil, fmt.Errorf("failed to read escrow state: %w", err)
		}
		if state.IsFulfilled {
			c.logger.Info("Work already submitted on chain", slog.String("job_id", job.ID))
		} else {
			txHash, err := c.escrow.SubmitWork(ctx, job.ChainJobID, content)
			if err != nil {
				return nil, fmt.Errorf("failed to submit work on chain: %w", err)
			}
			c.logger.Info("Work submitted on chain", slog.String("job_id", job.ID), slog.String("tx_hash", txHash))
		}
	}

	now := c.timestamp()
	job, err = c.store.UpdateJob(ctx, job.ID, func(j *domain.Job) error {
		return j.Submit(content, now)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("Job submitted", slog.String("job_id", job.ID))
	c.publish(ctx, EventJobSubmitted, job)
	return job, nil
}

// Verify asks the verification gateway to judge the submission. A failing
// verdict is not an error: the job stays submitted and the result is returned.
func (c *Controller) Verify(ctx context.Context, ref string) (*domain.Job, domain.VerificationResult, error) {
	var result domain.VerificationResult

	job, err := c.store.GetJob(ctx, ref)
	if err != nil {
		return nil, result, err
	}
	if err := job.CanPerform(domain.ActionVerify); err != nil {
		return nil, result, err
	}

	result, err = c.verifier.Verify(ctx, job.Requirements, job.Content)
	if err != nil {
		return nil, result, fmt.Errorf("failed to verify content: %w", err)
	}

	if err := c.store.SaveVerification(ctx, &domain.Verification{
		JobID:        job.ID,
		Requirements: job.Requirements,
		Content:      job.Content,
		Result:       result,
		CreatedAt:    c.timestamp(),
	}); err != nil {
		return nil, result, err
	}

	now := c.timestamp()
	job, err = c.store.UpdateJob(ctx, job.ID, func(j *domain.Job) error {
		return j.ApplyVerification(result, now)
	})
	if err != nil {
		return nil, result, err
	}

	c.logger.Info("Job verified",
		slog.String("job_id", job.ID),
		slog.Bool("is_valid", result.IsValid),
		slog.String("reason", result.Reason),
	)

	if result.IsValid {
		c.publish(ctx, EventJobValidated, job)
	} else {
		c.publish(ctx, EventVerificationFailed, job)
	}
	return job, result, nil
}

// Attest records the completion attestation and releases the escrow. An
// attestation already stored for the job is reused instead of requesting a new one.
func (c *Controller) Attest(ctx context.Context, ref string) (*domain.Job, error) {
	job, err := c.store.GetJob(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := job.CanPerform(domain.ActionAttest); err != nil {
		return nil, err
	}

	attestationID, err := c.store.GetAttestation(ctx, job.ID, domain.JobStatusCompleted)
	if err != nil {
		return nil, err
	}

	if attestationID == "" {
		result, err := c.attester.Attest(ctx, domain.AttestationRequest{
			JobCID:  job.ID,
			Status:  string(domain.JobStatusCompleted),
			Content: job.Content,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create attestation: %w", err)
		}

		attestationID = result.ID()
		if !result.Success || attestationID == "" {
			return nil, fmt.Errorf("%w: %s", domain.ErrAttestationRejected, result.Error)
		}

		if err := c.store.SaveAttestation(ctx, job.ID, domain.JobStatusCompleted, attestationID); err != nil {
			return nil, err
		}

		// A concurrent attest may have stored its id first
		stored, err := c.store.GetAttestation(ctx, job.ID, domain.JobStatusCompleted)
		if err != nil {
			return nil, err
		}
		if stored != "" {
			attestationID = stored
		}
	} else {
		c.logger.Info("Reusing stored attestation",
			slog.String("job_id", job.ID),
			slog.String("attestation_id", attestationID),
		)
	}

	if c.escrow != nil && job.ChainJobID != nil {
		state, err := c.escrow.WorkState(ctx, job.ChainJobID)
		if err != nil {
			return nil, fmt.Errorf("failed to read escrow state: %w", err)
		}
		if state.IsApproved {
			c.logger.Info("Work already approved on chain", slog.String("job_id", job.ID))
		} else {
			txHash, err := c.escrow.ApproveWork(ctx, job.ChainJobID)
			if err != nil {
				return nil, fmt.Errorf("failed to approve work on chain: %w", err)
			}
			c.logger.Info("Work approved on chain", slog.String("job_id", job.ID), slog.String("tx_hash", txHash))
		}
	}

	now := c.timestamp()
	job, err = c.store.UpdateJob(ctx, job.ID, func(j *domain.Job) error {
		return j.Complete(attestationID, now)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("Job completed",
		slog.String("job_id", job.ID),
		slog.String("attestation_id", attestationID),
	)
	c.publish(ctx, EventJobCompleted, job)
	return job, nil
}

// AdvanceInput carries the fields a status update may need
type AdvanceInput struct {
	Worker  string
	Content string
}

var actionFor = map[domain.Status]domain.Action{
	domain.JobStatusOpen:      domain.ActionCreate,
	domain.JobStatusAccepted:  domain.ActionAccept,
	domain.JobStatusSubmitted: domain.ActionSubmit,
	domain.JobStatusValidated: domain.ActionVerify,
	domain.JobStatusCompleted: domain.ActionAttest,
}

// Advance moves a job to target by running the single transition that
// leads there. Requesting the current status is a no-op.
func (c *Controller) Advance(ctx context.Context, ref string, target domain.Status, in AdvanceInput) (*domain.Job, error) {
	job, err := c.store.GetJob(ctx, ref)
	if err != nil {
		return nil, err
	}

	if job.Status == target {
		return job, nil
	}

	action, ok := actionFor[target]
	if !ok {
		return nil, fmt.Errorf("%w: unknown job status %q", domain.ErrValidation, target)
	}
	if err := job.CanPerform(action); err != nil {
		return nil, err
	}

	switch action {
	case domain.ActionAccept:
		return c.Accept(ctx, job.ID, in.Worker)
	case domain.ActionSubmit:
		return c.Submit(ctx, job.ID, in.Content)
	case domain.ActionVerify:
		job, _, err := c.Verify(ctx, job.ID)
		return job, err
	case domain.ActionAttest:
		return c.Attest(ctx, job.ID)
	default:
		return nil, &domain.TransitionError{Action: action, From: job.Status}
	}
}

func (c *Controller) timestamp() time.Time {
	return c.now().UTC()
}
