package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/cuongbtq/gigmarket/internal/api/domain"
	"github.com/cuongbtq/gigmarket/internal/api/model"
	"github.com/cuongbtq/gigmarket/shared/postgresql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const selectJobColumns = `
	SELECT
		job_id, requirements, status, escrow_amount::text AS escrow_amount,
		content, requester, worker,
		COALESCE(transaction_hash, '') AS transaction_hash,
		COALESCE(chain_job_id::text, '') AS chain_job_id,
		COALESCE(attestation_id, '') AS attestation_id,
		created_at, updated_at
	FROM jobs
`

// Storage is the PostgreSQL job record store
type Storage struct {
	pg *postgresql.Client
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		pg: pg,
		db: pg.GetDB(),
	}
}

func (s *Storage) CreateJob(ctx context.Context, job *domain.Job) error {
	row := toModel(job)
	query := `
		INSERT INTO jobs (
			job_id, requirements, status, escrow_amount,
			content, requester, worker, transaction_hash,
			chain_job_id, attestation_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4::numeric,
			$5, $6, $7, NULLIF($8, ''),
			NULLIF($9, '')::numeric, NULLIF($10, ''), $11, $12
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		row.JobID,
		row.Requirements,
		row.Status,
		row.EscrowAmount,
		row.Content,
		row.Requester,
		row.Worker,
		row.TransactionHash,
		row.ChainJobID,
		row.AttestationID,
		row.CreatedAt,
		row.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: job with this id or transaction hash already exists", domain.ErrValidation)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJob looks a job up by id, falling back to its transaction hash
func (s *Storage) GetJob(ctx context.Context, ref string) (*domain.Job, error) {
	return getJob(ctx, s.db, ref, false)
}

func (s *Storage) ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	query := selectJobColumns + " WHERE 1=1"
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}

	if filter.Requester != "" {
		query += fmt.Sprintf(" AND lower(requester) = lower($%d)", argIdx)
		args = append(args, filter.Requester)
		argIdx++
	}

	if filter.Worker != "" {
		query += fmt.Sprintf(" AND lower(worker) = lower($%d)", argIdx)
		args = append(args, filter.Worker)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"

	// Fetch one extra so callers can tell whether another page exists
	if filter.PageSize > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.PageSize+1)
	}

	var rows []model.Job
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]domain.Job, 0, len(rows))
	for _, row := range rows {
		job, err := toDomain(row)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

// UpdateJob locks the row, applies mutate and writes the result back in one
// transaction. An error from mutate aborts the update.
func (s *Storage) UpdateJob(ctx context.Context, ref string, mutate func(job *domain.Job) error) (*domain.Job, error) {
	var updated *domain.Job

	err := s.pg.WithTx(ctx, func(tx *sqlx.Tx) error {
		job, err := getJob(ctx, tx, ref, true)
		if err != nil {
			return err
		}

		if err := mutate(job); err != nil {
			return err
		}

		row := toModel(job)
		query := `
			UPDATE jobs
			SET status = $1,
			    content = $2,
			    worker = $3,
			    transaction_hash = NULLIF($4, ''),
			    chain_job_id = NULLIF($5, '')::numeric,
			    attestation_id = NULLIF($6, ''),
			    updated_at = $7
			WHERE job_id = $8
		`
		if _, err := tx.ExecContext(ctx, query,
			row.Status,
			row.Content,
			row.Worker,
			row.TransactionHash,
			row.ChainJobID,
			row.AttestationID,
			row.UpdatedAt,
			row.JobID,
		); err != nil {
			return fmt.Errorf("failed to update job: %w", err)
		}

		updated = job
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (s *Storage) SaveVerification(ctx context.Context, v *domain.Verification) error {
	query := `
		INSERT INTO verifications (job_id, requirements, content, is_valid, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query, v.JobID, v.Requirements, v.Content, v.Result.IsValid, v.Result.Reason, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save verification: %w", err)
	}
	return nil
}

// GetAttestation returns the stored attestation id for (jobID, status), or ""
func (s *Storage) GetAttestation(ctx context.Context, jobID string, status domain.Status) (string, error) {
	var row model.Attestation
	query := `
		SELECT job_id, status, attestation_id, created_at
		FROM attestations
		WHERE job_id = $1 AND status = $2
	`
	err := s.db.GetContext(ctx, &row, query, jobID, string(status))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get attestation: %w", err)
	}
	return row.AttestationID, nil
}

// SaveAttestation records an attestation id; the first write for (jobID, status) wins
func (s *Storage) SaveAttestation(ctx context.Context, jobID string, status domain.Status, attestationID string) error {
	query := `
		INSERT INTO attestations (job_id, status, attestation_id, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (job_id, status) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, jobID, string(status), attestationID); err != nil {
		return fmt.Errorf("failed to save attestation: %w", err)
	}
	return nil
}

func getJob(ctx context.Context, q sqlx.QueryerContext, ref string, forUpdate bool) (*domain.Job, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, domain.ErrJobNotFound
	}

	query := selectJobColumns + `
		WHERE job_id = $1 OR transaction_hash = $1
		ORDER BY (job_id = $1) DESC
		LIMIT 1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var row model.Job
	if err := sqlx.GetContext(ctx, q, &row, query, ref); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return toDomain(row)
}

func toModel(job *domain.Job) model.Job {
	row := model.Job{
		JobID:           job.ID,
		Requirements:    job.Requirements,
		Status:          string(job.Status),
		EscrowAmount:    "0",
		Content:         job.Content,
		Requester:       job.Requester,
		Worker:          job.Worker,
		TransactionHash: job.TransactionHash,
		AttestationID:   job.AttestationID,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}
	if job.EscrowAmount != nil {
		row.EscrowAmount = job.EscrowAmount.String()
	}
	if job.ChainJobID != nil {
		row.ChainJobID = job.ChainJobID.String()
	}
	return row
}

func toDomain(row model.Job) (*domain.Job, error) {
	status, err := domain.ParseStatus(row.Status)
	if err != nil {
		return nil, fmt.Errorf("job %s has corrupt status: %w", row.JobID, err)
	}

	escrow, ok := new(big.Int).SetString(row.EscrowAmount, 10)
	if !ok {
		return nil, fmt.Errorf("job %s has corrupt escrow amount %q", row.JobID, row.EscrowAmount)
	}

	job := &domain.Job{
		ID:              row.JobID,
		Requirements:    row.Requirements,
		Status:          status,
		EscrowAmount:    escrow,
		Content:         row.Content,
		Requester:       row.Requester,
		Worker:          row.Worker,
		TransactionHash: row.TransactionHash,
		AttestationID:   row.AttestationID,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}

	if row.ChainJobID != "" {
		chainID, ok := new(big.Int).SetString(row.ChainJobID, 10)
		if !ok {
			return nil, fmt.Errorf("job %s has corrupt chain job id %q", row.JobID, row.ChainJobID)
		}
		job.ChainJobID = chainID
	}

	return job, nil
}
