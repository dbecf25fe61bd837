package model

import "time"

// Job is a row of the jobs table. Nullable columns are selected through
// COALESCE so every field scans into a plain string.
type Job struct {
	JobID           string    `db:"job_id"`
	Requirements    string    `db:"requirements"`
	Status          string    `db:"status"`
	EscrowAmount    string    `db:"escrow_amount"`
	Content         string    `db:"content"`
	Requester       string    `db:"requester"`
	Worker          string    `db:"worker"`
	TransactionHash string    `db:"transaction_hash"`
	ChainJobID      string    `db:"chain_job_id"`
	AttestationID   string    `db:"attestation_id"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// Verification is a row of the verifications table
type Verification struct {
	ID           int64     `db:"id"`
	JobID        string    `db:"job_id"`
	Requirements string    `db:"requirements"`
	Content      string    `db:"content"`
	IsValid      bool      `db:"is_valid"`
	Reason       string    `db:"reason"`
	CreatedAt    time.Time `db:"created_at"`
}

// Attestation is a row of the attestations table, unique per (job_id, status)
type Attestation struct {
	JobID         string    `db:"job_id"`
	Status        string    `db:"status"`
	AttestationID string    `db:"attestation_id"`
	CreatedAt     time.Time `db:"created_at"`
}
