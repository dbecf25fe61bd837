package domain

import (
	"math/big"
	"time"
)

// VerificationResult is the AI gateway's judgement of a submission
type VerificationResult struct {
	IsValid bool   `json:"isValid"`
	Reason  string `json:"reason"`
}

// Verification is the persisted record of one verify call
type Verification struct {
	JobID        string
	Requirements string
	Content      string
	Result       VerificationResult
	CreatedAt    time.Time
}

// AttestationRequest is the completion record sent to the signing gateway
type AttestationRequest struct {
	JobCID  string `json:"jobCid"`
	Status  string `json:"status"`
	Content string `json:"content,omitempty"`
}

// AttestationRef identifies an attestation created on-chain
type AttestationRef struct {
	AttestationID string `json:"attestationId"`
}

// AttestationResult is the signing gateway's answer
type AttestationResult struct {
	Success     bool            `json:"success"`
	Attestation *AttestationRef `json:"attestation,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// ID returns the attestation id, or "" when the gateway did not produce one
func (r AttestationResult) ID() string {
	if r.Attestation == nil {
		return ""
	}
	return r.Attestation.AttestationID
}

// EscrowReceipt is the on-chain outcome of funding a job
type EscrowReceipt struct {
	TxHash string
	JobID  *big.Int
}

// EscrowState is the contract's view of a job's work
type EscrowState struct {
	IsFulfilled bool
	IsApproved  bool
}
