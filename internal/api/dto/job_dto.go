package dto

import (
	"encoding/json"
	"time"

	"github.com/cuongbtq/gigmarket/internal/api/domain"
)

// CreateJobRequest posts a new job. EscrowAmount is in tokens ("0.25"),
// EscrowAmountWei in base units; exactly one is expected.
type CreateJobRequest struct {
	Requirements    string `json:"requirements" binding:"required"`
	EscrowAmount    string `json:"escrowAmount"`
	EscrowAmountWei string `json:"escrowAmountWei"`
	Requester       string `json:"requester"`
	TransactionHash string `json:"transactionHash"`
	ChainJobID      string `json:"chainJobId"`
}

// UpdateJobRequest asks for the transition that leads to Status
type UpdateJobRequest struct {
	ID      string `json:"id" binding:"required"`
	Status  string `json:"status" binding:"required"`
	Content string `json:"content"`
	Worker  string `json:"worker"`
}

type AcceptJobRequest struct {
	Worker string `json:"worker" binding:"required"`
}

type SubmitJobRequest struct {
	Content string `json:"content" binding:"required"`
}

// ListJobsRequest filters GET /job and GET /api/v1/jobs
type ListJobsRequest struct {
	Status    string `form:"status"`
	Requester string `form:"requester"`
	Worker    string `form:"worker"`
	PageSize  int    `form:"page_size"`
	Cursor    string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// JobResponse wraps a single job the way POST and PUT /job answer
type JobResponse struct {
	Job JobDTO `json:"job"`
}

type JobDTO struct {
	ID              string `json:"id"`
	Requirements    string `json:"requirements"`
	Status          string `json:"status"`
	EscrowAmount    string `json:"escrowAmount"`
	EscrowAmountWei string `json:"escrowAmountWei"`
	Content         string `json:"content,omitempty"`
	Requester       string `json:"requester"`
	Worker          string `json:"worker"`
	IsFulfilled     bool   `json:"isFulfilled"`
	IsApproved      bool   `json:"isApproved"`
	TransactionHash string `json:"transactionHash,omitempty"`
	ChainJobID      string `json:"chainJobId,omitempty"`
	AttestationID   string `json:"attestationId,omitempty"`
	CreatedAt       string `json:"createdAt"`
	UpdatedAt       string `json:"updatedAt"`
}

// FromJob renders a domain job
func FromJob(job *domain.Job) JobDTO {
	out := JobDTO{
		ID:              job.ID,
		Requirements:    job.Requirements,
		Status:          string(job.Status),
		EscrowAmount:    domain.FormatTokenAmount(job.EscrowAmount),
		EscrowAmountWei: "0",
		Content:         job.Content,
		Requester:       job.Requester,
		Worker:          job.Worker,
		IsFulfilled:     job.IsFulfilled(),
		IsApproved:      job.IsApproved(),
		TransactionHash: job.TransactionHash,
		AttestationID:   job.AttestationID,
		CreatedAt:       job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       job.UpdatedAt.Format(time.RFC3339),
	}
	if job.EscrowAmount != nil {
		out.EscrowAmountWei = job.EscrowAmount.String()
	}
	if job.ChainJobID != nil {
		out.ChainJobID = job.ChainJobID.String()
	}
	return out
}

// FromJobs renders a listing, never as null
func FromJobs(jobs []domain.Job) []JobDTO {
	out := make([]JobDTO, len(jobs))
	for i := range jobs {
		out[i] = FromJob(&jobs[i])
	}
	return out
}

// AgentRequest is the action envelope of POST /phala-ai-agent
type AgentRequest struct {
	Action string          `json:"action" binding:"required"`
	Data   json.RawMessage `json:"data"`
}

type CreateRequestData struct {
	Requirements string `json:"requirements"`
	EscrowAmount string `json:"escrowAmount"`
	Requester    string `json:"requester"`
}

type SubmitContentData struct {
	RequestID string `json:"requestId"`
	Content   string `json:"content"`
	Worker    string `json:"worker"`
}

type VerifyContentData struct {
	RequestID string `json:"requestId"`
}

// SignRequest is the body of POST /phala-viem-sign
type SignRequest struct {
	JobCID  string `json:"jobCid"`
	Status  string `json:"status"`
	Content string `json:"content"`
}
