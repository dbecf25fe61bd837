package domain

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Status is the lifecycle state of a job
type Status string

// Job status constants, in lifecycle order
const (
	JobStatusOpen      Status = "open"
	JobStatusAccepted  Status = "accepted"
	JobStatusSubmitted Status = "submitted"
	JobStatusValidated Status = "validated"
	JobStatusCompleted Status = "completed"
)

var statusRank = map[Status]int{
	JobStatusOpen:      0,
	JobStatusAccepted:  1,
	JobStatusSubmitted: 2,
	JobStatusValidated: 3,
	JobStatusCompleted: 4,
}

// ParseStatus converts a raw string into a known Status
func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", invalidf("unknown job status %q", s)
	}
	return status, nil
}

// Valid reports whether s is one of the lifecycle states
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Before reports whether s comes strictly earlier in the lifecycle than other
func (s Status) Before(other Status) bool {
	return statusRank[s] < statusRank[other]
}

// Action is a lifecycle operation applied to a job
type Action string

const (
	ActionCreate Action = "create"
	ActionAccept Action = "accept"
	ActionSubmit Action = "submit"
	ActionVerify Action = "verify"
	ActionAttest Action = "attest"
)

// requiredStatus is the only status from which each action may start
var requiredStatus = map[Action]Status{
	ActionAccept: JobStatusOpen,
	ActionSubmit: JobStatusAccepted,
	ActionVerify: JobStatusSubmitted,
	ActionAttest: JobStatusValidated,
}

// Job is an escrowed unit of work posted by a requester
type Job struct {
	ID              string
	Requirements    string
	Status          Status
	EscrowAmount    *big.Int // base units, 10^18 per token
	Content         string
	Requester       string
	Worker          string
	TransactionHash string
	ChainJobID      *big.Int
	AttestationID   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewJob validates the create preconditions and returns an open job
func NewJob(id, requirements string, escrow, minimum *big.Int, requester string, now time.Time) (*Job, error) {
	requirements = strings.TrimSpace(requirements)
	if requirements == "" {
		return nil, invalidf("requirements are required")
	}

	if escrow == nil || escrow.Sign() <= 0 {
		return nil, invalidf("escrow amount must be positive")
	}

	if minimum != nil && escrow.Cmp(minimum) < 0 {
		return nil, fmt.Errorf("%w: %s < %s", ErrEscrowBelowMinimum, escrow.String(), minimum.String())
	}

	if requester != "" {
		addr, err := NormalizeAddress(requester)
		if err != nil {
			return nil, err
		}
		requester = addr
	}

	return &Job{
		ID:           id,
		Requirements: requirements,
		Status:       JobStatusOpen,
		EscrowAmount: new(big.Int).Set(escrow),
		Requester:    requester,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// IsFulfilled reports whether work has been handed in
func (j *Job) IsFulfilled() bool {
	return !j.Status.Before(JobStatusSubmitted)
}

// IsApproved reports whether the job completed and its escrow was released
func (j *Job) IsApproved() bool {
	return j.Status == JobStatusCompleted
}

// CanPerform checks that action may start from the job's current status
func (j *Job) CanPerform(action Action) error {
	from, ok := requiredStatus[action]
	if !ok || j.Status != from {
		return &TransitionError{Action: action, From: j.Status}
	}
	return nil
}

// Accept assigns the worker and moves open -> accepted
func (j *Job) Accept(worker string, now time.Time) error {
	if err := j.CanPerform(ActionAccept); err != nil {
		return err
	}

	addr, err := NormalizeAddress(worker)
	if err != nil {
		return err
	}

	j.Worker = addr
	j.advance(JobStatusAccepted, now)
	return nil
}

// Submit records the provider's content and moves accepted -> submitted
func (j *Job) Submit(content string, now time.Time) error {
	if err := j.CanPerform(ActionSubmit); err != nil {
		return err
	}

	if strings.TrimSpace(content) == "" {
		return invalidf("content is required")
	}

	j.Content = content
	j.advance(JobStatusSubmitted, now)
	return nil
}

// ApplyVerification moves submitted -> validated on a passing result.
// A failing result leaves the job submitted so it can be verified again.
func (j *Job) ApplyVerification(result VerificationResult, now time.Time) error {
	if err := j.CanPerform(ActionVerify); err != nil {
		return err
	}

	if result.IsValid {
		j.advance(JobStatusValidated, now)
	} else {
		j.UpdatedAt = now
	}
	return nil
}

// Complete stores the attestation id and moves validated -> completed
func (j *Job) Complete(attestationID string, now time.Time) error {
	if err := j.CanPerform(ActionAttest); err != nil {
		return err
	}

	if strings.TrimSpace(attestationID) == "" {
		return invalidf("attestation id is required")
	}

	j.AttestationID = attestationID
	j.advance(JobStatusCompleted, now)
	return nil
}

// advance only ever moves forward; callers have already checked the transition
func (j *Job) advance(to Status, now time.Time) {
	if !j.Status.Before(to) {
		panic(fmt.Sprintf("job %s: status regression %s -> %s", j.ID, j.Status, to))
	}
	j.Status = to
	j.UpdatedAt = now
}

// NormalizeAddress validates a hex wallet address and returns its checksummed form
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", invalidf("wallet address is required")
	}
	if !common.IsHexAddress(addr) {
		return "", invalidf("invalid wallet address %q", addr)
	}
	return common.HexToAddress(addr).Hex(), nil
}

// JobFilter narrows job listings
type JobFilter struct {
	Status    Status
	Requester string
	Worker    string
	PageSize  int // 0 means no limit
	Cursor    *JobCursor
}

// JobCursor is the keyset position for paginated listings
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}
