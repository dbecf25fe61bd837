// Package lifecycletest provides in-memory collaborators for exercising the
// lifecycle controller without Postgres, gateways or a chain node.
package lifecycletest

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/cuongbtq/gigmarket/internal/api/domain"
	"github.com/cuongbtq/gigmarket/internal/lifecycle"
)

// MemoryStore is a goroutine-safe lifecycle.Store
type MemoryStore struct {
	mu            sync.Mutex
	jobs          map[string]*domain.Job
	verifications []domain.Verification
	attestations  map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:         make(map[string]*domain.Job),
		attestations: make(map[string]string),
	}
}

func (s *MemoryStore) CreateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("%w: job %s already exists", domain.ErrValidation, job.ID)
	}
	if job.TransactionHash != "" && s.findLocked(job.TransactionHash) != nil {
		return fmt.Errorf("%w: transaction hash already used", domain.ErrValidation)
	}
	s.jobs[job.ID] = clone(job)
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, ref string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := s.findLocked(ref)
	if job == nil {
		return nil, domain.ErrJobNotFound
	}
	return clone(job), nil
}

func (s *MemoryStore) ListJobs(_ context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Requester != "" && !strings.EqualFold(job.Requester, filter.Requester) {
			continue
		}
		if filter.Worker != "" && !strings.EqualFold(job.Worker, filter.Worker) {
			continue
		}
		if cur := filter.Cursor; cur != nil {
			if job.CreatedAt.After(cur.CreatedAt) {
				continue
			}
			if job.CreatedAt.Equal(cur.CreatedAt) && job.ID >= cur.JobID {
				continue
			}
		}
		jobs = append(jobs, *clone(job))
	}

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID > jobs[j].ID
	})

	if filter.PageSize > 0 && len(jobs) > filter.PageSize+1 {
		jobs = jobs[:filter.PageSize+1]
	}
	return jobs, nil
}

// UpdateJob mutates a copy under the store lock and keeps it only on success
func (s *MemoryStore) UpdateJob(_ context.Context, ref string, mutate func(job *domain.Job) error) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.findLocked(ref)
	if current == nil {
		return nil, domain.ErrJobNotFound
	}

	next := clone(current)
	if err := mutate(next); err != nil {
		return nil, err
	}
	s.jobs[next.ID] = next
	return clone(next), nil
}

func (s *MemoryStore) SaveVerification(_ context.Context, v *domain.Verification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifications = append(s.verifications, *v)
	return nil
}

func (s *MemoryStore) GetAttestation(_ context.Context, jobID string, status domain.Status) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attestations[jobID+"/"+string(status)], nil
}

func (s *MemoryStore) SaveAttestation(_ context.Context, jobID string, status domain.Status, attestationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := jobID + "/" + string(status)
	if _, ok := s.attestations[key]; !ok {
		s.attestations[key] = attestationID
	}
	return nil
}

// Verifications returns every recorded verification, oldest first
func (s *MemoryStore) Verifications() []domain.Verification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Verification(nil), s.verifications...)
}

// Put stores job as-is, bypassing lifecycle checks
func (s *MemoryStore) Put(job *domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = clone(job)
}

func (s *MemoryStore) findLocked(ref string) *domain.Job {
	if job, ok := s.jobs[ref]; ok {
		return job
	}
	for _, job := range s.jobs {
		if job.TransactionHash != "" && job.TransactionHash == ref {
			return job
		}
	}
	return nil
}

func clone(job *domain.Job) *domain.Job {
	c := *job
	if job.EscrowAmount != nil {
		c.EscrowAmount = new(big.Int).Set(job.EscrowAmount)
	}
	if job.ChainJobID != nil {
		c.ChainJobID = new(big.Int).Set(job.ChainJobID)
	}
	return &c
}

// StubVerifier accepts any content that does not contain the word "invalid"
type StubVerifier struct {
	mu    sync.Mutex
	calls int
	Err   error
}

func (v *StubVerifier) Verify(_ context.Context, requirements, content string) (domain.VerificationResult, error) {
	v.mu.Lock()
	v.calls++
	v.mu.Unlock()

	if v.Err != nil {
		return domain.VerificationResult{}, v.Err
	}
	if strings.TrimSpace(content) == "" || strings.Contains(strings.ToLower(content), "invalid") {
		return domain.VerificationResult{IsValid: false, Reason: "content does not satisfy: " + requirements}, nil
	}
	return domain.VerificationResult{IsValid: true, Reason: "content satisfies the requirements"}, nil
}

func (v *StubVerifier) Calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

// StubAttester answers with "att-<jobCid>" unless Reject or Err is set
type StubAttester struct {
	mu     sync.Mutex
	calls  int
	Reject string
	Err    error
}

func (a *StubAttester) Attest(_ context.Context, req domain.AttestationRequest) (domain.AttestationResult, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()

	if a.Err != nil {
		return domain.AttestationResult{}, a.Err
	}
	if a.Reject != "" {
		return domain.AttestationResult{Success: false, Error: a.Reject}, nil
	}
	return domain.AttestationResult{
		Success:     true,
		Attestation: &domain.AttestationRef{AttestationID: "att-" + req.JobCID},
	}, nil
}

func (a *StubAttester) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Publisher records published events
type Publisher struct {
	mu     sync.Mutex
	events []lifecycle.Event
	Err    error
}

func (p *Publisher) PublishWithRetry(_ context.Context, routingKey string, body []byte, _ string) error {
	if p.Err != nil {
		return p.Err
	}

	var ev lifecycle.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return err
	}
	if string(ev.Type) != routingKey {
		return fmt.Errorf("routing key %q does not match event %q", routingKey, ev.Type)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

// Types returns the published event types in order
func (p *Publisher) Types() []lifecycle.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]lifecycle.EventType, len(p.events))
	for i, ev := range p.events {
		types[i] = ev.Type
	}
	return types
}

// Escrow is an in-memory escrow contract
type Escrow struct {
	mu        sync.Mutex
	counter   int64
	writes    int
	Submitted map[string]string
	Approved  map[string]bool
	Err       error
}

func NewEscrow() *Escrow {
	return &Escrow{
		Submitted: make(map[string]string),
		Approved:  make(map[string]bool),
	}
}

func (e *Escrow) CreateJob(_ context.Context, _ string, amount *big.Int) (domain.EscrowReceipt, error) {
	if e.Err != nil {
		return domain.EscrowReceipt{}, e.Err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.counter++
	return domain.EscrowReceipt{
		TxHash: fmt.Sprintf("0xtx%d-%s", e.counter, amount.String()),
		JobID:  big.NewInt(e.counter),
	}, nil
}

func (e *Escrow) SubmitWork(_ context.Context, chainJobID *big.Int, submission string) (string, error) {
	if e.Err != nil {
		return "", e.Err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.Submitted[chainJobID.String()]; ok {
		return "", fmt.Errorf("job %s already fulfilled", chainJobID)
	}
	e.Submitted[chainJobID.String()] = submission
	e.writes++
	return "0xsubmit" + chainJobID.String(), nil
}

func (e *Escrow) ApproveWork(_ context.Context, chainJobID *big.Int) (string, error) {
	if e.Err != nil {
		return "", e.Err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Approved[chainJobID.String()] {
		return "", fmt.Errorf("job %s already approved", chainJobID)
	}
	e.Approved[chainJobID.String()] = true
	e.writes++
	return "0xapprove" + chainJobID.String(), nil
}

func (e *Escrow) WorkState(_ context.Context, chainJobID *big.Int) (domain.EscrowState, error) {
	if e.Err != nil {
		return domain.EscrowState{}, e.Err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	_, fulfilled := e.Submitted[chainJobID.String()]
	return domain.EscrowState{
		IsFulfilled: fulfilled,
		IsApproved:  e.Approved[chainJobID.String()],
	}, nil
}

// Writes counts the submitWork and approveWork transactions sent
func (e *Escrow) Writes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writes
}

var (
	_ lifecycle.Store     = (*MemoryStore)(nil)
	_ lifecycle.Verifier  = (*StubVerifier)(nil)
	_ lifecycle.Attester  = (*StubAttester)(nil)
	_ lifecycle.Publisher = (*Publisher)(nil)
	_ lifecycle.Escrow    = (*Escrow)(nil)
)
