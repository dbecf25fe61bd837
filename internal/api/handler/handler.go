package handler

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/cuongbtq/gigmarket/internal/api/domain"
	"github.com/cuongbtq/gigmarket/internal/auth"
	"github.com/cuongbtq/gigmarket/internal/chain"
	"github.com/cuongbtq/gigmarket/internal/gateway/indexer"
	"github.com/cuongbtq/gigmarket/internal/lifecycle"
)

// JobService is the lifecycle controller as seen by HTTP handlers
type JobService interface {
	Create(ctx context.Context, in lifecycle.CreateInput) (*domain.Job, error)
	Get(ctx context.Context, ref string) (*domain.Job, error)
	List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error)
	Accept(ctx context.Context, ref, worker string) (*domain.Job, error)
	Submit(ctx context.Context, ref, content string) (*domain.Job, error)
	Verify(ctx context.Context, ref string) (*domain.Job, domain.VerificationResult, error)
	Attest(ctx context.Context, ref string) (*domain.Job, error)
	Advance(ctx context.Context, ref string, target domain.Status, in lifecycle.AdvanceInput) (*domain.Job, error)
	MinimumEscrow() *big.Int
}

// Signer asks the attestation agent to sign an arbitrary status
type Signer interface {
	Attest(ctx context.Context, req domain.AttestationRequest) (domain.AttestationResult, error)
}

// AttestationIndex looks attestations up by id
type AttestationIndex interface {
	Attestation(ctx context.Context, id string) (*indexer.Attestation, error)
}

// ChainReader exposes contract reads and the schema registration
type ChainReader interface {
	JobCounter(ctx context.Context) (*big.Int, error)
	Job(ctx context.Context, index *big.Int) (*chain.OnchainJob, error)
	RegisterJobStatusSchema(ctx context.Context) (string, error)
}

// SessionService runs the sign-in flow
type SessionService interface {
	Begin(ctx context.Context, returnTo string) (string, error)
	Complete(ctx context.Context, state, code string) (auth.Session, string, error)
	Session(ctx context.Context, id string) (auth.Session, error)
	Logout(ctx context.Context, id string) error
	SessionTTL() time.Duration
}

// HealthChecker reports backing store health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers. Chain and Auth
// are nil when disabled.
type Dependencies struct {
	Logger         *slog.Logger
	Jobs           JobService
	Signer         Signer
	Indexer        AttestationIndex
	Chain          ChainReader
	Auth           SessionService
	Health         HealthChecker
	CookieName     string
	CookieSecure   bool
	AllowedOrigins []string
	ServiceName    string
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	jobs   JobService
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
	}
}

// AgentHandler serves the action-style AI agent endpoint
type AgentHandler struct {
	logger *slog.Logger
	jobs   JobService
}

func NewAgentHandler(deps *Dependencies) *AgentHandler {
	return &AgentHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
	}
}

// GatewayHandler proxies signing, indexer and chain reads
type GatewayHandler struct {
	logger  *slog.Logger
	signer  Signer
	indexer AttestationIndex
	chain   ChainReader
}

func NewGatewayHandler(deps *Dependencies) *GatewayHandler {
	return &GatewayHandler{
		logger:  deps.Logger,
		signer:  deps.Signer,
		indexer: deps.Indexer,
		chain:   deps.Chain,
	}
}

// AuthHandler serves the sign-in routes
type AuthHandler struct {
	logger       *slog.Logger
	auth         SessionService
	cookieName   string
	cookieSecure bool
}

func NewAuthHandler(deps *Dependencies) *AuthHandler {
	name := deps.CookieName
	if name == "" {
		name = "gigmarket_session"
	}
	return &AuthHandler{
		logger:       deps.Logger,
		auth:         deps.Auth,
		cookieName:   name,
		cookieSecure: deps.CookieSecure,
	}
}
