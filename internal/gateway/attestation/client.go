// Package attestation calls the signing agent that records job status
// attestations on-chain.
package attestation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cuongbtq/gigmarket/internal/api/domain"
	"github.com/cuongbtq/gigmarket/internal/gateway"
)

// Config locates the signing agent
type Config struct {
	BaseURL   string
	AgentCID  string
	SecretKey string
}

// Client is the attestation gateway client
type Client struct {
	caller   *gateway.Caller
	endpoint string
}

// NewClient builds the client. The caller's HTTP retries are disabled.
func NewClient(cfg Config, caller *gateway.Caller) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("attestation: base url is required")
	}
	if cfg.AgentCID == "" {
		return nil, errors.New("attestation: agent cid is required")
	}

	// Each POST creates an attestation; retries belong to the worker, which
	// checks for a stored attestation first
	return &Client{
		caller:   caller.WithoutRetries(),
		endpoint: gateway.AgentURL(cfg.BaseURL, cfg.AgentCID, cfg.SecretKey),
	}, nil
}

// envelope covers both answer shapes: the direct result, or a wrapper
// carrying the result as a JSON string in body
type envelope struct {
	domain.AttestationResult
	StatusCode int     `json:"statusCode"`
	Body       *string `json:"body"`
}

// Attest requests an attestation for req
func (c *Client) Attest(ctx context.Context, req domain.AttestationRequest) (domain.AttestationResult, error) {
	if strings.TrimSpace(req.JobCID) == "" || strings.TrimSpace(req.Status) == "" {
		return domain.AttestationResult{}, fmt.Errorf("%w: jobCid and status are required", domain.ErrValidation)
	}

	raw, err := c.caller.PostJSON(ctx, c.endpoint, req)
	if err != nil {
		return domain.AttestationResult{}, err
	}
	return decodeResult(raw)
}

func decodeResult(raw []byte) (domain.AttestationResult, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.AttestationResult{}, fmt.Errorf("invalid JSON response from attestation gateway: %w", err)
	}

	if env.Body == nil {
		return env.AttestationResult, nil
	}

	if env.StatusCode >= 300 {
		return domain.AttestationResult{}, &gateway.Error{StatusCode: env.StatusCode, Body: *env.Body}
	}

	var result domain.AttestationResult
	if err := json.Unmarshal([]byte(*env.Body), &result); err != nil {
		return domain.AttestationResult{}, fmt.Errorf("invalid JSON in attestation gateway body: %w", err)
	}
	return result, nil
}
