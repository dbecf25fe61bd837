// Package verification calls the AI agent that judges a submission against
// the job requirements.
package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cuongbtq/gigmarket/internal/api/domain"
	"github.com/cuongbtq/gigmarket/internal/gateway"
)

// Config locates the verification agent
type Config struct {
	BaseURL   string
	AgentCID  string
	SecretKey string
	OpenAIKey string
}

// Client is the verification gateway client
type Client struct {
	caller   *gateway.Caller
	endpoint string
	cfg      Config
}

type agentRequest struct {
	Method  string              `json:"method"`
	Path    string              `json:"path"`
	Queries map[string][]string `json:"queries"`
	Secret  map[string]string   `json:"secret"`
	Headers map[string]string   `json:"headers"`
}

// NewClient validates cfg and builds a Client
func NewClient(cfg Config, caller *gateway.Caller) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("verification: base url is required")
	}
	if cfg.AgentCID == "" {
		return nil, errors.New("verification: agent cid is required")
	}

	return &Client{
		caller:   caller,
		endpoint: gateway.AgentURL(cfg.BaseURL, cfg.AgentCID, cfg.SecretKey),
		cfg:      cfg,
	}, nil
}

// Verify sends requirements and content to the agent and decodes its verdict
func (c *Client) Verify(ctx context.Context, requirements, content string) (domain.VerificationResult, error) {
	var result domain.VerificationResult

	req := agentRequest{
		Method: "GET",
		Path:   "/ipfs/CID",
		Queries: map[string][]string{
			"requirements": {requirements},
			"content":      {content},
		},
		Secret:  map[string]string{"openaiApiKey": c.cfg.OpenAIKey},
		Headers: map[string]string{},
	}

	body, err := c.caller.PostJSON(ctx, c.endpoint, req)
	if err != nil {
		return result, err
	}

	if err := json.Unmarshal(body, &result); err != nil {
		return result, fmt.Errorf("invalid JSON response from verification gateway: %w", err)
	}
	return result, nil
}
