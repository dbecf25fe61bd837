// Package indexer looks attestations up in the Sign Protocol subgraph.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cuongbtq/gigmarket/internal/gateway"
)

// ErrNotFound is returned when the subgraph has no attestation for an id
var ErrNotFound = errors.New("attestation not found")

const attestationQuery = `query($id: ID!) {
  attestation(id: $id) {
    id
    schemaId
    attester
    data
    timestamp
  }
}`

// Attestation is an indexed on-chain attestation
type Attestation struct {
	ID        string `json:"id"`
	SchemaID  string `json:"schemaId"`
	Attester  string `json:"attester"`
	Data      string `json:"data"`
	Timestamp string `json:"timestamp"`
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Data struct {
		Attestation *Attestation `json:"attestation"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type Client struct {
	caller   *gateway.Caller
	endpoint string
}

func NewClient(endpoint string, caller *gateway.Caller) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("indexer: graphql endpoint is required")
	}
	return &Client{caller: caller, endpoint: endpoint}, nil
}

// Attestation fetches one attestation by id; ids are matched lowercased
func (c *Client) Attestation(ctx context.Context, id string) (*Attestation, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return nil, errors.New("attestation id is required")
	}

	raw, err := c.caller.PostJSON(ctx, c.endpoint, graphQLRequest{
		Query:     attestationQuery,
		Variables: map[string]any{"id": id},
	})
	if err != nil {
		return nil, err
	}

	var resp graphQLResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON response from indexer: %w", err)
	}

	if len(resp.Errors) > 0 {
		msgs := make([]string, len(resp.Errors))
		for i, e := range resp.Errors {
			msgs[i] = e.Message
		}
		return nil, fmt.Errorf("indexer query failed: %s", strings.Join(msgs, "; "))
	}

	if resp.Data.Attestation == nil {
		return nil, ErrNotFound
	}
	return resp.Data.Attestation, nil
}
