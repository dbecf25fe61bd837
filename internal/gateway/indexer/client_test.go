package indexer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuongbtq/gigmarket/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, respond func(id string) string) *Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Query, "attestation(id: $id)")

		id, _ := req.Variables["id"].(string)
		_, _ = w.Write([]byte(respond(id)))
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL, gateway.NewCaller(gateway.Config{Timeout: time.Second}, nil))
	require.NoError(t, err)
	return client
}

func TestClient_Attestation(t *testing.T) {
	client := newTestClient(t, func(id string) string {
		assert.Equal(t, "0xabc", id, "id must be lowercased")
		return `{"data":{"attestation":{"id":"0xabc","schemaId":"0x1","attester":"0xdef","data":"0x00","timestamp":"1727000000"}}}`
	})

	att, err := client.Attestation(context.Background(), "0xABC")
	require.NoError(t, err)
	assert.Equal(t, &Attestation{
		ID:        "0xabc",
		SchemaID:  "0x1",
		Attester:  "0xdef",
		Data:      "0x00",
		Timestamp: "1727000000",
	}, att)
}

func TestClient_AttestationNotFound(t *testing.T) {
	client := newTestClient(t, func(string) string {
		return `{"data":{"attestation":null}}`
	})

	_, err := client.Attestation(context.Background(), "0x1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_AttestationQueryErrors(t *testing.T) {
	client := newTestClient(t, func(string) string {
		return `{"errors":[{"message":"bad id"},{"message":"again"}]}`
	})

	_, err := client.Attestation(context.Background(), "0x1")
	assert.ErrorContains(t, err, "bad id; again")
}

func TestClient_AttestationRequiresID(t *testing.T) {
	client, err := NewClient("http://unused", gateway.NewCaller(gateway.Config{}, nil))
	require.NoError(t, err)

	_, err = client.Attestation(context.Background(), "  ")
	assert.Error(t, err)
}
