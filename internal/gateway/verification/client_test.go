package verification

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

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	caller := gateway.NewCaller(gateway.Config{Timeout: time.Second, RetryWaitMin: time.Millisecond, RetryWaitMax: time.Millisecond}, nil)
	client, err := NewClient(Config{
		BaseURL:   srv.URL,
		AgentCID:  "QmVerifier",
		SecretKey: "phala-secret",
		OpenAIKey: "sk-test",
	}, caller)
	require.NoError(t, err)
	return client
}

func TestClient_Verify(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/ipfs/QmVerifier", r.URL.Path)
		assert.Equal(t, "phala-secret", r.URL.Query().Get("key"))

		var req agentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "GET", req.Method)
		assert.Equal(t, "/ipfs/CID", req.Path)
		assert.Equal(t, []string{"a haiku"}, req.Queries["requirements"])
		assert.Equal(t, []string{"old pond"}, req.Queries["content"])
		assert.Equal(t, "sk-test", req.Secret["openaiApiKey"])
		assert.NotNil(t, req.Headers)

		_, _ = w.Write([]byte(`{"isValid":true,"reason":"it is a haiku"}`))
	})

	result, err := client.Verify(context.Background(), "a haiku", "old pond")
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Equal(t, "it is a haiku", result.Reason)
}

func TestClient_VerifyErrors(t *testing.T) {
	t.Run("gateway status", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})
		_, err := client.Verify(context.Background(), "r", "c")

		var gwErr *gateway.Error
		require.ErrorAs(t, err, &gwErr)
		assert.Equal(t, http.StatusForbidden, gwErr.StatusCode)
	})

	t.Run("malformed body", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		})
		_, err := client.Verify(context.Background(), "r", "c")
		assert.ErrorContains(t, err, "invalid JSON")
	})
}

func TestNewClient_RequiresLocation(t *testing.T) {
	_, err := NewClient(Config{AgentCID: "x"}, nil)
	assert.Error(t, err)

	_, err = NewClient(Config{BaseURL: "http://gw"}, nil)
	assert.Error(t, err)
}
