package rabbitmq

import (
	"context"
	"io"
	"log/slog"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_URL(t *testing.T) {
	tests := []struct {
		name      string
		vhost     string
		wantVHost string
	}{
		{name: "default vhost", vhost: ""},
		{name: "root vhost", vhost: "/"},
		{name: "named vhost", vhost: "/gigmarket", wantVHost: "gigmarket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Host: "mq.internal", Port: 5673, User: "gig", Password: "p@ss/word", VHost: tt.vhost}

			uri, err := amqp.ParseURI(cfg.URL())
			require.NoError(t, err)
			assert.Equal(t, "mq.internal", uri.Host)
			assert.Equal(t, 5673, uri.Port)
			assert.Equal(t, "gig", uri.Username)
			assert.Equal(t, "p@ss/word", uri.Password)
			if tt.wantVHost != "" {
				assert.Equal(t, tt.wantVHost, uri.Vhost)
			}
		})
	}
}

func TestClient_Disconnected(t *testing.T) {
	client := &Client{
		config: &Config{QueueName: "job.attestation"},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	assert.False(t, client.IsConnected())
	assert.ErrorIs(t, client.HealthCheck(context.Background()), ErrNotConnected)
	assert.ErrorIs(t, client.PublishWithRetry(context.Background(), "job.validated", []byte("{}"), "application/json"), ErrNotConnected)

	_, err := client.Consume("worker-1")
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, client.Close())
}

func TestNewClient_DialFailure(t *testing.T) {
	_, err := NewClient(&Config{
		Host:          "127.0.0.1",
		Port:          1,
		User:          "guest",
		Password:      "guest",
		RetryAttempts: 2,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}
