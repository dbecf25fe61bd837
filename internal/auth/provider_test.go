package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newDiscoveryServer(t *testing.T) *httptest.Server {
	t.Helper()

	var issuer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 issuer,
			"authorization_endpoint": "https://id.example/authorize",
			"token_endpoint":         "https://id.example/token",
			"userinfo_endpoint":      "https://id.example/userinfo",
			"jwks_uri":               "https://id.example/jwks",
		})
	}))
	issuer = srv.URL
	t.Cleanup(srv.Close)
	return srv
}

func TestNewProvider_Discovery(t *testing.T) {
	srv := newDiscoveryServer(t)

	p, err := NewProvider(context.Background(), ProviderConfig{
		ClientID:     "app_staging_123",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:8080/auth/callback",
		DiscoveryURL: srv.URL + "/.well-known/openid-configuration",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://id.example/authorize", p.config.Endpoint.AuthURL)
	assert.Equal(t, "https://id.example/token", p.config.Endpoint.TokenURL)
	assert.Equal(t, []string{"openid"}, p.config.Scopes)

	verifier := oauth2.GenerateVerifier()
	u, err := url.Parse(p.AuthCodeURL("st", "nc", verifier))
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "st", q.Get("state"))
	assert.Equal(t, "nc", q.Get("nonce"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, oauth2.S256ChallengeFromVerifier(verifier), q.Get("code_challenge"))
	assert.Equal(t, "app_staging_123", q.Get("client_id"))
}

func TestNewProvider_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		config ProviderConfig
		errMsg string
	}{
		{
			name:   "missing client ID",
			config: ProviderConfig{ClientSecret: "s", RedirectURL: "http://cb", DiscoveryURL: "http://id"},
			errMsg: "client ID is required",
		},
		{
			name:   "missing client secret",
			config: ProviderConfig{ClientID: "c", RedirectURL: "http://cb", DiscoveryURL: "http://id"},
			errMsg: "client secret is required",
		},
		{
			name:   "missing redirect URL",
			config: ProviderConfig{ClientID: "c", ClientSecret: "s", DiscoveryURL: "http://id"},
			errMsg: "redirect URL is required",
		},
		{
			name:   "missing discovery URL",
			config: ProviderConfig{ClientID: "c", ClientSecret: "s", RedirectURL: "http://cb"},
			errMsg: "discovery URL is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(context.Background(), tt.config)
			assert.EqualError(t, err, tt.errMsg)
		})
	}
}

func TestProvider_ExchangeRequiresCode(t *testing.T) {
	p := &Provider{config: &oauth2.Config{}}
	_, err := p.Exchange(context.Background(), "", "v", "n")
	assert.Error(t, err)
}
