package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// ProviderConfig holds the OIDC client registration
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scope        string
	DiscoveryURL string
	HTTPClient   *http.Client
}

// Provider runs the authorization code flow with PKCE against an OIDC issuer
type Provider struct {
	config     *oauth2.Config
	verifier   *gooidc.IDTokenVerifier
	httpClient *http.Client
}

// NewProvider fetches the discovery document and prepares the OAuth2 client
func NewProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, errors.New("client secret is required")
	}
	if cfg.RedirectURL == "" {
		return nil, errors.New("redirect URL is required")
	}
	if cfg.DiscoveryURL == "" {
		return nil, errors.New("discovery URL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	issuer := strings.TrimSuffix(cfg.DiscoveryURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")

	op, err := gooidc.NewProvider(gooidc.ClientContext(ctx, httpClient), issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc new provider: %w", err)
	}

	scope := cfg.Scope
	if scope == "" {
		scope = gooidc.ScopeOpenID
	}

	return &Provider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       strings.Fields(scope),
			Endpoint:     op.Endpoint(),
		},
		verifier:   op.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
		httpClient: httpClient,
	}, nil
}

// AuthCodeURL builds the redirect to the provider's consent page
func (p *Provider) AuthCodeURL(state, nonce, codeVerifier string) string {
	return p.config.AuthCodeURL(state,
		gooidc.Nonce(nonce),
		oauth2.S256ChallengeOption(codeVerifier),
	)
}

type idTokenClaims struct {
	Subject           string `json:"sub"`
	Nonce             string `json:"nonce"`
	VerificationLevel string `json:"https://id.worldcoin.org/v1.verification_level"`
}

// Exchange trades the code for tokens and verifies the ID token and nonce
func (p *Provider) Exchange(ctx context.Context, code, codeVerifier, nonce string) (Identity, error) {
	if code == "" {
		return Identity{}, errors.New("authorization code is required")
	}

	ctx = gooidc.ClientContext(ctx, p.httpClient)
	token, err := p.config.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return Identity{}, fmt.Errorf("exchange code for token: %w", err)
	}

	rawID, ok := token.Extra("id_token").(string)
	if !ok || rawID == "" {
		return Identity{}, errors.New("missing id_token in token response")
	}

	idToken, err := p.verifier.Verify(ctx, rawID)
	if err != nil {
		return Identity{}, fmt.Errorf("verify id_token: %w", err)
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("parse id_token claims: %w", err)
	}
	if claims.Nonce != nonce {
		return Identity{}, errors.New("invalid nonce")
	}

	return Identity{
		Subject:           claims.Subject,
		VerificationLevel: claims.VerificationLevel,
	}, nil
}
