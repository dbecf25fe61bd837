package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// IdentityProvider is the OIDC side of the login flow
type IdentityProvider interface {
	AuthCodeURL(state, nonce, codeVerifier string) string
	Exchange(ctx context.Context, code, codeVerifier, nonce string) (Identity, error)
}

// Store persists sessions and pending logins
type Store interface {
	SaveSession(ctx context.Context, session Session, ttl time.Duration) error
	GetSession(ctx context.Context, id string) (Session, error)
	DeleteSession(ctx context.Context, id string) error
	SavePending(ctx context.Context, pending PendingLogin, ttl time.Duration) error
	TakePending(ctx context.Context, state string) (PendingLogin, error)
}

// ServiceOptions groups dependencies for Service
type ServiceOptions struct {
	Provider   IdentityProvider
	Store      Store
	SessionTTL time.Duration
	PendingTTL time.Duration
	Logger     *slog.Logger
	Now        func() time.Time
}

// Service coordinates the login flow and session lookups
type Service struct {
	provider   IdentityProvider
	store      Store
	sessionTTL time.Duration
	pendingTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(opts ServiceOptions) *Service {
	s := &Service{
		provider:   opts.Provider,
		store:      opts.Store,
		sessionTTL: opts.SessionTTL,
		pendingTTL: opts.PendingTTL,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if s.sessionTTL <= 0 {
		s.sessionTTL = 24 * time.Hour
	}
	if s.pendingTTL <= 0 {
		s.pendingTTL = 10 * time.Minute
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Begin starts a login and returns the provider URL to redirect to
func (s *Service) Begin(ctx context.Context, returnTo string) (string, error) {
	state, err := randomToken(32)
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	nonce, err := randomToken(32)
	if err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	pending := PendingLogin{
		State:        state,
		Nonce:        nonce,
		CodeVerifier: oauth2.GenerateVerifier(),
		ReturnTo:     returnTo,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.SavePending(ctx, pending, s.pendingTTL); err != nil {
		return "", fmt.Errorf("save pending login: %w", err)
	}

	return s.provider.AuthCodeURL(pending.State, pending.Nonce, pending.CodeVerifier), nil
}

// Complete finishes the callback and creates a session. The returned
// string is the ReturnTo recorded at Begin.
func (s *Service) Complete(ctx context.Context, state, code string) (Session, string, error) {
	if state == "" {
		return Session{}, "", ErrInvalidState
	}
	if code == "" {
		return Session{}, "", errors.New("authorization code is required")
	}

	pending, err := s.store.TakePending(ctx, state)
	if err != nil {
		return Session{}, "", err
	}

	identity, err := s.provider.Exchange(ctx, code, pending.CodeVerifier, pending.Nonce)
	if err != nil {
		return Session{}, "", fmt.Errorf("exchange authorization code: %w", err)
	}

	now := s.now().UTC()
	session := Session{
		ID:                uuid.NewString(),
		Subject:           identity.Subject,
		VerificationLevel: identity.VerificationLevel,
		Role:              RoleAdmin,
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.sessionTTL),
	}
	if err := s.store.SaveSession(ctx, session, s.sessionTTL); err != nil {
		return Session{}, "", fmt.Errorf("save session: %w", err)
	}

	s.logger.Info("User signed in",
		slog.String("sub", session.Subject),
		slog.String("verification_level", session.VerificationLevel),
	)
	return session, pending.ReturnTo, nil
}

// Session looks a session up and drops it once expired
func (s *Service) Session(ctx context.Context, id string) (Session, error) {
	if id == "" {
		return Session{}, ErrSessionNotFound
	}

	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return Session{}, err
	}

	if s.now().After(session.ExpiresAt) {
		if err := s.store.DeleteSession(ctx, id); err != nil {
			return Session{}, errors.Join(ErrSessionExpired, err)
		}
		return Session{}, ErrSessionExpired
	}
	return session, nil
}

// SessionTTL is how long new sessions live
func (s *Service) SessionTTL() time.Duration {
	return s.sessionTTL
}

func (s *Service) Logout(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := s.store.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
