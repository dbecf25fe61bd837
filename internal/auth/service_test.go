package auth

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	pending  map[string]PendingLogin
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: map[string]Session{}, pending: map[string]PendingLogin{}}
}

func (m *memoryStore) SaveSession(_ context.Context, s Session, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *memoryStore) GetSession(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (m *memoryStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memoryStore) SavePending(_ context.Context, p PendingLogin, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[p.State] = p
	return nil
}

func (m *memoryStore) TakePending(_ context.Context, state string) (PendingLogin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[state]
	if !ok {
		return PendingLogin{}, ErrInvalidState
	}
	delete(m.pending, state)
	return p, nil
}

type fakeProvider struct {
	gotVerifier string
	gotNonce    string
	err         error
}

func (f *fakeProvider) AuthCodeURL(state, nonce, codeVerifier string) string {
	return "https://id.example/authorize?" + url.Values{"state": {state}, "nonce": {nonce}, "v": {codeVerifier}}.Encode()
}

func (f *fakeProvider) Exchange(_ context.Context, code, codeVerifier, nonce string) (Identity, error) {
	f.gotVerifier = codeVerifier
	f.gotNonce = nonce
	if f.err != nil {
		return Identity{}, f.err
	}
	return Identity{Subject: "0xuser-" + code, VerificationLevel: "orb"}, nil
}

func beginAndParse(t *testing.T, svc *Service) url.Values {
	t.Helper()
	authURL, err := svc.Begin(context.Background(), "/marketplace")
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	return u.Query()
}

func TestService_LoginFlow(t *testing.T) {
	store := newMemoryStore()
	provider := &fakeProvider{}
	now := time.Date(2024, 9, 22, 12, 0, 0, 0, time.UTC)
	svc := NewService(ServiceOptions{Provider: provider, Store: store, SessionTTL: time.Hour, Now: func() time.Time { return now }})

	q := beginAndParse(t, svc)
	require.NotEmpty(t, q.Get("state"))
	require.NotEqual(t, q.Get("state"), q.Get("nonce"))

	session, returnTo, err := svc.Complete(context.Background(), q.Get("state"), "abc")
	require.NoError(t, err)
	assert.Equal(t, "/marketplace", returnTo)
	assert.Equal(t, "0xuser-abc", session.Subject)
	assert.Equal(t, "orb", session.VerificationLevel)
	assert.Equal(t, RoleAdmin, session.Role)
	assert.Equal(t, now.Add(time.Hour), session.ExpiresAt)
	assert.Equal(t, q.Get("v"), provider.gotVerifier)
	assert.Equal(t, q.Get("nonce"), provider.gotNonce)

	got, err := svc.Session(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, session, got)

	require.NoError(t, svc.Logout(context.Background(), session.ID))
	_, err = svc.Session(context.Background(), session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestService_StateIsSingleUse(t *testing.T) {
	svc := NewService(ServiceOptions{Provider: &fakeProvider{}, Store: newMemoryStore()})
	q := beginAndParse(t, svc)

	_, _, err := svc.Complete(context.Background(), q.Get("state"), "code")
	require.NoError(t, err)

	_, _, err = svc.Complete(context.Background(), q.Get("state"), "code")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, _, err = svc.Complete(context.Background(), "forged", "code")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestService_ExchangeFailure(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(ServiceOptions{Provider: &fakeProvider{err: errors.New("invalid_grant")}, Store: store})
	q := beginAndParse(t, svc)

	_, _, err := svc.Complete(context.Background(), q.Get("state"), "code")
	assert.ErrorContains(t, err, "invalid_grant")
	assert.Empty(t, store.sessions)
}

func TestService_ExpiredSessionIsDropped(t *testing.T) {
	store := newMemoryStore()
	now := time.Date(2024, 9, 22, 12, 0, 0, 0, time.UTC)
	svc := NewService(ServiceOptions{Provider: &fakeProvider{}, Store: store, Now: func() time.Time { return now }})

	require.NoError(t, store.SaveSession(context.Background(), Session{ID: "s1", ExpiresAt: now.Add(-time.Minute)}, time.Hour))

	_, err := svc.Session(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.NotContains(t, store.sessions, "s1")
}
