// Package auth implements sign-in through an OpenID Connect provider with
// sessions kept in Redis.
package auth

import (
	"errors"
	"time"
)

// RoleAdmin is granted to every signed-in user
const RoleAdmin = "admin"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrInvalidState    = errors.New("unknown or expired login state")
)

// Session is a signed-in user
type Session struct {
	ID                string    `json:"id"`
	Subject           string    `json:"sub"`
	VerificationLevel string    `json:"verification_level"`
	Role              string    `json:"role"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// PendingLogin is the state kept between the login redirect and the callback
type PendingLogin struct {
	State        string    `json:"state"`
	Nonce        string    `json:"nonce"`
	CodeVerifier string    `json:"code_verifier"`
	ReturnTo     string    `json:"return_to,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Identity is what the provider asserts about the user
type Identity struct {
	Subject           string
	VerificationLevel string
}
