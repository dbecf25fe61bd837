package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when no job matches an id or transaction hash
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when an action does not apply to the job's status
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrValidation is returned when caller input fails a precondition
	ErrValidation = errors.New("validation failed")

	// ErrEscrowBelowMinimum is returned when a job is funded below the minimum escrow
	ErrEscrowBelowMinimum = errors.New("escrow amount below minimum")

	// ErrAttestationRejected is returned when the attestation gateway answers without an attestation
	ErrAttestationRejected = errors.New("attestation rejected")
)

// TransitionError describes a rejected lifecycle action
type TransitionError struct {
	Action Action
	From   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s job in status %q", e.Action, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
