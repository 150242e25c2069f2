package bus

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/reasond/internal/registry"
)

// Bus errors.
var (
	// ErrAllProvidersExhausted is wrapped by every ExhaustedError.
	ErrAllProvidersExhausted = errors.New("all providers exhausted")

	// ErrNoEligibleProvider means no provider matched the capability filter
	// or every match had an open breaker.
	ErrNoEligibleProvider = errors.New("no eligible provider")

	// ErrCallTimeout marks a provider call that hit the per-call deadline.
	ErrCallTimeout = errors.New("provider call timed out")

	// ErrMalformedOutput is wrapped by every MalformedOutputError.
	ErrMalformedOutput = errors.New("malformed provider output")
)

// ExhaustedError reports that every eligible provider failed.
type ExhaustedError struct {
	Domain    registry.Domain
	Op        string
	Providers int
	Attempts  int
	LastErr   error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s bus: %s: all providers exhausted (%d providers, %d attempts): %v",
		e.Domain, e.Op, e.Providers, e.Attempts, e.LastErr)
}

// Unwrap exposes ErrAllProvidersExhausted and the last provider error.
func (e *ExhaustedError) Unwrap() []error {
	if e.LastErr == nil {
		return []error{ErrAllProvidersExhausted}
	}
	return []error{ErrAllProvidersExhausted, e.LastErr}
}

// MalformedOutputError reports a structured result that failed schema
// validation on every allowed attempt.
type MalformedOutputError struct {
	Schema   string
	Provider string
	Err      error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("malformed output for schema %q from %s: %v", e.Schema, e.Provider, e.Err)
}

// Unwrap exposes ErrMalformedOutput and the validation error.
func (e *MalformedOutputError) Unwrap() []error {
	return []error{ErrMalformedOutput, e.Err}
}

// haltError stops the bus from retrying or failing over. The provider
// answered, so it is not charged a breaker failure.
type haltError struct{ err error }

func (h *haltError) Error() string { return h.err.Error() }
func (h *haltError) Unwrap() error { return h.err }

// Halt wraps err so that Do returns it immediately, without further
// retries or failover. Use it for answers that are wrong rather than
// failed, such as schema violations or unknown tool names.
func Halt(err error) error {
	if err == nil {
		return nil
	}
	return &haltError{err: err}
}

// skipError passes the call to the next provider without charging the
// current one. It is used when a provider cannot serve a request by
// construction, such as a tool it does not offer.
type skipError struct{ err error }

func (s *skipError) Error() string { return s.err.Error() }
func (s *skipError) Unwrap() error { return s.err }

// Skip wraps err so that Do moves on to the next provider without a
// retry or a breaker failure.
func Skip(err error) error {
	if err == nil {
		return nil
	}
	return &skipError{err: err}
}
