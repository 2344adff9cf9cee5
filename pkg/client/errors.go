package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrNotConfigured is returned when the client has no API key or was
	// never constructed through New.
	ErrNotConfigured = errors.New("client not configured")

	// ErrAuthentication is matched by every *AuthenticationError.
	ErrAuthentication = errors.New("authentication failed")

	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrCircuitOpen is returned when the circuit breaker rejects a request.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// OutcomeClass is the classification of a transport outcome.
type OutcomeClass string

const (
	// OutcomeSuccess is a 200 response.
	OutcomeSuccess OutcomeClass = "success"

	// OutcomeRetryable is a retryable status or a network failure.
	OutcomeRetryable OutcomeClass = "retryable"

	// OutcomeAuth is a 401 response.
	OutcomeAuth OutcomeClass = "auth"

	// OutcomeTerminal is any other non-success status.
	OutcomeTerminal OutcomeClass = "terminal"
)

// AuthenticationError is returned when the server rejects the API key.
type AuthenticationError struct {
	Endpoint string
	Body     []byte
}

// Error implements the error interface.
func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed for %s: renew authorization token", e.Endpoint)
}

// Is makes errors.Is(err, ErrAuthentication) true.
func (e *AuthenticationError) Is(target error) bool {
	return target == ErrAuthentication
}

// ConnectionError is returned when a request fails for any reason other than
// authentication: a terminal status, exhausted retries, a network error or an
// open circuit breaker.
type ConnectionError struct {
	// Endpoint is the resolved endpoint path without credentials.
	Endpoint string

	// StatusCode is the last observed HTTP status, 0 if no response arrived.
	StatusCode int

	// Body is the last observed response body.
	Body []byte

	// Attempts is the number of HTTP attempts made for the failing page.
	Attempts int

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	msg := fmt.Sprintf("request to %s failed", e.Endpoint)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" with status %d", e.StatusCode)
	}
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if len(e.Body) > 0 {
		msg += fmt.Sprintf(": %s", truncate(e.Body, 256))
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
