package gate

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotAllowed indicates the caller lacks privilege for the operation,
	// including banned users attempting verification.
	ErrNotAllowed = errors.New("not allowed")
	// ErrWhitelisted indicates the user is whitelisted and needs no
	// verification; no session is created.
	ErrWhitelisted = errors.New("already whitelisted")
	// ErrNoSession indicates no active session exists for the user.
	ErrNoSession = errors.New("no active session")
	// ErrExpired indicates the session outlived its time-to-live.
	ErrExpired = errors.New("session expired")
	// ErrValidation indicates malformed input, e.g. a non-numeric user id.
	ErrValidation = errors.New("invalid input")
)

// RateLimitedError tells the caller how long to wait before retrying.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryAfter.Round(time.Second))
}
