package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	// ErrTokenExpired and ErrInvalidToken both satisfy errors.Is(err, ErrUnauthenticated).
	ErrTokenExpired       = fmt.Errorf("%w: token expired", ErrUnauthenticated)
	ErrInvalidToken       = fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account temporarily locked")
	ErrAccountInactive    = errors.New("account is inactive")
	ErrForbidden          = errors.New("forbidden")
	ErrRateLimited        = errors.New("too many requests")

	ErrIdentityNotFound = errors.New("identity not found")
	// ErrResourceNotFound is returned by owner resolvers for missing resources.
	ErrResourceNotFound = errors.New("resource not found")
)

type LockedError struct {
	Until time.Time
}

func (e LockedError) Error() string {
	return ErrAccountLocked.Error()
}

func (e LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e RateLimitedError) Error() string {
	return ErrRateLimited.Error()
}

func (e RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}
