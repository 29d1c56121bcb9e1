// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity or version does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates an optimistic concurrency failure in storage
	// (another writer committed the same version sequence first).
	ErrVersionConflict = errors.New("version conflict")

	// ErrUnauthorized indicates a missing or invalid principal.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the principal lacks the required capability.
	ErrForbidden = errors.New("forbidden")

	// ErrValidation indicates malformed input (time range, batch size, recurrence rule).
	ErrValidation = errors.New("validation")

	// ErrConflict indicates a version race lost after retries or a rejected scheduling conflict.
	ErrConflict = errors.New("conflict")

	// ErrInvalidOperation indicates an operation that would break an invariant
	// (e.g. demoting the sole owner).
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrResourceExhausted indicates a capacity limit was hit (e.g. live channels per user).
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g. username taken).
	ErrAlreadyExists = errors.New("already exists")
)
