// Package common defines the shared error taxonomy and small helpers used
// across cloudcore components. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Store-level errors.
	ErrUnavailable       = errors.New("store unavailable")
	ErrNotFound          = errors.New("not found")
	ErrPersistenceFailed = errors.New("persistence failed")

	// Identity / credential errors.
	ErrAlreadyExists    = errors.New("already exists")
	ErrValidationFailed = errors.New("validation failed")

	// Session / token errors.
	ErrExpired           = errors.New("expired")
	ErrSignatureMismatch = errors.New("signature mismatch")
)
