// Package common defines shared constants and sentinel errors used across
// the collector's stores, samplers and services. Callers should use errors.Is
// to match these values.
package common

import "errors"

var (
	// Store-level errors.
	ErrNotFound = errors.New("not found")

	// ErrTransientStore marks a failed call against the relational or object
	// store. No state was modified; callers treat it as "nothing available now".
	ErrTransientStore = errors.New("store temporarily unavailable")

	// ErrPoolExhausted means no unused prompt could be found.
	ErrPoolExhausted = errors.New("prompt pool exhausted")

	// ErrIntegrityConflict is returned by repositories on a duplicate unique key.
	// Services translate it into "already present".
	ErrIntegrityConflict = errors.New("integrity conflict")

	// ErrValidation rejects a submission before any I/O happens.
	ErrValidation = errors.New("validation error")

	// Session token errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
