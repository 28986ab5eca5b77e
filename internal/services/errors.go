package services

import "errors"

var (
	// ErrValidation wraps a validate.Errs with the failing fields.
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	// ErrPersistence and ErrGateway are transient; callers may retry.
	ErrPersistence = errors.New("payment store unavailable")
	ErrGateway     = errors.New("payment gateway unavailable")
	ErrConflict    = errors.New("conflicting payment state")
	ErrLinkInvalid = errors.New("payment link invalid")
	// ErrInvalidSignature rejects an unauthenticated webhook delivery.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)
