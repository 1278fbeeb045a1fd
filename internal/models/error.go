package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Gate state errors
	ErrStorageUnavailable = errors.New("state store unavailable")
	ErrChallengeNotFound  = errors.New("two-factor challenge not found")
	ErrNotEnrolled        = errors.New("no TOTP enrollment for user")
	ErrInvalidAddress     = errors.New("invalid network address")
)
