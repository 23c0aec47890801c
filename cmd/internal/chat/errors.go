package chat

import "errors"

var (
	// ErrValidation is returned for malformed identifiers or missing
	// required fields. Caller-fixable; never retried automatically.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when an operation targets a nonexistent message.
	// Unknown threads are not an error: they read as empty.
	ErrNotFound = errors.New("not found")

	// ErrStorageUnavailable is returned when the persistence layer cannot be
	// reached. Fatal for the triggering operation only; callers may retry.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
