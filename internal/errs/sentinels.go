// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across storage/service/transport layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoSession indicates there is no signed-in principal on this client.
	ErrNoSession = errors.New("no session")

	// ErrInvalidClaims indicates identity data that is missing mandatory fields.
	ErrInvalidClaims = errors.New("invalid claims")

	// ErrEntryTooLarge indicates a scoped storage value exceeds the entry size cap.
	ErrEntryTooLarge = errors.New("entry too large")

	// ErrUnsafeTarget indicates a navigation target that failed redirect safety checks.
	ErrUnsafeTarget = errors.New("unsafe redirect target")

	// ErrMissingConfig indicates required startup configuration is absent.
	ErrMissingConfig = errors.New("missing configuration")
)
