package domain

import "errors"

var (
	// ErrBadRequest marks malformed or incomplete webhook payloads. Nothing
	// is published when this surfaces.
	ErrBadRequest = errors.New("proofcast: bad request")
	// ErrUnauthorized marks a failed signature verification.
	ErrUnauthorized = errors.New("proofcast: unauthorized")
	// ErrNotFound marks an unresolvable tenant or domain.
	ErrNotFound = errors.New("proofcast: not found")
	// ErrForbidden marks a tenant that resolved but may not stream
	// (not verified, not sandboxed).
	ErrForbidden = errors.New("proofcast: forbidden")
	// ErrBusUnavailable marks a publish that could not reach the bus. The
	// caller logs and drops; delivery is best effort.
	ErrBusUnavailable = errors.New("proofcast: bus unavailable")
	// ErrConnectionWrite marks a write failure on a single connection. The
	// failure is isolated: that connection closes, others are unaffected.
	ErrConnectionWrite = errors.New("proofcast: connection write failed")
)
