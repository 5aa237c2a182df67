package domain

import "errors"

var (
	// ErrInvalidRequest marks a malformed inbound event. No state is changed.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotFound marks an event referencing a connection or vehicle with no live state.
	ErrNotFound = errors.New("not found")
	// ErrForbidden marks an event the connection's role may not send.
	ErrForbidden = errors.New("forbidden")
	// ErrUpstream marks a routing-service failure or timeout.
	ErrUpstream = errors.New("upstream failure")
)
