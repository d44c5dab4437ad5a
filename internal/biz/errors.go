package biz

import "errors"

var (
	// ErrUnknownProvider is returned for a provider id missing from the registry.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrStateMismatch covers forged, replayed and expired callbacks.
	ErrStateMismatch = errors.New("state mismatch")
	// ErrInvalidCallback is returned when the provider reports an error or omits the code.
	ErrInvalidCallback = errors.New("invalid callback")
	// ErrExchangeFailed is returned when the token endpoint rejects the code or answers garbage.
	ErrExchangeFailed = errors.New("token exchange failed")
	// ErrNetwork is returned when the token endpoint cannot be reached.
	ErrNetwork = errors.New("provider unreachable")
	// ErrNotSignedIn is returned when no live session is associated with the request.
	ErrNotSignedIn = errors.New("not signed in")
)
