package model

import "errors"

var (
	// ErrProviderUnavailable: the mail provider's fetch/send endpoint is unreachable.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrStoreUnavailable: the local message store or semantic index is unreachable.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrValidation: malformed tool arguments or recipients.
	ErrValidation = errors.New("validation error")
	// ErrTransport: an outbound send failed.
	ErrTransport = errors.New("transport error")
	// ErrProtocol: the reasoning service emitted an unknown or malformed tool call.
	ErrProtocol = errors.New("protocol error")
	ErrNotFound = errors.New("not found")
)
