// SPDX-License-Identifier: MIT

// Package fault defines the typed error kinds shared across the service.
// Handlers return these; the HTTP boundary owns the translation to status
// codes and the JSON envelope.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error for boundary translation.
type Kind int

const (
	// Internal is the default for unexpected failures.
	Internal Kind = iota
	// Validation covers malformed input: bad enums, negative limits.
	Validation
	// Unauthorized covers missing or invalid API keys.
	Unauthorized
	// Forbidden covers non-LAN clients when lan_only is enforced.
	Forbidden
	// NotFound covers unknown drive labels, missing paths, unknown items.
	NotFound
	// Gated covers resources that exist but are currently unavailable:
	// assistant disabled, semantic index not ready, rate-limited upstream.
	Gated
	// Unavailable covers dependencies that are down after retries.
	Unavailable
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	case Gated:
		return "gated"
	case Unavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Error carries a kind, a user-safe message and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Details any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an error of the given kind with a user-safe message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an error of the given kind with a formatted user-safe message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new error of the given kind. The cause is kept
// for logging but never rendered to clients.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, cause: cause}
}

// WithDetails returns a copy carrying structured details for the envelope.
func (e *Error) WithDetails(details any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// KindOf extracts the kind from err, defaulting to Internal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// MessageOf extracts the user-safe message from err. Unknown errors map to a
// generic message so internals never leak.
func MessageOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	return "internal error"
}

// DetailsOf extracts structured details if present.
func DetailsOf(err error) any {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Details
	}
	return nil
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}
