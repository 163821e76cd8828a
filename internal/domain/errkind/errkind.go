// Package errkind defines the error taxonomy consumed by the HTTP layer
// and the fallback engine (§7). Every Kind carries a status class; errors
// are built with New/Wrap and inspected with errors.As, never recovered
// from a panic.
package errkind

import "fmt"

// Kind is one taxonomy entry. Kinds are grouped by the phase that raises
// them: configuration (load-time, fatal), request (4xx, no fallback),
// transformation (enters the fallback engine), storage, auth, range, and
// an unknown catch-all.
type Kind string

const (
	MissingBinding   Kind = "MissingBinding"
	InvalidConfig    Kind = "InvalidConfig"
	SchemaViolation  Kind = "SchemaViolation"

	NoMatchingPattern Kind = "NoMatchingPattern"
	InvalidOption     Kind = "InvalidOption"
	UnknownDerivative Kind = "UnknownDerivative"

	DurationLimit       Kind = "DurationLimit"
	FileSizeLimit       Kind = "FileSizeLimit"
	UpstreamClientError Kind = "UpstreamClientError"
	UpstreamServerError Kind = "UpstreamServerError"

	KVMiss             Kind = "KVMiss"
	KVCorrupt          Kind = "KVCorrupt"
	KVWriteFailure     Kind = "KVWriteFailure"
	EdgeCacheMiss      Kind = "EdgeCacheMiss"
	OriginFetchFailure Kind = "OriginFetchFailure"

	MissingCredentials       Kind = "MissingCredentials"
	SigningFailure           Kind = "SigningFailure"
	PresignGenerationFailure Kind = "PresignGenerationFailure"

	UnsatisfiableRange Kind = "UnsatisfiableRange"

	Unknown Kind = "Unknown"

	Timeout Kind = "Timeout"
)

// StatusClass returns the HTTP status family a Kind maps to, used by the
// response builder and the fallback engine's decision to enter the chain.
func (k Kind) StatusClass() int {
	switch k {
	case MissingBinding, InvalidConfig, SchemaViolation:
		return 500
	case NoMatchingPattern:
		return 404
	case InvalidOption, UnknownDerivative:
		return 400
	case DurationLimit, FileSizeLimit, UpstreamClientError:
		return 400
	case UpstreamServerError:
		return 500
	case UnsatisfiableRange:
		return 416
	case MissingCredentials, SigningFailure, PresignGenerationFailure:
		return 500
	case Timeout:
		return 504
	default:
		return 500
	}
}

// Fallbackable reports whether a Kind is expected to enter the fallback
// engine (transformation-class errors only, per §4.10).
func (k Kind) Fallbackable() bool {
	switch k {
	case DurationLimit, FileSizeLimit, UpstreamClientError, UpstreamServerError:
		return true
	default:
		return false
	}
}

// Error is a taxonomy-tagged error carrying a context map for structured
// logging, as required by §7's "every error carries a status class, a
// kind tag, and a context map".
type Error struct {
	Kind    Kind
	Message string
	Context map[string]string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind with a message and optional
// context fields (passed as alternating key/value strings).
func New(kind Kind, message string, kv ...string) *Error {
	return &Error{Kind: kind, Message: message, Context: toMap(kv)}
}

// Wrap builds an Error of the given kind around an underlying cause.
func Wrap(kind Kind, cause error, kv ...string) *Error {
	return &Error{Kind: kind, Cause: cause, Context: toMap(kv)}
}

func toMap(kv []string) map[string]string {
	if len(kv) == 0 {
		return nil
	}
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return m
}
