// Package core defines the fundamental types and errors for Mind Sprite.
package core

import "errors"

// Turn-level errors surfaced to callers of the orchestrator
var (
	ErrInvalidSession     = errors.New("invalid session identifier")
	ErrInvalidInput       = errors.New("invalid input")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrModelUnavailable   = errors.New("model unavailable")
	ErrInternal           = errors.New("internal error")

	// Storage errors
	ErrRecordNotFound  = errors.New("record not found")
	ErrDuplicateRecord = errors.New("duplicate record")
	ErrMigrationFailed = errors.New("migration failed")

	// Lexicon errors
	ErrLexiconInvalid = errors.New("lexicon invalid")
)

// ErrorKind is the closed set of error kinds reported to the hosting UI.
type ErrorKind string

const (
	KindInvalidSession     ErrorKind = "invalid_session"
	KindInvalidInput       ErrorKind = "invalid_input"
	KindStorageUnavailable ErrorKind = "storage_unavailable"
	KindModelUnavailable   ErrorKind = "model_unavailable"
	KindInternal           ErrorKind = "internal"
)

// KindOf maps an error chain onto its kind. Anything unrecognised is internal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidSession):
		return KindInvalidSession
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrStorageUnavailable):
		return KindStorageUnavailable
	case errors.Is(err, ErrModelUnavailable):
		return KindModelUnavailable
	default:
		return KindInternal
	}
}
