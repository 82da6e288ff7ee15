package core

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,64}$`)

// ValidateSessionID accepts a UUID or 8-64 characters of [A-Za-z0-9_-].
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSession)
	}
	if sessionIDPattern.MatchString(id) {
		return nil
	}
	if _, err := uuid.Parse(id); err == nil && len(id) == 36 {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidSession, id)
}

// NewSessionID mints a fresh random session identifier
func NewSessionID() string {
	return uuid.NewString()
}
