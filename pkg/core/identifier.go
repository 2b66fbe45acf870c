package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidIdentifier is returned for run identifiers that would be
// altered by sanitizing.
var ErrInvalidIdentifier = errors.New("invalid run identifier")

// SanitizeIdentifier drops every character outside [A-Za-z0-9._-].
func SanitizeIdentifier(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		}
		return -1
	}, id)
}

// ValidateIdentifier rejects identifiers that are not already sanitized or
// that cannot name a run directory.
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	// Leading dots are reserved for the sink's own files in the log root.
	if strings.HasPrefix(id, ".") {
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidIdentifier, id)
	}
	if SanitizeIdentifier(id) != id {
		return fmt.Errorf("%w: %q contains characters outside [A-Za-z0-9._-]", ErrInvalidIdentifier, id)
	}
	return nil
}
