package util

import "github.com/google/uuid"

// NewID returns a collision-resistant random identifier. Entity and
// session identifiers share the same UUID format.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether s parses as a UUID.
func ValidID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
