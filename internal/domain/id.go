package domain

import "github.com/google/uuid"

// ParseID parses a string id, wrapping uuid's error for callers that only
// care whether the id was well-formed.
func ParseID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
