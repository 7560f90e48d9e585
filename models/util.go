package models

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateID generates a unique ID with the given prefix.
// Example: GenerateID("auth") -> "auth:uuid-here"
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s:%s", prefix, uuid.New().String())
}

// GenerateRemoteName builds a backend-side object name such as "backup-5-1a2b3c4d"
// for dispatches whose caller did not supply one.
func GenerateRemoteName(kind string, infraID int) string {
	return fmt.Sprintf("%s-%d-%s", kind, infraID, uuid.New().String()[:8])
}
