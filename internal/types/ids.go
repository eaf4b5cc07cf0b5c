package types

import (
	"time"

	"github.com/google/uuid"
)

// CorrelationID identifies one outstanding host question within a dispatch.
type CorrelationID string

// DecisionID identifies one recorded authorization decision.
type DecisionID string

// NewCorrelationID generates a UUIDv7 correlation id.
// Panics if the random source fails (uuid.Must); acceptable for ID generation.
func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.Must(uuid.NewV7()).String())
}

// NewDecisionID generates a UUIDv7 decision identifier.
// Time-ordered IDs ensure sequential inserts cluster in B-tree pages.
func NewDecisionID() DecisionID {
	return DecisionID(uuid.Must(uuid.NewV7()).String())
}

// ParseDecisionID validates and converts a string to DecisionID.
func ParseDecisionID(s string) (DecisionID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return DecisionID(s), nil
}

// DecisionIDTime extracts the timestamp embedded in a UUIDv7 decision id.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func DecisionIDTime(id DecisionID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
