package session

import (
	"errors"

	"signchat/pkg/domain"
)

// ErrNotFound is returned when no session exists for the given id.
var ErrNotFound = errors.New("session not found")

// Store is the session repository. It replaces ad-hoc shared-map access:
// call sites never mutate a shared structure directly, and Update serializes
// concurrent writers for the same session id.
type Store interface {
	// Get returns the session for id, or ErrNotFound.
	Get(id string) (domain.Session, error)
	// GetOrCreate returns the session for id, creating an empty one when
	// the id has not been seen before.
	GetOrCreate(id string) domain.Session
	// Update applies mutate to the session for id (creating it first when
	// absent) and returns the stored result. Mutations for the same id are
	// applied one at a time.
	Update(id string, mutate func(*domain.Session)) domain.Session
	// Delete removes a session. Missing ids are a no-op.
	Delete(id string)
	// Count returns the number of live sessions.
	Count() int
}
