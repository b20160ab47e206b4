package roles

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/readerly/readerly/internal/entitlement"
)

var (
	// ErrNotFound indicates the assignment does not exist.
	ErrNotFound = errors.New("roles: assignment not found")
	// ErrDuplicateGrant indicates an identical active grant already exists.
	ErrDuplicateGrant = errors.New("roles: duplicate active grant")
	// ErrAlreadyRevoked indicates the assignment was revoked earlier.
	ErrAlreadyRevoked = errors.New("roles: assignment already revoked")
)

// Assignment is a durable grant of a role to a user. Assignments are
// never mutated in place; a revocation closes the record and a new grant
// opens a fresh one, preserving the audit trail.
type Assignment struct {
	ID        uuid.UUID
	UserID    int64
	Kind      entitlement.RoleKind
	Context   entitlement.Context
	GrantedBy *int64
	GrantedAt time.Time
	RevokedAt *time.Time
	RevokedBy *int64
}

// Active reports whether the assignment is currently in force.
func (a Assignment) Active() bool { return a.RevokedAt == nil }
