package clubs

import (
	"errors"
	"time"
)

var (
	// ErrClubNotFound indicates the club does not exist.
	ErrClubNotFound = errors.New("clubs: club not found")
	// ErrStoreNotFound indicates the hosting store does not exist.
	ErrStoreNotFound = errors.New("clubs: store not found")
	// ErrAlreadyMember indicates the user already belongs to the club.
	ErrAlreadyMember = errors.New("clubs: already a member")
)

// Club is a reading club hosted by a store.
type Club struct {
	ID        int64
	StoreID   int64
	Name      string
	CreatedAt time.Time
}

// Membership links a user to a club.
type Membership struct {
	ClubID   int64
	UserID   int64
	JoinedAt time.Time
}
