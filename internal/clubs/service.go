package clubs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/readerly/readerly/internal/entitlement"
	"github.com/readerly/readerly/internal/roles"
)

// MembershipStore is the persistence surface the service needs.
type MembershipStore interface {
	CreateClub(ctx context.Context, storeID int64, name string, at time.Time) (Club, error)
	AddMember(ctx context.Context, clubID, userID int64, at time.Time) error
	CountMemberships(ctx context.Context, userID int64) (int64, error)
}

// Checker is the enforcement boundary the service consults before any
// guarded mutation.
type Checker interface {
	CheckAction(ctx context.Context, userID int64, target entitlement.Context, actionID string) (entitlement.Decision, error)
}

// Granter issues role assignments; joining a club grants the club-scoped
// member role, appointing grants club_moderator.
type Granter interface {
	Grant(ctx context.Context, userID int64, kind entitlement.RoleKind, target entitlement.Context, grantedBy *int64) (roles.Assignment, error)
}

// Service is the reference call site of the enforcement engine: every
// guarded club action goes through one CheckAction call and acts only on
// an allowed decision.
type Service struct {
	store   MembershipStore
	checker Checker
	granter Granter
	logger  *slog.Logger
}

// NewService constructs a Service.
func NewService(store MembershipStore, checker Checker, granter Granter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, checker: checker, granter: granter, logger: logger}
}

// Create opens a new club under the store when the engine allows it.
// The creator is seeded as the club's first member.
func (s *Service) Create(ctx context.Context, userID, storeID int64, name string) (Club, entitlement.Decision, error) {
	decision, err := s.checker.CheckAction(ctx, userID, entitlement.StoreContext(storeID), entitlement.ActionCreateClub)
	if err != nil {
		return Club{}, entitlement.Decision{}, err
	}
	if !decision.Allowed {
		return Club{}, decision, nil
	}
	now := time.Now().UTC()
	club, err := s.store.CreateClub(ctx, storeID, name, now)
	if err != nil {
		return Club{}, entitlement.Decision{}, err
	}
	if err := s.store.AddMember(ctx, club.ID, userID, now); err != nil && !errors.Is(err, ErrAlreadyMember) {
		return Club{}, entitlement.Decision{}, fmt.Errorf("clubs: seed creator membership: %w", err)
	}
	if _, err := s.granter.Grant(ctx, userID, entitlement.RoleMember, entitlement.ClubContext(club.ID), nil); err != nil && !errors.Is(err, roles.ErrDuplicateGrant) {
		return Club{}, entitlement.Decision{}, fmt.Errorf("clubs: grant member role: %w", err)
	}
	return club, decision, nil
}

// Join adds the user to the club when the engine allows it. The denied
// decision is returned as data, never as an error; callers present
// quota_exceeded and insufficient_entitlement differently.
func (s *Service) Join(ctx context.Context, userID, clubID int64) (entitlement.Decision, error) {
	decision, err := s.checker.CheckAction(ctx, userID, entitlement.ClubContext(clubID), entitlement.ActionJoinClub)
	if err != nil {
		return entitlement.Decision{}, err
	}
	if !decision.Allowed {
		return decision, nil
	}
	if err := s.store.AddMember(ctx, clubID, userID, time.Now().UTC()); err != nil {
		return entitlement.Decision{}, err
	}
	// Membership carries the club-scoped member role; a racing duplicate
	// grant is harmless.
	if _, err := s.granter.Grant(ctx, userID, entitlement.RoleMember, entitlement.ClubContext(clubID), nil); err != nil && !errors.Is(err, roles.ErrDuplicateGrant) {
		return entitlement.Decision{}, fmt.Errorf("clubs: grant member role: %w", err)
	}
	return decision, nil
}

// AppointModerator grants the club_moderator role when the acting user
// is allowed to and the moderator roster has room.
func (s *Service) AppointModerator(ctx context.Context, actorID, clubID, targetUserID int64) (entitlement.Decision, error) {
	decision, err := s.checker.CheckAction(ctx, actorID, entitlement.ClubContext(clubID), entitlement.ActionAppointModerator)
	if err != nil {
		return entitlement.Decision{}, err
	}
	if !decision.Allowed {
		return decision, nil
	}
	if _, err := s.granter.Grant(ctx, targetUserID, entitlement.RoleClubModerator, entitlement.ClubContext(clubID), &actorID); err != nil {
		if errors.Is(err, roles.ErrDuplicateGrant) {
			return entitlement.Decision{}, fmt.Errorf("clubs: %d already moderates club %d: %w", targetUserID, clubID, err)
		}
		return entitlement.Decision{}, err
	}
	return decision, nil
}
