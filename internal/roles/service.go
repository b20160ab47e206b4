package roles

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/readerly/readerly/internal/entitlement"
)

// Store is the persistence surface the service needs.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (Assignment, error)
	Insert(ctx context.Context, a Assignment) error
	Revoke(ctx context.Context, id uuid.UUID, revokedBy *int64, at time.Time) error
}

// Invalidator drops cached entitlement state after a mutation commits.
type Invalidator interface {
	InvalidateUser(ctx context.Context, userID int64) error
	InvalidateUserContext(ctx context.Context, userID int64, target entitlement.Context) error
}

// Recorder appends role-affecting actions to the activity log.
type Recorder interface {
	RecordRoleEvent(ctx context.Context, action string, a Assignment) error
}

// Service owns the grant/revoke lifecycle. Every mutation is followed,
// in order, by a cache invalidation so no caller observes entitlements
// computed from pre-mutation state after the call returns.
type Service struct {
	store    Store
	cache    Invalidator
	recorder Recorder
	logger   *slog.Logger
}

// NewService constructs a Service.
func NewService(store Store, cache Invalidator, recorder Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, cache: cache, recorder: recorder, logger: logger}
}

// Grant creates a new active assignment.
func (s *Service) Grant(ctx context.Context, userID int64, kind entitlement.RoleKind, target entitlement.Context, grantedBy *int64) (Assignment, error) {
	if userID <= 0 {
		return Assignment{}, fmt.Errorf("roles: user id required")
	}
	if !kind.Valid() {
		return Assignment{}, fmt.Errorf("roles: unknown role kind %q", kind)
	}
	if err := target.Validate(); err != nil {
		return Assignment{}, err
	}
	if target.Kind != kind.ScopeKind() {
		return Assignment{}, fmt.Errorf("roles: %s is a %s-scoped role, got %s context", kind, kind.ScopeKind(), target.Kind)
	}

	assignment := Assignment{
		ID:        uuid.New(),
		UserID:    userID,
		Kind:      kind,
		Context:   target,
		GrantedBy: grantedBy,
		GrantedAt: time.Now().UTC(),
	}
	if err := s.store.Insert(ctx, assignment); err != nil {
		return Assignment{}, err
	}
	if err := s.invalidate(ctx, assignment); err != nil {
		return Assignment{}, err
	}
	s.record(ctx, "role.grant", assignment)
	return assignment, nil
}

// Revoke closes an active assignment and invalidates the holder's cache.
func (s *Service) Revoke(ctx context.Context, id uuid.UUID, revokedBy *int64) (Assignment, error) {
	assignment, err := s.store.Get(ctx, id)
	if err != nil {
		return Assignment{}, err
	}
	if err := s.store.Revoke(ctx, id, revokedBy, time.Now().UTC()); err != nil {
		return Assignment{}, err
	}
	if err := s.invalidate(ctx, assignment); err != nil {
		return Assignment{}, err
	}
	s.record(ctx, "role.revoke", assignment)
	return assignment, nil
}

// invalidate runs after the mutation has committed. A club-scoped change
// can only affect that club's entry; platform and store scoped changes
// reach into descendant contexts, so the whole user is dropped.
func (s *Service) invalidate(ctx context.Context, a Assignment) error {
	var err error
	if a.Context.Kind == entitlement.KindClub {
		err = s.cache.InvalidateUserContext(ctx, a.UserID, a.Context)
	} else {
		err = s.cache.InvalidateUser(ctx, a.UserID)
	}
	if err != nil {
		// The grant/revoke is durable but stale entries may survive
		// until TTL; surface the failure so the caller can retry the
		// invalidation.
		return fmt.Errorf("roles: invalidate after mutation: %w", err)
	}
	return nil
}

func (s *Service) record(ctx context.Context, action string, a Assignment) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordRoleEvent(ctx, action, a); err != nil {
		s.logger.Error("record role event", slog.String("action", action), slog.Any("error", err))
	}
}
