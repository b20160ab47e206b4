package roles

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readerly/readerly/internal/entitlement"
)

type mockStore struct {
	assignments map[uuid.UUID]Assignment
	insertErr   error
}

func newMockStore() *mockStore {
	return &mockStore{assignments: make(map[uuid.UUID]Assignment)}
}

func (m *mockStore) Get(ctx context.Context, id uuid.UUID) (Assignment, error) {
	a, ok := m.assignments[id]
	if !ok {
		return Assignment{}, ErrNotFound
	}
	return a, nil
}

func (m *mockStore) Insert(ctx context.Context, a Assignment) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	for _, existing := range m.assignments {
		if existing.Active() && existing.UserID == a.UserID && existing.Kind == a.Kind && existing.Context == a.Context {
			return ErrDuplicateGrant
		}
	}
	m.assignments[a.ID] = a
	return nil
}

func (m *mockStore) Revoke(ctx context.Context, id uuid.UUID, revokedBy *int64, at time.Time) error {
	a, ok := m.assignments[id]
	if !ok {
		return ErrNotFound
	}
	if a.RevokedAt != nil {
		return ErrAlreadyRevoked
	}
	a.RevokedAt = &at
	a.RevokedBy = revokedBy
	m.assignments[id] = a
	return nil
}

type invalidationLog struct {
	userWide []int64
	scoped   []entitlement.Context
	err      error
}

func (l *invalidationLog) InvalidateUser(ctx context.Context, userID int64) error {
	if l.err != nil {
		return l.err
	}
	l.userWide = append(l.userWide, userID)
	return nil
}

func (l *invalidationLog) InvalidateUserContext(ctx context.Context, userID int64, target entitlement.Context) error {
	if l.err != nil {
		return l.err
	}
	l.scoped = append(l.scoped, target)
	return nil
}

type eventLog struct {
	events []string
}

func (l *eventLog) RecordRoleEvent(ctx context.Context, action string, a Assignment) error {
	l.events = append(l.events, action)
	return nil
}

func newServiceFixture() (*Service, *mockStore, *invalidationLog, *eventLog) {
	store := newMockStore()
	inv := &invalidationLog{}
	events := &eventLog{}
	return NewService(store, inv, events, nil), store, inv, events
}

func TestGrantClubRoleInvalidatesOnlyThatContext(t *testing.T) {
	service, _, inv, events := newServiceFixture()

	a, err := service.Grant(context.Background(), 1, entitlement.RoleClubModerator, entitlement.ClubContext(5), nil)
	require.NoError(t, err)
	assert.True(t, a.Active())
	assert.Empty(t, inv.userWide)
	assert.Equal(t, []entitlement.Context{entitlement.ClubContext(5)}, inv.scoped)
	assert.Equal(t, []string{"role.grant"}, events.events)
}

func TestGrantStoreRoleInvalidatesWholeUser(t *testing.T) {
	service, _, inv, _ := newServiceFixture()

	// A store role reaches into every club under the store, so a scoped
	// invalidation would leave stale club entries behind.
	_, err := service.Grant(context.Background(), 2, entitlement.RoleStoreManager, entitlement.StoreContext(10), nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, inv.userWide)
	assert.Empty(t, inv.scoped)
}

func TestGrantPlatformRoleInvalidatesWholeUser(t *testing.T) {
	service, _, inv, _ := newServiceFixture()

	_, err := service.Grant(context.Background(), 3, entitlement.RolePlatformOwner, entitlement.PlatformContext(), nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, inv.userWide)
}

func TestGrantRejectsScopeMismatch(t *testing.T) {
	service, _, inv, _ := newServiceFixture()

	_, err := service.Grant(context.Background(), 1, entitlement.RoleClubModerator, entitlement.StoreContext(1), nil)
	require.Error(t, err)
	_, err = service.Grant(context.Background(), 1, entitlement.RolePlatformOwner, entitlement.ClubContext(1), nil)
	require.Error(t, err)
	_, err = service.Grant(context.Background(), 1, entitlement.RoleKind("wizard"), entitlement.PlatformContext(), nil)
	require.Error(t, err)
	assert.Empty(t, inv.userWide)
	assert.Empty(t, inv.scoped)
}

func TestGrantDuplicateSurfaces(t *testing.T) {
	service, _, _, _ := newServiceFixture()

	_, err := service.Grant(context.Background(), 1, entitlement.RoleMember, entitlement.ClubContext(1), nil)
	require.NoError(t, err)
	_, err = service.Grant(context.Background(), 1, entitlement.RoleMember, entitlement.ClubContext(1), nil)
	require.ErrorIs(t, err, ErrDuplicateGrant)
}

func TestRevokeLifecycle(t *testing.T) {
	service, store, inv, events := newServiceFixture()

	granted, err := service.Grant(context.Background(), 4, entitlement.RoleClubLead, entitlement.ClubContext(7), nil)
	require.NoError(t, err)

	revoker := int64(99)
	revoked, err := service.Revoke(context.Background(), granted.ID, &revoker)
	require.NoError(t, err)
	assert.Equal(t, granted.ID, revoked.ID)

	stored := store.assignments[granted.ID]
	assert.False(t, stored.Active())
	require.NotNil(t, stored.RevokedBy)
	assert.Equal(t, revoker, *stored.RevokedBy)

	// Grant and revoke each invalidated the club context.
	assert.Len(t, inv.scoped, 2)
	assert.Equal(t, []string{"role.grant", "role.revoke"}, events.events)

	_, err = service.Revoke(context.Background(), granted.ID, &revoker)
	require.ErrorIs(t, err, ErrAlreadyRevoked)

	_, err = service.Revoke(context.Background(), uuid.New(), nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGrantSurfacesInvalidationFailure(t *testing.T) {
	store := newMockStore()
	inv := &invalidationLog{err: context.DeadlineExceeded}
	service := NewService(store, inv, nil, nil)

	_, err := service.Grant(context.Background(), 1, entitlement.RoleMember, entitlement.ClubContext(1), nil)
	require.Error(t, err)
	// The grant itself is durable; only the invalidation failed.
	assert.Len(t, store.assignments, 1)
}
