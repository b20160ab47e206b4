package clubs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readerly/readerly/internal/entitlement"
	"github.com/readerly/readerly/internal/roles"
)

type mockMemberships struct {
	members   map[[2]int64]bool
	clubs     []Club
	nextID    int64
	addErr    error
	createErr error
}

func newMockMemberships() *mockMemberships {
	return &mockMemberships{members: make(map[[2]int64]bool), nextID: 100}
}

func (m *mockMemberships) CreateClub(ctx context.Context, storeID int64, name string, at time.Time) (Club, error) {
	if m.createErr != nil {
		return Club{}, m.createErr
	}
	m.nextID++
	club := Club{ID: m.nextID, StoreID: storeID, Name: name, CreatedAt: at}
	m.clubs = append(m.clubs, club)
	return club, nil
}

func (m *mockMemberships) AddMember(ctx context.Context, clubID, userID int64, at time.Time) error {
	if m.addErr != nil {
		return m.addErr
	}
	key := [2]int64{clubID, userID}
	if m.members[key] {
		return ErrAlreadyMember
	}
	m.members[key] = true
	return nil
}

func (m *mockMemberships) CountMemberships(ctx context.Context, userID int64) (int64, error) {
	var count int64
	for key, ok := range m.members {
		if ok && key[1] == userID {
			count++
		}
	}
	return count, nil
}

type fixedChecker struct {
	decision entitlement.Decision
	err      error
	calls    []string
}

func (c *fixedChecker) CheckAction(ctx context.Context, userID int64, target entitlement.Context, actionID string) (entitlement.Decision, error) {
	c.calls = append(c.calls, actionID)
	if c.err != nil {
		return entitlement.Decision{}, c.err
	}
	d := c.decision
	d.UserID = userID
	d.Context = target
	d.ActionID = actionID
	return d, nil
}

type grantLog struct {
	grants []roles.Assignment
	err    error
}

func (g *grantLog) Grant(ctx context.Context, userID int64, kind entitlement.RoleKind, target entitlement.Context, grantedBy *int64) (roles.Assignment, error) {
	if g.err != nil {
		return roles.Assignment{}, g.err
	}
	a := roles.Assignment{ID: uuid.New(), UserID: userID, Kind: kind, Context: target, GrantedBy: grantedBy, GrantedAt: time.Now()}
	g.grants = append(g.grants, a)
	return a, nil
}

func TestCreateAllowedSeedsCreatorMembership(t *testing.T) {
	store := newMockMemberships()
	checker := &fixedChecker{decision: entitlement.Decision{Allowed: true, Reason: entitlement.ReasonAllowed}}
	grants := &grantLog{}
	service := NewService(store, checker, grants, nil)

	club, decision, err := service.Create(context.Background(), 7, 3, "evening fiction")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(3), club.StoreID)
	assert.Equal(t, "evening fiction", club.Name)
	assert.True(t, store.members[[2]int64{club.ID, 7}])
	require.Len(t, grants.grants, 1)
	assert.Equal(t, entitlement.RoleMember, grants.grants[0].Kind)
	assert.Equal(t, entitlement.ClubContext(club.ID), grants.grants[0].Context)
	assert.Equal(t, []string{entitlement.ActionCreateClub}, checker.calls)
}

func TestCreateDeniedDoesNotCreate(t *testing.T) {
	store := newMockMemberships()
	checker := &fixedChecker{decision: entitlement.Decision{Allowed: false, Reason: entitlement.ReasonInsufficientEntitlement}}
	grants := &grantLog{}
	service := NewService(store, checker, grants, nil)

	_, decision, err := service.Create(context.Background(), 7, 3, "evening fiction")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Empty(t, store.clubs)
	assert.Empty(t, store.members)
	assert.Empty(t, grants.grants)
}

func TestCreateStoreNotFoundSurfaces(t *testing.T) {
	store := newMockMemberships()
	store.createErr = ErrStoreNotFound
	checker := &fixedChecker{decision: entitlement.Decision{Allowed: true, Reason: entitlement.ReasonAllowed}}
	service := NewService(store, checker, &grantLog{}, nil)

	_, _, err := service.Create(context.Background(), 7, 99, "orphan club")
	require.ErrorIs(t, err, ErrStoreNotFound)
}

func TestJoinAllowedAddsMemberAndGrantsRole(t *testing.T) {
	store := newMockMemberships()
	checker := &fixedChecker{decision: entitlement.Decision{Allowed: true, Reason: entitlement.ReasonAllowed}}
	grants := &grantLog{}
	service := NewService(store, checker, grants, nil)

	decision, err := service.Join(context.Background(), 1, 42)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.True(t, store.members[[2]int64{42, 1}])
	require.Len(t, grants.grants, 1)
	assert.Equal(t, entitlement.RoleMember, grants.grants[0].Kind)
	assert.Equal(t, entitlement.ClubContext(42), grants.grants[0].Context)
	assert.Equal(t, []string{entitlement.ActionJoinClub}, checker.calls)
}

func TestJoinDeniedLeavesStateUntouched(t *testing.T) {
	store := newMockMemberships()
	checker := &fixedChecker{decision: entitlement.Decision{Allowed: false, Reason: entitlement.ReasonQuotaExceeded}}
	grants := &grantLog{}
	service := NewService(store, checker, grants, nil)

	decision, err := service.Join(context.Background(), 1, 42)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, entitlement.ReasonQuotaExceeded, decision.Reason)
	assert.Empty(t, store.members)
	assert.Empty(t, grants.grants)
}

func TestJoinDuplicateGrantIsIgnored(t *testing.T) {
	store := newMockMemberships()
	checker := &fixedChecker{decision: entitlement.Decision{Allowed: true, Reason: entitlement.ReasonAllowed}}
	grants := &grantLog{err: roles.ErrDuplicateGrant}
	service := NewService(store, checker, grants, nil)

	_, err := service.Join(context.Background(), 1, 42)
	require.NoError(t, err)
}

func TestJoinAlreadyMemberSurfaces(t *testing.T) {
	store := newMockMemberships()
	store.members[[2]int64{42, 1}] = true
	checker := &fixedChecker{decision: entitlement.Decision{Allowed: true, Reason: entitlement.ReasonAllowed}}
	service := NewService(store, checker, &grantLog{}, nil)

	_, err := service.Join(context.Background(), 1, 42)
	require.ErrorIs(t, err, ErrAlreadyMember)
}

func TestAppointModeratorGrantsToTarget(t *testing.T) {
	checker := &fixedChecker{decision: entitlement.Decision{Allowed: true, Reason: entitlement.ReasonAllowed}}
	grants := &grantLog{}
	service := NewService(newMockMemberships(), checker, grants, nil)

	decision, err := service.AppointModerator(context.Background(), 9, 42, 2)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	require.Len(t, grants.grants, 1)
	assert.Equal(t, int64(2), grants.grants[0].UserID)
	assert.Equal(t, entitlement.RoleClubModerator, grants.grants[0].Kind)
	require.NotNil(t, grants.grants[0].GrantedBy)
	assert.Equal(t, int64(9), *grants.grants[0].GrantedBy)
}

func TestAppointModeratorDeniedDoesNotGrant(t *testing.T) {
	checker := &fixedChecker{decision: entitlement.Decision{Allowed: false, Reason: entitlement.ReasonInsufficientEntitlement}}
	grants := &grantLog{}
	service := NewService(newMockMemberships(), checker, grants, nil)

	decision, err := service.AppointModerator(context.Background(), 9, 42, 2)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Empty(t, grants.grants)
}
