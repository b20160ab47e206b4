package entitlement

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/readerly/readerly/testing"
)

func newTestCache(t *testing.T, roles *stubRoles, tiers *stubTiers, dir *stubDirectory) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	computer := newTestComputer(roles, tiers, dir)
	return NewCache(client, computer, time.Minute, nil), mr
}

func TestCacheServesCachedEntry(t *testing.T) {
	roles := &stubRoles{assignments: []RoleAssignment{
		{UserID: 1, Kind: RoleMember, Context: ClubContext(1)},
	}}
	cache, _ := newTestCache(t, roles, nil, &stubDirectory{storeByClub: map[int64]int64{1: 1}})

	first, err := cache.Get(context.Background(), 1, ClubContext(1))
	require.NoError(t, err)
	second, err := cache.Get(context.Background(), 1, ClubContext(1))
	require.NoError(t, err)

	assert.Equal(t, first.Entitlements, second.Entitlements)
	assert.Equal(t, int64(1), roles.calls.Load(), "second get must be served from cache")
}

func TestCacheInvalidateUserForcesRecompute(t *testing.T) {
	roles := &stubRoles{assignments: []RoleAssignment{
		{UserID: 2, Kind: RoleMember, Context: ClubContext(1)},
	}}
	cache, _ := newTestCache(t, roles, nil, &stubDirectory{storeByClub: map[int64]int64{1: 1}})

	before, err := cache.Get(context.Background(), 2, ClubContext(1))
	require.NoError(t, err)
	assert.True(t, before.Has(EntPostDiscussion))

	// The role store changes, then the mutation invalidates.
	roles.assignments = nil
	require.NoError(t, cache.InvalidateUser(context.Background(), 2))

	after, err := cache.Get(context.Background(), 2, ClubContext(1))
	require.NoError(t, err)
	assert.False(t, after.Has(EntPostDiscussion), "stale entry served after invalidation")
	assert.Equal(t, int64(2), roles.calls.Load())
}

func TestCacheInvalidateContextIsScoped(t *testing.T) {
	roles := &stubRoles{assignments: []RoleAssignment{
		{UserID: 3, Kind: RoleClubModerator, Context: ClubContext(1)},
		{UserID: 3, Kind: RoleMember, Context: ClubContext(2)},
	}}
	dir := &stubDirectory{storeByClub: map[int64]int64{1: 1, 2: 1}}
	cache, _ := newTestCache(t, roles, nil, dir)

	_, err := cache.Get(context.Background(), 3, ClubContext(1))
	require.NoError(t, err)
	_, err = cache.Get(context.Background(), 3, ClubContext(2))
	require.NoError(t, err)
	require.Equal(t, int64(2), roles.calls.Load())

	// Moderator revoked in club 1 only.
	roles.assignments = roles.assignments[1:]
	require.NoError(t, cache.InvalidateUserContext(context.Background(), 3, ClubContext(1)))

	revoked, err := cache.Get(context.Background(), 3, ClubContext(1))
	require.NoError(t, err)
	assert.False(t, revoked.Has(EntModerateContent))
	assert.Equal(t, int64(3), roles.calls.Load())

	// The other club's entry is untouched.
	_, err = cache.Get(context.Background(), 3, ClubContext(2))
	require.NoError(t, err)
	assert.Equal(t, int64(3), roles.calls.Load())
}

// stallingRoles snapshots the assignments, signals, then stalls the
// first read until released. Later reads return the current assignments.
type stallingRoles struct {
	assignments []RoleAssignment
	snapshotted chan struct{}
	release     chan struct{}
	calls       atomic.Int64
}

func (s *stallingRoles) ListActiveRoles(ctx context.Context, userID int64) ([]RoleAssignment, error) {
	out := append([]RoleAssignment(nil), s.assignments...)
	if s.calls.Add(1) == 1 {
		close(s.snapshotted)
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

func TestCacheInvalidationDuringComputeIsNotServed(t *testing.T) {
	roles := &stallingRoles{
		assignments: []RoleAssignment{{UserID: 8, Kind: RoleClubModerator, Context: ClubContext(1)}},
		snapshotted: make(chan struct{}),
		release:     make(chan struct{}),
	}
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	dir := &stubDirectory{storeByClub: map[int64]int64{1: 1}}
	cache := NewCache(client, NewComputer(roles, &stubTiers{}, dir, DefaultCatalog()), time.Minute, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = cache.Get(context.Background(), 8, ClubContext(1))
	}()

	// The role read holds a pre-revoke snapshot; the revoke commits and
	// invalidates while that computation is still in flight.
	<-roles.snapshotted
	roles.assignments = nil
	require.NoError(t, cache.InvalidateUserContext(context.Background(), 8, ClubContext(1)))
	close(roles.release)
	<-done

	resolved, err := cache.Get(context.Background(), 8, ClubContext(1))
	require.NoError(t, err)
	assert.False(t, resolved.Has(EntModerateContent), "pre-revoke entry served after invalidation")
	assert.Equal(t, int64(2), roles.calls.Load())
}

func TestCacheExpiryTriggersRecompute(t *testing.T) {
	roles := &stubRoles{assignments: []RoleAssignment{
		{UserID: 4, Kind: RoleMember, Context: ClubContext(1)},
	}}
	cache, mr := newTestCache(t, roles, nil, &stubDirectory{storeByClub: map[int64]int64{1: 1}})

	_, err := cache.Get(context.Background(), 4, ClubContext(1))
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = cache.Get(context.Background(), 4, ClubContext(1))
	require.NoError(t, err)
	assert.Equal(t, int64(2), roles.calls.Load())
}

func TestCacheColdKeySingleFlight(t *testing.T) {
	roles := &stubRoles{
		assignments: []RoleAssignment{{UserID: 5, Kind: RoleMember, Context: ClubContext(1)}},
		block:       make(chan struct{}),
	}
	cache, _ := newTestCache(t, roles, nil, &stubDirectory{storeByClub: map[int64]int64{1: 1}})

	const callers = 16
	var wg sync.WaitGroup
	results := make([]ResolvedSet, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.Get(context.Background(), 5, ClubContext(1))
		}(i)
	}

	// Let every caller pile up behind the in-flight computation.
	require.Eventually(t, func() bool { return roles.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(roles.block)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.True(t, results[i].Has(EntPostDiscussion))
	}
	assert.Equal(t, int64(1), roles.calls.Load(), "cold key must compute exactly once")
}

func TestCacheRecomputesOnCatalogVersionMismatch(t *testing.T) {
	roles := &stubRoles{assignments: []RoleAssignment{
		{UserID: 6, Kind: RoleMember, Context: ClubContext(1)},
	}}
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	dir := &stubDirectory{storeByClub: map[int64]int64{1: 1}}

	stale := &Catalog{version: 2, grants: DefaultCatalog().grants, limits: DefaultCatalog().limits}
	staleCache := NewCache(client, NewComputer(roles, &stubTiers{}, dir, stale), time.Minute, nil)
	_, err := staleCache.Get(context.Background(), 6, ClubContext(1))
	require.NoError(t, err)

	current := NewCache(client, NewComputer(roles, &stubTiers{}, dir, DefaultCatalog()), time.Minute, nil)
	resolved, err := current.Get(context.Background(), 6, ClubContext(1))
	require.NoError(t, err)
	assert.Equal(t, DefaultCatalog().Version(), resolved.CatalogVersion)
	assert.Equal(t, int64(2), roles.calls.Load(), "stale catalog stamp must recompute")
}

func TestCachePropagatesRedisFailure(t *testing.T) {
	roles := &stubRoles{assignments: []RoleAssignment{
		{UserID: 7, Kind: RoleMember, Context: ClubContext(1)},
	}}
	cache, mr := newTestCache(t, roles, nil, &stubDirectory{storeByClub: map[int64]int64{1: 1}})
	mr.Close()

	_, err := cache.Get(context.Background(), 7, ClubContext(1))
	require.Error(t, err)
}
