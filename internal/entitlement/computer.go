package entitlement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// RoleSource lists a user's active role assignments.
type RoleSource interface {
	ListActiveRoles(ctx context.Context, userID int64) ([]RoleAssignment, error)
}

// TierSource resolves a user's current subscription tier.
// Implementations return ErrNoTierRecord for users without history.
type TierSource interface {
	CurrentTier(ctx context.Context, userID int64) (TierRecord, error)
}

// Directory resolves context containment. Implementations return
// ErrContextNotFound for clubs that do not exist.
type Directory interface {
	StoreOfClub(ctx context.Context, clubID int64) (int64, error)
}

// Computer derives the resolved entitlement set for a (user, context)
// pair from the role store, the tier store and the catalog. It holds no
// state of its own; two calls with unchanged inputs yield the same set.
type Computer struct {
	roles   RoleSource
	tiers   TierSource
	dir     Directory
	catalog *Catalog
}

// NewComputer constructs a Computer.
func NewComputer(roles RoleSource, tiers TierSource, dir Directory, catalog *Catalog) *Computer {
	return &Computer{roles: roles, tiers: tiers, dir: dir, catalog: catalog}
}

// Compute resolves the entitlement set for userID within target.
// A missing tier record resolves as the base tier. A target that names a
// nonexistent store or club still succeeds; only platform roles apply.
func (c *Computer) Compute(ctx context.Context, userID int64, target Context) (ResolvedSet, error) {
	if err := target.Validate(); err != nil {
		return ResolvedSet{}, err
	}

	assignments, err := c.roles.ListActiveRoles(ctx, userID)
	if err != nil {
		return ResolvedSet{}, fmt.Errorf("entitlement: list roles: %w", err)
	}

	tier := TierBase
	record, err := c.tiers.CurrentTier(ctx, userID)
	switch {
	case err == nil:
		tier = record.Tier
	case errors.Is(err, ErrNoTierRecord):
		// New users resolve at base tier.
	default:
		return ResolvedSet{}, fmt.Errorf("entitlement: current tier: %w", err)
	}

	// The store containing the target club, resolved once and only when
	// a store-scoped assignment needs it.
	storeID, storeResolved := int64(0), false

	entitlements := Set{}
	var applied []RoleKind
	for _, assignment := range assignments {
		applies, err := c.applies(ctx, assignment.Context, target, &storeID, &storeResolved)
		if err != nil {
			return ResolvedSet{}, err
		}
		if !applies {
			continue
		}
		entitlements = entitlements.Union(c.catalog.Grants(assignment.Kind, tier))
		applied = append(applied, assignment.Kind)
	}
	sort.Slice(applied, func(i, j int) bool { return applied[i] < applied[j] })
	applied = dedupeRoles(applied)

	return ResolvedSet{
		UserID:         userID,
		Context:        target,
		Tier:           tier,
		Entitlements:   entitlements,
		Roles:          applied,
		CatalogVersion: c.catalog.Version(),
		ComputedAt:     time.Now().UTC(),
	}, nil
}

// applies implements the containment rule platform ⊇ store ⊇ club.
func (c *Computer) applies(ctx context.Context, scope, target Context, storeID *int64, storeResolved *bool) (bool, error) {
	switch scope.Kind {
	case KindPlatform:
		return true, nil
	case KindStore:
		if target.Kind == KindStore {
			return scope.ID == target.ID, nil
		}
		if target.Kind != KindClub {
			return false, nil
		}
		if !*storeResolved {
			id, err := c.dir.StoreOfClub(ctx, target.ID)
			switch {
			case err == nil:
				*storeID = id
			case errors.Is(err, ErrContextNotFound):
				*storeID = 0
			default:
				return false, fmt.Errorf("entitlement: resolve club store: %w", err)
			}
			*storeResolved = true
		}
		return *storeID != 0 && scope.ID == *storeID, nil
	case KindClub:
		return target.Kind == KindClub && scope.ID == target.ID, nil
	}
	return false, nil
}

func dedupeRoles(roles []RoleKind) []RoleKind {
	if len(roles) < 2 {
		return roles
	}
	out := roles[:1]
	for _, r := range roles[1:] {
		if r != out[len(out)-1] {
			out = append(out, r)
		}
	}
	return out
}
