package entitlement

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"
)

var (
	// ErrNoTierRecord indicates a user without a subscription history.
	// Callers treat it as base tier, never as a failure.
	ErrNoTierRecord = errors.New("entitlement: no tier record")
	// ErrUnknownAction indicates a check was requested for an action that
	// was never registered with the engine.
	ErrUnknownAction = errors.New("entitlement: unknown action")
	// ErrContextNotFound indicates a store or club id that does not exist.
	ErrContextNotFound = errors.New("entitlement: context not found")
)

// ContextKind scopes a role or a check.
type ContextKind string

const (
	KindPlatform ContextKind = "platform"
	KindStore    ContextKind = "store"
	KindClub     ContextKind = "club"
)

// Valid reports whether the kind is one of the closed set.
func (k ContextKind) Valid() bool {
	switch k {
	case KindPlatform, KindStore, KindClub:
		return true
	}
	return false
}

// Context identifies the scope a check or role applies to.
// ID is zero for the platform kind and required otherwise.
type Context struct {
	Kind ContextKind `json:"kind"`
	ID   int64       `json:"id,omitempty"`
}

// PlatformContext returns the global scope.
func PlatformContext() Context { return Context{Kind: KindPlatform} }

// StoreContext returns the scope of a single store.
func StoreContext(id int64) Context { return Context{Kind: KindStore, ID: id} }

// ClubContext returns the scope of a single club.
func ClubContext(id int64) Context { return Context{Kind: KindClub, ID: id} }

// Validate type-checks the kind/id combination.
func (c Context) Validate() error {
	if !c.Kind.Valid() {
		return fmt.Errorf("entitlement: invalid context kind %q", c.Kind)
	}
	if c.Kind == KindPlatform && c.ID != 0 {
		return errors.New("entitlement: platform context must not carry an id")
	}
	if c.Kind != KindPlatform && c.ID <= 0 {
		return fmt.Errorf("entitlement: %s context requires an id", c.Kind)
	}
	return nil
}

// Key returns a stable cache key fragment for the context.
func (c Context) Key() string {
	if c.Kind == KindPlatform {
		return string(KindPlatform)
	}
	return string(c.Kind) + ":" + strconv.FormatInt(c.ID, 10)
}

func (c Context) String() string { return c.Key() }

// RoleKind is the closed set of role categories.
type RoleKind string

const (
	RolePlatformOwner RoleKind = "platform_owner"
	RoleStoreOwner    RoleKind = "store_owner"
	RoleStoreManager  RoleKind = "store_manager"
	RoleClubLead      RoleKind = "club_lead"
	RoleClubModerator RoleKind = "club_moderator"
	RoleMember        RoleKind = "member"
	// RoleReader is the platform-scoped baseline every registered user
	// holds; it carries the capabilities that exist before joining any
	// club, such as joining one.
	RoleReader RoleKind = "reader"
)

// Valid reports whether the role kind is known.
func (r RoleKind) Valid() bool {
	switch r {
	case RolePlatformOwner, RoleStoreOwner, RoleStoreManager, RoleClubLead, RoleClubModerator, RoleMember, RoleReader:
		return true
	}
	return false
}

// ScopeKind returns the context kind a role of this kind is granted at.
func (r RoleKind) ScopeKind() ContextKind {
	switch r {
	case RolePlatformOwner, RoleReader:
		return KindPlatform
	case RoleStoreOwner, RoleStoreManager:
		return KindStore
	default:
		return KindClub
	}
}

// Tier is a user's subscription level.
type Tier string

const (
	TierBase         Tier = "base"
	TierElevated     Tier = "elevated"
	TierElevatedPlus Tier = "elevated_plus"
)

// Valid reports whether the tier is known.
func (t Tier) Valid() bool {
	switch t {
	case TierBase, TierElevated, TierElevatedPlus:
		return true
	}
	return false
}

// TierRecord is one interval of a user's subscription history.
type TierRecord struct {
	UserID         int64
	Tier           Tier
	EffectiveFrom  time.Time
	EffectiveUntil *time.Time
}

// RoleAssignment is a grant of a role to a user within a context.
type RoleAssignment struct {
	UserID    int64
	Kind      RoleKind
	Context   Context
	GrantedBy *int64
	GrantedAt time.Time
}

// EntitlementID names an opaque capability.
type EntitlementID string

// Set is a sorted, duplicate-free collection of entitlement ids.
type Set []EntitlementID

// NewSet builds a Set from arbitrary ids.
func NewSet(ids ...EntitlementID) Set {
	seen := make(map[EntitlementID]struct{}, len(ids))
	out := make(Set, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Contains reports membership.
func (s Set) Contains(id EntitlementID) bool {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= id })
	return i < len(s) && s[i] == id
}

// Union merges two sets into a new sorted set.
func (s Set) Union(other Set) Set {
	merged := make([]EntitlementID, 0, len(s)+len(other))
	merged = append(merged, s...)
	merged = append(merged, other...)
	return NewSet(merged...)
}

// ResolvedSet is the outcome of entitlement computation for one
// (user, context) pair. It is ephemeral and only ever cached.
type ResolvedSet struct {
	UserID         int64       `json:"user_id"`
	Context        Context     `json:"context"`
	Tier           Tier        `json:"tier"`
	Entitlements   Set         `json:"entitlements"`
	Roles          []RoleKind  `json:"roles"`
	CatalogVersion int64       `json:"catalog_version"`
	ComputedAt     time.Time   `json:"computed_at"`
}

// Has reports whether the resolved set grants the entitlement.
func (r ResolvedSet) Has(id EntitlementID) bool {
	return r.Entitlements.Contains(id)
}

// ReasonCode classifies an enforcement decision.
type ReasonCode string

const (
	ReasonAllowed                 ReasonCode = "allowed"
	ReasonInvalidContext          ReasonCode = "invalid_context"
	ReasonInsufficientEntitlement ReasonCode = "insufficient_entitlement"
	ReasonQuotaExceeded           ReasonCode = "quota_exceeded"
	ReasonEvaluationUnavailable   ReasonCode = "evaluation_unavailable"
)

// Decision is the answer to an enforcement question plus its rationale.
type Decision struct {
	UserID    int64      `json:"user_id"`
	ActionID  string     `json:"action_id"`
	Context   Context    `json:"context"`
	Allowed   bool       `json:"allowed"`
	Reason    ReasonCode `json:"reason_code"`
	Roles     []RoleKind `json:"roles,omitempty"`
	Counted   int64      `json:"counted,omitempty"`
	Limit     int64      `json:"limit,omitempty"`
	DecidedAt time.Time  `json:"decided_at"`
}
