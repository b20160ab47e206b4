package entitlement

// Entitlement identifiers granted through the catalog.
const (
	EntPostDiscussion     EntitlementID = "post_discussion"
	EntJoinClub           EntitlementID = "join_club"
	EntCreateClub         EntitlementID = "create_club"
	EntRequestStoreTitles EntitlementID = "request_store_titles"
	EntModerateContent    EntitlementID = "moderate_content"
	EntAppointModerator   EntitlementID = "appoint_moderator"
	EntManageClub         EntitlementID = "manage_club"
	EntManageStore        EntitlementID = "manage_store"
	EntManageAllClubs     EntitlementID = "manage_all_clubs"
	EntViewAdminDashboard EntitlementID = "view_admin_dashboard"
)

// QuotaKind names a tier-dependent limit.
type QuotaKind string

const (
	QuotaClubMemberships QuotaKind = "club_memberships"
	QuotaClubModerators  QuotaKind = "club_moderators"
)

type grantKey struct {
	Role RoleKind
	Tier Tier
}

// Catalog is the static mapping from (role, tier) to entitlements and
// from (quota, tier) to limits. Immutable once built; a content change
// is a version bump.
type Catalog struct {
	version int64
	grants  map[grantKey]Set
	limits  map[QuotaKind]map[Tier]int64
}

// Version returns the catalog version stamped onto computed sets.
func (c *Catalog) Version() int64 { return c.version }

// Grants returns the entitlement set for one role at one tier.
// Unknown combinations yield the empty set.
func (c *Catalog) Grants(role RoleKind, tier Tier) Set {
	return c.grants[grantKey{Role: role, Tier: tier}]
}

// Limit returns the tier-dependent limit for a quota kind.
// The second return is false for unknown quota kinds.
func (c *Catalog) Limit(quota QuotaKind, tier Tier) (int64, bool) {
	byTier, ok := c.limits[quota]
	if !ok {
		return 0, false
	}
	limit, ok := byTier[tier]
	return limit, ok
}

type catalogBuilder struct {
	catalog *Catalog
}

func newCatalogBuilder(version int64) *catalogBuilder {
	return &catalogBuilder{catalog: &Catalog{
		version: version,
		grants:  make(map[grantKey]Set),
		limits:  make(map[QuotaKind]map[Tier]int64),
	}}
}

// grant records entitlements for a role across every tier, then layers
// tier-specific extras on top. Higher roles are built by unioning the
// lower role's set so rank ordering stays a strict superset.
func (b *catalogBuilder) grant(role RoleKind, base Set, perTier map[Tier]Set) {
	for _, tier := range []Tier{TierBase, TierElevated, TierElevatedPlus} {
		set := base
		if extra, ok := perTier[tier]; ok {
			set = set.Union(extra)
		}
		b.catalog.grants[grantKey{Role: role, Tier: tier}] = set
	}
}

func (b *catalogBuilder) limit(quota QuotaKind, base, elevated, elevatedPlus int64) {
	b.catalog.limits[quota] = map[Tier]int64{
		TierBase:         base,
		TierElevated:     elevated,
		TierElevatedPlus: elevatedPlus,
	}
}

// DefaultCatalog builds the catalog shipped with this release.
func DefaultCatalog() *Catalog {
	b := newCatalogBuilder(3)

	// Tier extras apply to every rank so the rank ordering stays a
	// superset within each tier.
	tierExtras := map[Tier]Set{
		TierElevated:     NewSet(EntCreateClub),
		TierElevatedPlus: NewSet(EntCreateClub, EntRequestStoreTitles),
	}

	reader := NewSet(EntJoinClub)
	b.grant(RoleReader, reader, tierExtras)

	member := reader.Union(NewSet(EntPostDiscussion))
	b.grant(RoleMember, member, tierExtras)

	moderator := member.Union(NewSet(EntModerateContent))
	b.grant(RoleClubModerator, moderator, tierExtras)

	lead := moderator.Union(NewSet(EntManageClub, EntAppointModerator))
	b.grant(RoleClubLead, lead, tierExtras)

	manager := lead.Union(NewSet(EntManageAllClubs, EntRequestStoreTitles))
	b.grant(RoleStoreManager, manager, tierExtras)

	storeOwner := manager.Union(NewSet(EntManageStore, EntViewAdminDashboard))
	b.grant(RoleStoreOwner, storeOwner, tierExtras)

	platformOwner := storeOwner.Union(NewSet(EntCreateClub))
	b.grant(RolePlatformOwner, platformOwner, tierExtras)

	b.limit(QuotaClubMemberships, 3, 10, 50)
	b.limit(QuotaClubModerators, 2, 5, 10)

	return b.catalog
}
