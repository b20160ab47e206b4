package activity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/readerly/readerly/internal/entitlement"
	"github.com/readerly/readerly/internal/roles"
)

// Tracker appends enforcement decisions and role/tier events to the
// activity log. Rows are never updated or deleted outside the retention
// job; the table is the audit trail of everything the engine decided.
type Tracker struct {
	pool *pgxpool.Pool
}

// NewTracker constructs a Tracker.
func NewTracker(pool *pgxpool.Pool) *Tracker {
	return &Tracker{pool: pool}
}

// Record appends one enforcement decision. Implements
// entitlement.Tracker; the engine calls this before returning any
// decision, allowed or denied.
func (t *Tracker) Record(ctx context.Context, decision entitlement.Decision) error {
	var ctxID *int64
	if decision.Context.ID != 0 {
		ctxID = &decision.Context.ID
	}
	detail, err := json.Marshal(decisionDetail{
		Roles:   decision.Roles,
		Counted: decision.Counted,
		Limit:   decision.Limit,
	})
	if err != nil {
		return err
	}
	at := decision.DecidedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err = t.pool.Exec(ctx, `
		INSERT INTO activity_log (user_id, kind, action, context_kind, context_id, allowed, reason_code, detail, occurred_at)
		VALUES ($1, 'decision', $2, $3, $4, $5, $6, $7, $8)`,
		decision.UserID, decision.ActionID, string(decision.Context.Kind), ctxID,
		decision.Allowed, string(decision.Reason), detail, at)
	return err
}

type decisionDetail struct {
	Roles   []entitlement.RoleKind `json:"roles,omitempty"`
	Counted int64                  `json:"counted,omitempty"`
	Limit   int64                  `json:"limit,omitempty"`
}

// RecordRoleEvent appends a grant or revoke. Implements roles.Recorder.
func (t *Tracker) RecordRoleEvent(ctx context.Context, action string, a roles.Assignment) error {
	var ctxID *int64
	if a.Context.ID != 0 {
		ctxID = &a.Context.ID
	}
	detail, err := json.Marshal(map[string]any{
		"assignment_id": a.ID,
		"role_kind":     a.Kind,
		"granted_by":    a.GrantedBy,
	})
	if err != nil {
		return err
	}
	_, err = t.pool.Exec(ctx, `
		INSERT INTO activity_log (user_id, kind, action, context_kind, context_id, detail, occurred_at)
		VALUES ($1, 'role', $2, $3, $4, $5, NOW())`,
		a.UserID, action, string(a.Context.Kind), ctxID, detail)
	return err
}

// RecordTierChange appends a tier transition. Implements tiers.Recorder.
func (t *Tracker) RecordTierChange(ctx context.Context, userID int64, tier entitlement.Tier) error {
	detail, err := json.Marshal(map[string]any{"tier": tier})
	if err != nil {
		return err
	}
	_, err = t.pool.Exec(ctx, `
		INSERT INTO activity_log (user_id, kind, action, context_kind, detail, occurred_at)
		VALUES ($1, 'tier', 'tier.set', 'platform', $2, NOW())`,
		userID, detail)
	return err
}
