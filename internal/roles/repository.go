package roles

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/readerly/readerly/internal/entitlement"
)

// Repository provides PostgreSQL backed persistence for role assignments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListActiveRoles returns the user's active assignments in the shape the
// entitlement computer consumes. Implements entitlement.RoleSource.
func (r *Repository) ListActiveRoles(ctx context.Context, userID int64) ([]entitlement.RoleAssignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, role_kind, context_kind, context_id, granted_by, granted_at
		FROM role_assignments
		WHERE user_id = $1 AND revoked_at IS NULL
		ORDER BY granted_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var assignments []entitlement.RoleAssignment
	for rows.Next() {
		var (
			a         entitlement.RoleAssignment
			kind      string
			ctxKind   string
			ctxID     *int64
			grantedBy *int64
		)
		if err := rows.Scan(&a.UserID, &kind, &ctxKind, &ctxID, &grantedBy, &a.GrantedAt); err != nil {
			return nil, err
		}
		a.Kind = entitlement.RoleKind(kind)
		a.Context = entitlement.Context{Kind: entitlement.ContextKind(ctxKind)}
		if ctxID != nil {
			a.Context.ID = *ctxID
		}
		a.GrantedBy = grantedBy
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assignments, nil
}

// Get fetches a single assignment by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Assignment, error) {
	var (
		a       Assignment
		kind    string
		ctxKind string
		ctxID   *int64
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, role_kind, context_kind, context_id, granted_by, granted_at, revoked_at, revoked_by
		FROM role_assignments
		WHERE id = $1`, id).
		Scan(&a.ID, &a.UserID, &kind, &ctxKind, &ctxID, &a.GrantedBy, &a.GrantedAt, &a.RevokedAt, &a.RevokedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Assignment{}, ErrNotFound
		}
		return Assignment{}, err
	}
	a.Kind = entitlement.RoleKind(kind)
	a.Context = entitlement.Context{Kind: entitlement.ContextKind(ctxKind)}
	if ctxID != nil {
		a.Context.ID = *ctxID
	}
	return a, nil
}

// Insert persists a new grant. A partial unique index over active
// assignments turns duplicate grants into ErrDuplicateGrant.
func (r *Repository) Insert(ctx context.Context, a Assignment) error {
	var ctxID *int64
	if a.Context.ID != 0 {
		ctxID = &a.Context.ID
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO role_assignments (id, user_id, role_kind, context_kind, context_id, granted_by, granted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.UserID, string(a.Kind), string(a.Context.Kind), ctxID, a.GrantedBy, a.GrantedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateGrant
		}
		return err
	}
	return nil
}

// CountActive counts active assignments of one kind within a context.
// Backs quota checks such as the moderator roster size; read fresh at
// decision time.
func (r *Repository) CountActive(ctx context.Context, kind entitlement.RoleKind, target entitlement.Context) (int64, error) {
	var ctxID *int64
	if target.ID != 0 {
		ctxID = &target.ID
	}
	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM role_assignments
		WHERE role_kind = $1 AND context_kind = $2 AND context_id IS NOT DISTINCT FROM $3 AND revoked_at IS NULL`,
		string(kind), string(target.Kind), ctxID).Scan(&count)
	return count, err
}

// Revoke closes an active assignment. The record itself stays.
func (r *Repository) Revoke(ctx context.Context, id uuid.UUID, revokedBy *int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE role_assignments
		SET revoked_at = $2, revoked_by = $3
		WHERE id = $1 AND revoked_at IS NULL`, id, at, revokedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrAlreadyRevoked
	}
	return nil
}
