package tiers

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/readerly/readerly/internal/entitlement"
	"github.com/readerly/readerly/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for tier history.
// The history is a linear sequence of non-overlapping intervals; at most
// one record per user has no effective_until.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CurrentTier returns the open record for the user. Implements
// entitlement.TierSource; users without history get ErrNoTierRecord.
func (r *Repository) CurrentTier(ctx context.Context, userID int64) (entitlement.TierRecord, error) {
	var (
		record entitlement.TierRecord
		tier   string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, tier, effective_from, effective_until
		FROM tier_records
		WHERE user_id = $1 AND effective_until IS NULL`, userID).
		Scan(&record.UserID, &tier, &record.EffectiveFrom, &record.EffectiveUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return entitlement.TierRecord{}, entitlement.ErrNoTierRecord
		}
		return entitlement.TierRecord{}, err
	}
	record.Tier = entitlement.Tier(tier)
	return record, nil
}

// SetTier closes the open record and opens the new one in a single
// transaction, keeping the history linear.
func (r *Repository) SetTier(ctx context.Context, userID int64, tier entitlement.Tier, effectiveFrom time.Time) (entitlement.TierRecord, error) {
	record := entitlement.TierRecord{UserID: userID, Tier: tier, EffectiveFrom: effectiveFrom}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE tier_records
			SET effective_until = $2
			WHERE user_id = $1 AND effective_until IS NULL`, userID, effectiveFrom); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO tier_records (user_id, tier, effective_from)
			VALUES ($1, $2, $3)`, userID, string(tier), effectiveFrom)
		return err
	})
	if err != nil {
		return entitlement.TierRecord{}, err
	}
	return record, nil
}
