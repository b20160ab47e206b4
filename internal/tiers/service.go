package tiers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/readerly/readerly/internal/entitlement"
)

// Store is the persistence surface the service needs.
type Store interface {
	CurrentTier(ctx context.Context, userID int64) (entitlement.TierRecord, error)
	SetTier(ctx context.Context, userID int64, tier entitlement.Tier, effectiveFrom time.Time) (entitlement.TierRecord, error)
}

// Invalidator drops cached entitlement state after a mutation commits.
type Invalidator interface {
	InvalidateUser(ctx context.Context, userID int64) error
}

// Recorder appends tier changes to the activity log.
type Recorder interface {
	RecordTierChange(ctx context.Context, userID int64, tier entitlement.Tier) error
}

// Service owns tier changes. A tier affects every context, so a change
// always invalidates the whole user, sequenced after the commit.
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

// Current resolves the user's tier, defaulting new users to base.
func (s *Service) Current(ctx context.Context, userID int64) (entitlement.Tier, error) {
	record, err := s.store.CurrentTier(ctx, userID)
	if err != nil {
		if err == entitlement.ErrNoTierRecord {
			return entitlement.TierBase, nil
		}
		return "", err
	}
	return record.Tier, nil
}

// Set closes the prior record, opens the new one and invalidates.
func (s *Service) Set(ctx context.Context, userID int64, tier entitlement.Tier, effectiveFrom time.Time) (entitlement.TierRecord, error) {
	if userID <= 0 {
		return entitlement.TierRecord{}, fmt.Errorf("tiers: user id required")
	}
	if !tier.Valid() {
		return entitlement.TierRecord{}, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	if effectiveFrom.IsZero() {
		effectiveFrom = time.Now().UTC()
	}
	record, err := s.store.SetTier(ctx, userID, tier, effectiveFrom)
	if err != nil {
		return entitlement.TierRecord{}, err
	}
	if err := s.cache.InvalidateUser(ctx, userID); err != nil {
		return entitlement.TierRecord{}, fmt.Errorf("tiers: invalidate after tier change: %w", err)
	}
	if s.recorder != nil {
		if err := s.recorder.RecordTierChange(ctx, userID, tier); err != nil {
			s.logger.Error("record tier change", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}
	return record, nil
}
