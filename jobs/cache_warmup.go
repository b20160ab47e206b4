package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/readerly/readerly/internal/entitlement"
	jobmetrics "github.com/readerly/readerly/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// UserSource lists the users worth warming, newest joiners first.
type UserSource interface {
	RecentMembers(ctx context.Context, limit int) ([]int64, error)
}

// EntitlementWarmer resolves an entitlement set, filling the cache as a
// side effect.
type EntitlementWarmer interface {
	Get(ctx context.Context, userID int64, target entitlement.Context) (entitlement.ResolvedSet, error)
}

// CacheWarmupJob precomputes platform entitlement sets for recently
// active users so their first check of the day is a cache hit.
type CacheWarmupJob struct {
	Users   UserSource
	Cache   EntitlementWarmer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	Limit   int
}

// NewCacheWarmupJob wires dependencies for the warmup handler.
func NewCacheWarmupJob(users UserSource, cache EntitlementWarmer, logger *slog.Logger, metrics *jobmetrics.Metrics, limit int) *CacheWarmupJob {
	return &CacheWarmupJob{Users: users, Cache: cache, Logger: logger, Metrics: metrics, Limit: limit}
}

// Handle processes cache warmup tasks.
func (j *CacheWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Users == nil || j.Cache == nil {
		return errors.New("cache warmup: handler not configured")
	}
	var payload CacheWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	limit := payload.Users
	if limit <= 0 {
		limit = j.Limit
	}
	if limit <= 0 {
		limit = 200
	}

	tracker := j.metrics().Track(TaskCacheWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	start := time.Now()

	users, err := j.Users.RecentMembers(ctx, limit)
	if err != nil {
		resultErr = err
		logger.Error("load warmup users", slog.Any("error", err))
		return resultErr
	}
	if len(users) == 0 {
		logger.Info("no users discovered for warmup")
		return resultErr
	}

	var warmed atomic.Int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(8)
	for _, userID := range users {
		userID := userID
		group.Go(func() error {
			userCtx, cancel := context.WithTimeout(groupCtx, 10*time.Second)
			defer cancel()
			if _, err := j.Cache.Get(userCtx, userID, entitlement.PlatformContext()); err != nil {
				return err
			}
			warmed.Add(1)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		resultErr = err
		logger.Error("warm entitlements", slog.Any("error", err))
		return resultErr
	}

	j.metrics().AddWarmed(int(warmed.Load()))
	logger.Info("completed cache warmup", slog.Int64("users", warmed.Load()), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *CacheWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskCacheWarmup))
	}
	return slog.Default().With(slog.String("job", TaskCacheWarmup))
}

func (j *CacheWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
