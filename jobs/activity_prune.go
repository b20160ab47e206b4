package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/readerly/readerly/internal/jobs"
)

// ActivityPruner removes activity rows older than the cutoff.
type ActivityPruner interface {
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// ActivityPruneJob enforces the activity log retention window.
type ActivityPruneJob struct {
	Pruner    ActivityPruner
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	Retention time.Duration
	clock     func() time.Time
}

// NewActivityPruneJob wires dependencies for the retention handler.
func NewActivityPruneJob(pruner ActivityPruner, logger *slog.Logger, metrics *jobmetrics.Metrics, retention time.Duration) *ActivityPruneJob {
	return &ActivityPruneJob{
		Pruner:    pruner,
		Logger:    logger,
		Metrics:   metrics,
		Retention: retention,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes activity retention tasks.
func (j *ActivityPruneJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pruner == nil {
		return errors.New("activity prune: handler not configured")
	}
	var payload ActivityPrunePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retention := j.Retention
	if payload.RetentionHours > 0 {
		retention = time.Duration(payload.RetentionHours) * time.Hour
	}
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}

	tracker := j.metrics().Track(TaskActivityPrune)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	cutoff := j.now().Add(-retention)
	removed, err := j.Pruner.Prune(ctx, cutoff)
	if err != nil {
		resultErr = err
		j.logger().Error("prune activity log", slog.Any("error", err))
		return resultErr
	}

	j.metrics().AddPruned(removed)
	j.logger().Info("completed activity prune", slog.Int64("removed", removed), slog.Time("cutoff", cutoff))
	return resultErr
}

func (j *ActivityPruneJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskActivityPrune))
	}
	return slog.Default().With(slog.String("job", TaskActivityPrune))
}

func (j *ActivityPruneJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ActivityPruneJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
