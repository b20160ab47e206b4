package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCacheWarmup precomputes entitlement sets for active users.
	TaskCacheWarmup = "entitlement:cache_warmup"
	// TaskActivityPrune trims old rows from the activity log.
	TaskActivityPrune = "activity:prune"
)

// CacheWarmupPayload bounds the warmup run.
type CacheWarmupPayload struct {
	// Users overrides the configured number of recent users to warm.
	Users int `json:"users,omitempty"`
}

// NewCacheWarmupTask constructs an Asynq task for entitlement warmup.
func NewCacheWarmupTask(payload CacheWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCacheWarmup, data), nil
}

// ActivityPrunePayload bounds the retention run.
type ActivityPrunePayload struct {
	// RetentionHours overrides the configured retention window.
	RetentionHours int `json:"retention_hours,omitempty"`
}

// NewActivityPruneTask constructs an Asynq task for activity retention.
func NewActivityPruneTask(payload ActivityPrunePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskActivityPrune, data), nil
}
