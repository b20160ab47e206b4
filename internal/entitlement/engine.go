package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Action identifiers registered with the default engine.
const (
	ActionPostDiscussion   = "post_discussion"
	ActionJoinClub         = "join_club"
	ActionCreateClub       = "create_club"
	ActionModerateContent  = "moderate_content"
	ActionAppointModerator = "appoint_moderator"
	ActionManageStore      = "manage_store"
)

// LiveCounter answers a quota's current count from the authoritative
// store. Counts are never cached; stale approvals are race-prone.
type LiveCounter interface {
	Count(ctx context.Context, userID int64, target Context) (int64, error)
}

// LiveCounterFunc adapts a function to the LiveCounter interface.
type LiveCounterFunc func(ctx context.Context, userID int64, target Context) (int64, error)

// Count implements LiveCounter.
func (f LiveCounterFunc) Count(ctx context.Context, userID int64, target Context) (int64, error) {
	return f(ctx, userID, target)
}

// Tracker receives every enforcement decision, allow or deny.
type Tracker interface {
	Record(ctx context.Context, decision Decision) error
}

// Check describes one guarded action: the capability it requires plus an
// optional quota condition evaluated against a live count.
type Check struct {
	Entitlement EntitlementID
	Quota       QuotaKind
	Counter     LiveCounter
}

// EngineMetrics receives decision outcome signals.
type EngineMetrics interface {
	DecisionRecorded(actionID string, reason ReasonCode)
}

// Engine is the single enforcement path for every guarded action. It
// resolves capability through the cache, evaluates quotas against fresh
// counts and fails closed whenever a dependency is unavailable.
type Engine struct {
	cache        *Cache
	catalog      *Catalog
	tracker      Tracker
	logger       *slog.Logger
	metrics      EngineMetrics
	quotaTimeout time.Duration
	checks       map[string]Check
}

// EngineConfig collects the engine's dependencies.
type EngineConfig struct {
	Cache        *Cache
	Catalog      *Catalog
	Tracker      Tracker
	Logger       *slog.Logger
	Metrics      EngineMetrics
	QuotaTimeout time.Duration
}

// NewEngine constructs an engine with an empty check registry.
func NewEngine(cfg EngineConfig) *Engine {
	timeout := cfg.QuotaTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cache:        cfg.Cache,
		catalog:      cfg.Catalog,
		tracker:      cfg.Tracker,
		logger:       logger,
		metrics:      cfg.Metrics,
		quotaTimeout: timeout,
		checks:       make(map[string]Check),
	}
}

// Register adds a named check to the registry. Registering the same
// action twice is a programming error.
func (e *Engine) Register(actionID string, check Check) error {
	if actionID == "" || check.Entitlement == "" {
		return fmt.Errorf("entitlement: register %q: action id and entitlement required", actionID)
	}
	if (check.Quota == "") != (check.Counter == nil) {
		return fmt.Errorf("entitlement: register %q: quota and counter go together", actionID)
	}
	if _, exists := e.checks[actionID]; exists {
		return fmt.Errorf("entitlement: register %q: already registered", actionID)
	}
	e.checks[actionID] = check
	return nil
}

// MustRegister is Register for wiring code that treats failure as fatal.
func (e *Engine) MustRegister(actionID string, check Check) {
	if err := e.Register(actionID, check); err != nil {
		panic(err)
	}
}

// HasEntitlement answers a pure capability question for one context.
// The decision is recorded like any other enforcement outcome.
func (e *Engine) HasEntitlement(ctx context.Context, userID int64, target Context, id EntitlementID) Decision {
	decision := Decision{
		UserID:    userID,
		ActionID:  "has:" + string(id),
		Context:   target,
		DecidedAt: time.Now().UTC(),
	}
	if userID <= 0 || target.Validate() != nil {
		decision.Reason = ReasonInvalidContext
		return e.finish(ctx, decision)
	}
	resolved, err := e.cache.Get(ctx, userID, target)
	if err != nil {
		e.logger.Warn("entitlement lookup failed", slog.Int64("user_id", userID), slog.String("context", target.Key()), slog.Any("error", err))
		decision.Reason = ReasonEvaluationUnavailable
		return e.finish(ctx, decision)
	}
	decision.Roles = resolved.Roles
	if !resolved.Has(id) {
		decision.Reason = ReasonInsufficientEntitlement
		return e.finish(ctx, decision)
	}
	decision.Allowed = true
	decision.Reason = ReasonAllowed
	return e.finish(ctx, decision)
}

// CheckAction evaluates the registered check for actionID. Capability is
// resolved first through the cache; only when it holds is the quota
// count read, always fresh and under a timeout. Every outcome is a
// decision; the only error returned is an unregistered action.
func (e *Engine) CheckAction(ctx context.Context, userID int64, target Context, actionID string) (Decision, error) {
	check, ok := e.checks[actionID]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownAction, actionID)
	}

	decision := Decision{
		UserID:    userID,
		ActionID:  actionID,
		Context:   target,
		DecidedAt: time.Now().UTC(),
	}
	if userID <= 0 || target.Validate() != nil {
		decision.Reason = ReasonInvalidContext
		return e.finish(ctx, decision), nil
	}

	resolved, err := e.cache.Get(ctx, userID, target)
	if err != nil {
		e.logger.Warn("entitlement lookup failed", slog.Int64("user_id", userID), slog.String("action", actionID), slog.Any("error", err))
		decision.Reason = ReasonEvaluationUnavailable
		return e.finish(ctx, decision), nil
	}
	decision.Roles = resolved.Roles
	if !resolved.Has(check.Entitlement) {
		decision.Reason = ReasonInsufficientEntitlement
		return e.finish(ctx, decision), nil
	}

	if check.Quota != "" {
		limit, ok := e.catalog.Limit(check.Quota, resolved.Tier)
		if !ok {
			e.logger.Error("quota limit missing from catalog", slog.String("quota", string(check.Quota)), slog.String("tier", string(resolved.Tier)))
			decision.Reason = ReasonEvaluationUnavailable
			return e.finish(ctx, decision), nil
		}
		countCtx, cancel := context.WithTimeout(ctx, e.quotaTimeout)
		count, err := check.Counter.Count(countCtx, userID, target)
		cancel()
		if err != nil {
			e.logger.Warn("quota count failed", slog.Int64("user_id", userID), slog.String("action", actionID), slog.Any("error", err))
			decision.Reason = ReasonEvaluationUnavailable
			return e.finish(ctx, decision), nil
		}
		decision.Counted = count
		decision.Limit = limit
		if count >= limit {
			decision.Reason = ReasonQuotaExceeded
			return e.finish(ctx, decision), nil
		}
	}

	decision.Allowed = true
	decision.Reason = ReasonAllowed
	return e.finish(ctx, decision), nil
}

// finish records the decision before handing it back to the caller.
// A tracker failure is logged, never surfaced; the decision stands.
func (e *Engine) finish(ctx context.Context, decision Decision) Decision {
	if e.tracker != nil {
		if err := e.tracker.Record(context.WithoutCancel(ctx), decision); err != nil {
			e.logger.Error("record decision", slog.String("action", decision.ActionID), slog.Any("error", err))
		}
	}
	if e.metrics != nil {
		e.metrics.DecisionRecorded(decision.ActionID, decision.Reason)
	}
	return decision
}
