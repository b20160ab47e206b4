package activity

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one row of the activity timeline.
type Entry struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	Kind        string          `json:"kind"`
	Action      string          `json:"action"`
	ContextKind string          `json:"context_kind"`
	ContextID   *int64          `json:"context_id,omitempty"`
	Allowed     *bool           `json:"allowed,omitempty"`
	ReasonCode  string          `json:"reason_code,omitempty"`
	Detail      json.RawMessage `json:"detail,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// TimelineFilters narrows the timeline query.
type TimelineFilters struct {
	UserID   int64
	Kind     string
	Action   string
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

// PagingInfo carries pagination metadata alongside the rows.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
}

// Result bundles timeline rows with paging state.
type Result struct {
	Rows   []Entry    `json:"rows"`
	Paging PagingInfo `json:"paging"`
}

// Timeline reads the activity log newest first with offset paging.
type Timeline struct {
	pool *pgxpool.Pool
}

// NewTimeline constructs a Timeline reader.
func NewTimeline(pool *pgxpool.Pool) *Timeline {
	return &Timeline{pool: pool}
}

// Window returns one page of entries matching the filters. Fetches one
// row past the page to learn whether a next page exists.
func (t *Timeline) Window(ctx context.Context, filters TimelineFilters) (Result, error) {
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	rows, err := t.pool.Query(ctx, `
		SELECT id, user_id, kind, action, context_kind, context_id, allowed, reason_code, detail, occurred_at
		FROM activity_log
		WHERE ($1::bigint = 0 OR user_id = $1)
		  AND ($2::text = '' OR kind = $2)
		  AND ($3::text = '' OR action = $3)
		  AND ($4::timestamptz IS NULL OR occurred_at >= $4)
		  AND ($5::timestamptz IS NULL OR occurred_at < $5)
		ORDER BY occurred_at DESC, id DESC
		OFFSET $6 LIMIT $7`,
		filters.UserID, strings.TrimSpace(filters.Kind), strings.TrimSpace(filters.Action),
		nullableTime(filters.From), nullableTime(filters.To), offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e      Entry
			reason *string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.Action, &e.ContextKind, &e.ContextID, &e.Allowed, &reason, &e.Detail, &e.OccurredAt); err != nil {
			return Result{}, err
		}
		if reason != nil {
			e.ReasonCode = *reason
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}

	hasNext := len(entries) > pageSize
	if hasNext {
		entries = entries[:pageSize]
	}
	return Result{
		Rows:   entries,
		Paging: PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext},
	}, nil
}

// Prune deletes entries older than the cutoff and returns how many
// rows were removed. Called from the retention job only.
func (t *Timeline) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := t.pool.Exec(ctx, `DELETE FROM activity_log WHERE occurred_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
