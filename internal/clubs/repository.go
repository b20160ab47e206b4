package clubs

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/readerly/readerly/internal/entitlement"
)

// Repository provides PostgreSQL backed persistence for clubs and
// memberships. It is the authoritative source for the live counts the
// enforcement engine reads at decision time.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// StoreOfClub resolves the store a club belongs to. Implements
// entitlement.Directory.
func (r *Repository) StoreOfClub(ctx context.Context, clubID int64) (int64, error) {
	var storeID int64
	err := r.pool.QueryRow(ctx, `SELECT store_id FROM clubs WHERE id = $1`, clubID).Scan(&storeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, entitlement.ErrContextNotFound
		}
		return 0, err
	}
	return storeID, nil
}

// CreateClub inserts a new club under the store.
func (r *Repository) CreateClub(ctx context.Context, storeID int64, name string, at time.Time) (Club, error) {
	club := Club{StoreID: storeID, Name: name, CreatedAt: at}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO clubs (store_id, name, created_at)
		VALUES ($1, $2, $3)
		RETURNING id`, storeID, name, at).Scan(&club.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Club{}, ErrStoreNotFound
		}
		return Club{}, err
	}
	return club, nil
}

// CountMemberships returns how many clubs the user currently belongs to.
// Always read fresh; approvals against a cached count are race-prone.
func (r *Repository) CountMemberships(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM club_members WHERE user_id = $1`, userID).Scan(&count)
	return count, err
}

// AddMember records a membership. Duplicate joins surface as
// ErrAlreadyMember through the primary key.
func (r *Repository) AddMember(ctx context.Context, clubID, userID int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO club_members (club_id, user_id, joined_at)
		VALUES ($1, $2, $3)`, clubID, userID, at)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return ErrAlreadyMember
			case "23503":
				return ErrClubNotFound
			}
		}
		return err
	}
	return nil
}

// RecentMembers lists the most recently joined user ids, used by the
// cache warmup job.
func (r *Repository) RecentMembers(ctx context.Context, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id FROM (
			SELECT DISTINCT ON (user_id) user_id, joined_at
			FROM club_members
			ORDER BY user_id, joined_at DESC
		) latest
		ORDER BY joined_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}
