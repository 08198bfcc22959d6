package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neexbeast/culturalcompass/internal/discovery"
)

// Querier abstracts the subset of pgxpool.Pool used by Repository.
// This allows injection of a mock in tests.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository is the durable favorites ledger. Each favorite keeps a JSONB
// snapshot of the attraction as it was when favorited.
type Repository struct {
	q Querier
}

// NewRepository constructs a Repository backed by the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{q: pool}
}

// NewRepositoryWithQuerier constructs a Repository with a custom Querier (for tests).
func NewRepositoryWithQuerier(q Querier) *Repository {
	return &Repository{q: q}
}

// FavoriteIDs returns the set of place ids userID has favorited.
func (r *Repository) FavoriteIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	const q = `SELECT place_id FROM favorites WHERE user_id = $1`

	rows, err := r.q.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("querying favorite ids for user %s: %w", userID, err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning favorite id: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating favorite ids: %w", err)
	}
	return ids, nil
}

// SetFavorite stores the favorite placeID for userID; a nil attraction removes it.
// Re-favoriting refreshes the snapshot but keeps the original created_at.
func (r *Repository) SetFavorite(ctx context.Context, userID, placeID string, a *discovery.Attraction) error {
	if a == nil {
		const q = `DELETE FROM favorites WHERE user_id = $1 AND place_id = $2`
		if _, err := r.q.Exec(ctx, q, userID, placeID); err != nil {
			return fmt.Errorf("deleting favorite %s for user %s: %w", placeID, userID, err)
		}
		return nil
	}

	snapshot := *a
	snapshot.ID = placeID
	snapshot.Favorite = true
	dataJSON, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshaling favorite %s for user %s: %w", placeID, userID, err)
	}

	const q = `
		INSERT INTO favorites (user_id, place_id, attraction, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (user_id, place_id) DO UPDATE
		SET attraction = EXCLUDED.attraction,
		    updated_at = EXCLUDED.updated_at
	`

	if _, err := r.q.Exec(ctx, q, userID, placeID, dataJSON); err != nil {
		return fmt.Errorf("upserting favorite %s for user %s: %w", placeID, userID, err)
	}
	return nil
}

// GetFavorite returns one favorite.
// Returns nil, nil when it does not exist.
func (r *Repository) GetFavorite(ctx context.Context, userID, placeID string) (*discovery.FavoriteRecord, error) {
	const q = `
		SELECT attraction, created_at
		FROM favorites
		WHERE user_id = $1 AND place_id = $2
	`

	rec := discovery.FavoriteRecord{UserID: userID}
	var dataJSON []byte

	err := r.q.QueryRow(ctx, q, userID, placeID).Scan(&dataJSON, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying favorite %s for user %s: %w", placeID, userID, err)
	}

	if err := json.Unmarshal(dataJSON, &rec.Attraction); err != nil {
		return nil, fmt.Errorf("unmarshaling favorite %s for user %s: %w", placeID, userID, err)
	}
	return &rec, nil
}

// ListFavorites returns userID's favorites, newest first. A non-empty
// category narrows the list using the JSONB @> containment operator.
func (r *Repository) ListFavorites(ctx context.Context, userID, category string) ([]discovery.FavoriteRecord, error) {
	var (
		rows pgx.Rows
		err  error
	)

	if category == "" {
		const q = `
			SELECT attraction, created_at
			FROM favorites
			WHERE user_id = $1
			ORDER BY created_at DESC, place_id
		`
		rows, err = r.q.Query(ctx, q, userID)
	} else {
		filter, mErr := json.Marshal(map[string]any{"category": category})
		if mErr != nil {
			return nil, fmt.Errorf("marshaling JSONB filter: %w", mErr)
		}
		const q = `
			SELECT attraction, created_at
			FROM favorites
			WHERE user_id = $1
			AND attraction @> $2::jsonb
			ORDER BY created_at DESC, place_id
		`
		rows, err = r.q.Query(ctx, q, userID, string(filter))
	}
	if err != nil {
		return nil, fmt.Errorf("querying favorites for user %s: %w", userID, err)
	}
	defer rows.Close()

	results := []discovery.FavoriteRecord{}
	for rows.Next() {
		rec := discovery.FavoriteRecord{UserID: userID}
		var dataJSON []byte

		if err := rows.Scan(&dataJSON, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning favorite row: %w", err)
		}
		if err := json.Unmarshal(dataJSON, &rec.Attraction); err != nil {
			return nil, fmt.Errorf("unmarshaling favorite: %w", err)
		}
		results = append(results, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating favorite rows: %w", err)
	}

	return results, nil
}
