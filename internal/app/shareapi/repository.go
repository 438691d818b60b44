package shareapi

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unistay/roomshare/internal/roomshare"
)

// PostgresRepository stores each share as a jsonb document plus a handful
// of promoted columns for listing. The version column is the CAS guard.
type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

const createRoomSharesSQL = `
CREATE TABLE IF NOT EXISTS room_shares (
  share_id text PRIMARY KEY,
  poster_id text NOT NULL,
  property_id text NOT NULL,
  status text NOT NULL,
  available_from timestamptz NOT NULL,
  created_at timestamptz NOT NULL,
  updated_at timestamptz NOT NULL,
  version bigint NOT NULL,
  document jsonb NOT NULL
)`

const createRoomSharesIndexSQL = `
CREATE INDEX IF NOT EXISTS room_shares_status_created_idx
  ON room_shares (status, created_at DESC)`

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createRoomSharesSQL); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, createRoomSharesIndexSQL); err != nil {
		return err
	}
	return nil
}

func (r *PostgresRepository) Load(ctx context.Context, shareID string) (*roomshare.Share, error) {
	var document []byte
	err := r.Pool.QueryRow(ctx,
		`SELECT document FROM room_shares WHERE share_id = $1`,
		shareID,
	).Scan(&document)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrShareNotFound
		}
		return nil, err
	}
	var share roomshare.Share
	if err := json.Unmarshal(document, &share); err != nil {
		return nil, err
	}
	return &share, nil
}

// Save inserts when expectedVersion is zero, otherwise performs a guarded
// update. A zero-row update is disambiguated with a follow-up existence
// check so callers can tell a lost race from a vanished share.
func (r *PostgresRepository) Save(ctx context.Context, share *roomshare.Share, expectedVersion uint64) error {
	share.Version = expectedVersion + 1
	document, err := json.Marshal(share)
	if err != nil {
		return err
	}

	if expectedVersion == 0 {
		_, err := r.Pool.Exec(ctx,
			`INSERT INTO room_shares
			   (share_id, poster_id, property_id, status, available_from, created_at, updated_at, version, document)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			share.ID, share.PosterID, share.PropertyID, share.Status,
			share.AvailableFrom, share.CreatedAt, share.UpdatedAt, share.Version, document,
		)
		return err
	}

	tag, err := r.Pool.Exec(ctx,
		`UPDATE room_shares
		 SET status = $1, updated_at = $2, version = $3, document = $4
		 WHERE share_id = $5 AND version = $6`,
		share.Status, share.UpdatedAt, share.Version, document,
		share.ID, expectedVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.Pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM room_shares WHERE share_id = $1)`,
			share.ID,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrShareNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

func (r *PostgresRepository) ListActive(ctx context.Context, limit int) ([]*roomshare.Share, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT document FROM room_shares
		 WHERE status IN ($1, $2)
		 ORDER BY created_at DESC
		 LIMIT $3`,
		roomshare.StatusActive, roomshare.StatusFull, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shares []*roomshare.Share
	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, err
		}
		var share roomshare.Share
		if err := json.Unmarshal(document, &share); err != nil {
			return nil, err
		}
		shares = append(shares, &share)
	}
	return shares, rows.Err()
}
