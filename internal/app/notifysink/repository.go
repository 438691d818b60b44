package notifysink

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unistay/roomshare/internal/contracts"
)

const createShareEventsTableSQL = `
CREATE TABLE IF NOT EXISTS share_events (
  event_id text PRIMARY KEY,
  share_id text NOT NULL,
  property_id text NOT NULL,
  event_type text NOT NULL,
  actor_user_id text NOT NULL,
  poster_id text NOT NULL,
  applicant_id text NOT NULL DEFAULT '',
  application_id text NOT NULL DEFAULT '',
  compatibility_score integer NOT NULL DEFAULT 0,
  shard_id integer NOT NULL,
  occurred_at timestamptz NOT NULL,
  inserted_at timestamptz NOT NULL DEFAULT now()
)`

const createNotificationsTableSQL = `
CREATE TABLE IF NOT EXISTS notifications (
  notification_id text PRIMARY KEY,
  recipient_user_id text NOT NULL,
  share_id text NOT NULL,
  event_type text NOT NULL,
  message text NOT NULL,
  created_at timestamptz NOT NULL,
  read_at timestamptz
)`

const createNotificationsRecipientIndexSQL = `
CREATE INDEX IF NOT EXISTS notifications_recipient_idx
  ON notifications (recipient_user_id, created_at DESC)`

const createShareSinkOffsetsSQL = `
CREATE TABLE IF NOT EXISTS share_sink_offsets (
  share_id text PRIMARY KEY,
  last_event_seq bigint NOT NULL DEFAULT 0,
  updated_at timestamptz NOT NULL DEFAULT now()
)`

const insertShareEventSQL = `
INSERT INTO share_events (
  event_id, share_id, property_id, event_type, actor_user_id, poster_id,
  applicant_id, application_id, compatibility_score, shard_id, occurred_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (event_id) DO NOTHING
`

const insertNotificationSQL = `
INSERT INTO notifications (
  notification_id, recipient_user_id, share_id, event_type, message, created_at
)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (notification_id) DO NOTHING
`

const upsertShareSinkOffsetSQL = `
INSERT INTO share_sink_offsets (share_id, last_event_seq, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (share_id) DO UPDATE
SET last_event_seq = GREATEST(share_sink_offsets.last_event_seq, EXCLUDED.last_event_seq),
    updated_at = now()
`

type EventRepository struct {
	Pool *pgxpool.Pool
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{Pool: pool}
}

func (r *EventRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createShareEventsTableSQL); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, createNotificationsTableSQL); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, createNotificationsRecipientIndexSQL); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, createShareSinkOffsetsSQL); err != nil {
		return err
	}
	return nil
}

func (r *EventRepository) InsertEvent(ctx context.Context, event contracts.ShareEvent, notification *Notification, eventSeq uint64) error {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, insertShareEventSQL,
		event.EventID,
		event.ShareID,
		event.PropertyID,
		event.EventType,
		event.ActorUserID,
		event.PosterID,
		event.ApplicantID,
		event.ApplicationID,
		event.CompatibilityScore,
		event.ShardID,
		event.OccurredAt,
	); err != nil {
		return err
	}

	if notification != nil && notification.Recipient != "" {
		if _, err := tx.Exec(ctx, insertNotificationSQL,
			notification.ID,
			notification.Recipient,
			event.ShareID,
			event.EventType,
			notification.Message,
			event.OccurredAt,
		); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, upsertShareSinkOffsetSQL, event.ShareID, int64(eventSeq)); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
