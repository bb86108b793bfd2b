package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	"github.com/jwalitptl/clinical-scribe/internal/repository"
)

type outboxRepository struct {
	BaseRepository
}

func NewOutboxRepository(db *sqlx.DB) repository.OutboxRepository {
	return &outboxRepository{NewBaseRepository(db)}
}

func (r *outboxRepository) Create(ctx context.Context, event *model.OutboxEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.Payload == nil {
		return fmt.Errorf("event payload cannot be nil")
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox_events (id, event_type, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.ID, event.EventType, []byte(event.Payload), event.Status, event.CreatedAt, event.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}
	return nil
}

func (r *outboxRepository) ClaimPending(ctx context.Context, limit int, fn func([]*model.OutboxEvent) []repository.OutboxUpdate) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var events []*model.OutboxEvent
		err := tx.SelectContext(ctx, &events, `
			SELECT id, event_type, payload, status, error_message, retry_count, retry_at, created_at, processed_at, updated_at
			FROM outbox_events
			WHERE status IN ('pending', 'retry')
			AND (retry_at IS NULL OR retry_at <= NOW())
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		`, limit)
		if err != nil {
			return fmt.Errorf("failed to get pending events: %w", err)
		}
		if len(events) == 0 {
			return nil
		}

		for _, u := range fn(events) {
			if _, err := tx.ExecContext(ctx, `
				UPDATE outbox_events
				SET status = $1,
					error_message = $2,
					retry_at = $4,
					retry_count = retry_count + CASE WHEN $1 = 'retry' THEN 1 ELSE 0 END,
					processed_at = CASE WHEN $1 = 'processed' THEN NOW() ELSE processed_at END,
					updated_at = NOW()
				WHERE id = $3
			`, u.Status, u.Error, u.ID, u.RetryAt); err != nil {
				return fmt.Errorf("failed to update outbox event %s: %w", u.ID, err)
			}
		}
		return nil
	})
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM outbox_events
		WHERE status = 'processed'
		AND processed_at < $1
	`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed events: %w", err)
	}

	return result.RowsAffected()
}
