package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/allocation-engine/generic"
)

// =============================================================================
// OUTBOX STORE (generic.OutboxStore interface)
// =============================================================================

// PendingOutbox returns undelivered events, oldest first.
func (s *Store) PendingOutbox(ctx context.Context, limit int) ([]generic.OutboxRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	scan := func(sc scanner) (generic.OutboxRecord, error) {
		var (
			r                    generic.OutboxRecord
			payload, createdAt   string
			lastErr, deliveredAt sql.NullString
		)
		err := sc.Scan(&r.Event.ID, &r.Event.Topic, &r.Event.Type, &r.Event.Kind, &payload,
			&createdAt, &r.Attempts, &lastErr, &deliveredAt)
		if err != nil {
			return r, err
		}
		if err := json.Unmarshal([]byte(payload), &r.Event.Payload); err != nil {
			return r, fmt.Errorf("failed to decode event payload: %w", err)
		}
		r.Event.CreatedAt = parseTime(createdAt)
		r.LastError = lastErr.String
		r.DeliveredAt = parseNullTime(deliveredAt)
		return r, nil
	}
	return queryAll(ctx, s.db, scan, `
		SELECT id, topic, type, kind, payload_json, created_at, attempts, last_error, delivered_at
		FROM outbox
		WHERE delivered_at IS NULL
		ORDER BY created_at, id
		LIMIT ?`, limit)
}

// MarkOutboxDelivered stamps an event as published.
func (s *Store) MarkOutboxDelivered(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET delivered_at = ?, attempts = attempts + 1 WHERE id = ?`,
		formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event delivered: %w", err)
	}
	return requireRow(res, id)
}

// MarkOutboxFailed records a failed publish attempt; the event stays pending.
func (s *Store) MarkOutboxFailed(ctx context.Context, id string, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
		reason, id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event failed: %w", err)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("outbox event %s not found", id)
	}
	return nil
}
