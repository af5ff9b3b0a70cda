package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/claimgate/pkg/billing"
)

const eventColumns = `stripe_event_id, type, payload, status, COALESCE(error, ''), attempts, received_at, processed_at`

func scanEvent(row scanner) (*billing.Event, error) {
	var e billing.Event
	var status string
	var payload []byte
	var processedAt sql.NullTime
	if err := row.Scan(&e.StripeEventID, &e.Type, &payload, &status, &e.Error,
		&e.Attempts, &e.ReceivedAt, &processedAt); err != nil {
		return nil, err
	}
	e.Payload = payload
	e.Status = billing.EventStatus(status)
	if processedAt.Valid {
		e.ProcessedAt = &processedAt.Time
	}
	return &e, nil
}

// RecordEvent inserts a webhook delivery or bumps the attempt count of a
// known one, returning the stored row either way.
func (s *Store) RecordEvent(ctx context.Context, id, eventType string, payload []byte) (*billing.Event, error) {
	query := `
		INSERT INTO webhook_events (stripe_event_id, type, payload)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (stripe_event_id) DO UPDATE SET attempts = webhook_events.attempts + 1
		RETURNING ` + eventColumns
	event, err := scanEvent(s.db.QueryRowContext(ctx, query, id, eventType, string(payload)))
	if err != nil {
		return nil, fmt.Errorf("failed to record webhook event: %w", err)
	}
	return event, nil
}

// GetEvent returns a stored webhook delivery.
func (s *Store) GetEvent(ctx context.Context, id string) (*billing.Event, error) {
	event, err := scanEvent(s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM webhook_events WHERE stripe_event_id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, billing.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}
	return event, nil
}

// MarkEvent records the outcome of processing an event.
func (s *Store) MarkEvent(ctx context.Context, id string, status billing.EventStatus, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events SET
			status = $2,
			error = NULLIF($3, ''),
			processed_at = CASE WHEN $2::text IN ('processed', 'ignored') THEN NOW() ELSE processed_at END
		WHERE stripe_event_id = $1
	`, id, string(status), reason)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return billing.ErrEventNotFound
	}
	return nil
}

var _ billing.EventStore = (*Store)(nil)
