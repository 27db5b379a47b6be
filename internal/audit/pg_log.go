package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PgLog struct {
	pool *pgxpool.Pool
}

func NewPgLog(pool *pgxpool.Pool) *PgLog {
	return &PgLog{pool: pool}
}

// EnsureSchema creates the transfer_events table if it is missing.
func (l *PgLog) EnsureSchema(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS transfer_events (
			id          BIGSERIAL PRIMARY KEY,
			event_type  TEXT        NOT NULL,
			transfer_id TEXT        NOT NULL,
			hospital_id TEXT        NOT NULL,
			actor_id    TEXT,
			payload     JSONB,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS transfer_events_transfer_idx ON transfer_events (transfer_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("ensure transfer_events schema: %w", err)
	}
	return nil
}

func (l *PgLog) Insert(ctx context.Context, ev Event) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO transfer_events (event_type, transfer_id, hospital_id, actor_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
	`, ev.EventType, ev.TransferID, ev.HospitalID, nullableString(ev.ActorID), ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert transfer event: %w", err)
	}
	return nil
}

// ListForTransfer returns the events of one transfer, oldest first.
func (l *PgLog) ListForTransfer(ctx context.Context, transferID string) ([]Event, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, event_type, transfer_id, hospital_id, COALESCE(actor_id, ''), payload, created_at
		FROM transfer_events
		WHERE transfer_id = $1
		ORDER BY created_at, id
	`, transferID)
	if err != nil {
		return nil, fmt.Errorf("query transfer events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.TransferID, &ev.HospitalID, &ev.ActorID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transfer event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer events: %w", err)
	}
	return out, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
