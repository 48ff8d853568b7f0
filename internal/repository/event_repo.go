package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"notifgate/internal/model"
	"notifgate/pkg/metrics"
)

// ErrUnknownEventType marks an event type the configuration store has no
// row for. Callers treat it as malformed input, not a transient failure.
var ErrUnknownEventType = errors.New("unknown event type")

type EventRepository struct {
	db *pgxpool.Pool
}

func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Create(ctx context.Context, ev *model.Event) error {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("insert", "events", time.Since(start)) }()

	query := `
		INSERT INTO events (id, org_id, bundle, application, event_type, event_type_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query,
		ev.ID,
		ev.OrgID,
		ev.Bundle,
		ev.Application,
		ev.EventType,
		ev.EventTypeID,
		ev.RawPayload,
		ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// ResolveEventType looks up routing metadata for (bundle, application, name).
func (r *EventRepository) ResolveEventType(ctx context.Context, bundle, application, name string) (*model.EventType, error) {
	query := `
		SELECT id, bundle, application, name, display_name, subscribed_by_default
		FROM event_types
		WHERE bundle = $1 AND application = $2 AND name = $3
	`

	var et model.EventType
	err := r.db.QueryRow(ctx, query, bundle, application, name).Scan(
		&et.ID,
		&et.Bundle,
		&et.Application,
		&et.Name,
		&et.DisplayName,
		&et.SubscribedByDefault,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s/%s", ErrUnknownEventType, bundle, application, name)
		}
		return nil, fmt.Errorf("failed to resolve event type: %w", err)
	}
	return &et, nil
}
