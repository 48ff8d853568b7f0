package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"notifgate/internal/model"
	"notifgate/pkg/metrics"
)

type DeliveryRepository struct {
	db *pgxpool.Pool
}

func NewDeliveryRepository(db *pgxpool.Pool) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// Insert creates the row for one (event, endpoint) pair: pending at
// dispatch time before the outbound message goes out, or already failed
// for render errors. The unique constraint on (event_id, endpoint_id) plus
// ON CONFLICT keeps redelivered messages from producing a second logical
// delivery.
func (r *DeliveryRepository) Insert(ctx context.Context, rec *model.DeliveryRecord) error {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("insert", "delivery_records", time.Since(start)) }()

	details, err := marshalDetails(rec.Details)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO delivery_records
			(id, event_id, endpoint_id, endpoint_type, result, duration_ms, details,
			 bundle, application, event_type_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (event_id, endpoint_id) DO NOTHING
	`
	_, err = r.db.Exec(ctx, query,
		rec.ID,
		rec.EventID,
		rec.EndpointID,
		rec.EndpointType,
		rec.Result,
		rec.DurationMs,
		details,
		rec.Bundle,
		rec.Application,
		rec.EventTypeName,
	)
	if err != nil {
		return fmt.Errorf("failed to insert delivery record: %w", err)
	}
	return nil
}

// Complete moves a record out of pending and returns it. It returns nil
// when no pending row matches the id: the record was purged, the callback
// references an id we never issued, or a duplicate callback already
// completed it. In all three cases the caller drops the callback, which
// also keeps duplicate callbacks from double-counting endpoint health.
func (r *DeliveryRepository) Complete(ctx context.Context, id uuid.UUID, result model.InvocationResult, durationMs int64, details map[string]any) (*model.DeliveryRecord, error) {
	detailsJSON, err := marshalDetails(details)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE delivery_records
		SET result = $2, duration_ms = $3, details = $4
		WHERE id = $1 AND result = 'pending'
		RETURNING event_id, endpoint_id, endpoint_type, bundle, application, event_type_name, created_at
	`
	rec := model.DeliveryRecord{
		ID:         id,
		Result:     result,
		DurationMs: durationMs,
		Details:    details,
	}
	err = r.db.QueryRow(ctx, query, id, result, durationMs, detailsJSON).Scan(
		&rec.EventID,
		&rec.EndpointID,
		&rec.EndpointType,
		&rec.Bundle,
		&rec.Application,
		&rec.EventTypeName,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to complete delivery record: %w", err)
	}
	return &rec, nil
}

func marshalDetails(details map[string]any) ([]byte, error) {
	if details == nil {
		return nil, nil
	}
	data, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal details: %w", err)
	}
	return data, nil
}
