package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"notifgate/internal/model"
)

type StagingRepository struct {
	db *pgxpool.Pool
}

func NewStagingRepository(db *pgxpool.Pool) *StagingRepository {
	return &StagingRepository{db: db}
}

func (r *StagingRepository) Insert(ctx context.Context, row *model.StagedRow) error {
	query := `
		INSERT INTO staged_aggregation_rows (id, org_id, bundle, application, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query, row.ID, row.OrgID, row.Bundle, row.Application, row.Payload, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert staged row: %w", err)
	}
	return nil
}

// Keys returns the distinct (org, bundle, application) keys with at least
// one staged row created in [start, end).
func (r *StagingRepository) Keys(ctx context.Context, start, end time.Time) ([]model.AggregationKey, error) {
	query := `
		SELECT DISTINCT org_id, bundle, application
		FROM staged_aggregation_rows
		WHERE created_at >= $1 AND created_at < $2
	`
	rows, err := r.db.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query aggregation keys: %w", err)
	}
	defer rows.Close()

	var keys []model.AggregationKey
	for rows.Next() {
		var k model.AggregationKey
		if err := rows.Scan(&k.OrgID, &k.Bundle, &k.Application); err != nil {
			return nil, fmt.Errorf("failed to scan aggregation key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Rows loads the staged rows for one key and window, ordered by creation
// time so accumulators fold them in arrival order.
func (r *StagingRepository) Rows(ctx context.Context, key model.AggregationKey, start, end time.Time) ([]model.StagedRow, error) {
	query := `
		SELECT id, org_id, bundle, application, payload, created_at
		FROM staged_aggregation_rows
		WHERE org_id = $1 AND bundle = $2 AND application = $3
		  AND created_at >= $4 AND created_at < $5
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, key.OrgID, key.Bundle, key.Application, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query staged rows: %w", err)
	}
	defer rows.Close()

	var staged []model.StagedRow
	for rows.Next() {
		var s model.StagedRow
		if err := rows.Scan(&s.ID, &s.OrgID, &s.Bundle, &s.Application, &s.Payload, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan staged row: %w", err)
		}
		staged = append(staged, s)
	}
	return staged, rows.Err()
}

// Purge deletes the consumed rows for one key, scoped exactly to the
// processed window so rows created during the run survive to the next one.
func (r *StagingRepository) Purge(ctx context.Context, key model.AggregationKey, start, end time.Time) error {
	query := `
		DELETE FROM staged_aggregation_rows
		WHERE org_id = $1 AND bundle = $2 AND application = $3
		  AND created_at >= $4 AND created_at < $5
	`
	if _, err := r.db.Exec(ctx, query, key.OrgID, key.Bundle, key.Application, start, end); err != nil {
		return fmt.Errorf("failed to purge staged rows: %w", err)
	}
	return nil
}
