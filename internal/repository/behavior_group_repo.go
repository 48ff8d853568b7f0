package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"notifgate/internal/model"
	"notifgate/pkg/metrics"
)

type BehaviorGroupRepository struct {
	db *pgxpool.Pool
}

func NewBehaviorGroupRepository(db *pgxpool.Pool) *BehaviorGroupRepository {
	return &BehaviorGroupRepository{db: db}
}

// ResolveTargets returns the enabled endpoints reachable from behavior
// groups linked to eventTypeID, unioning the org's own groups with the
// default groups that apply to every org. DISTINCT collapses endpoints
// selected by more than one group.
func (r *BehaviorGroupRepository) ResolveTargets(ctx context.Context, orgID string, eventTypeID uuid.UUID) ([]model.Endpoint, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("resolve_targets", "behavior_groups", time.Since(start)) }()

	query := `
		SELECT DISTINCT e.id, e.org_id, e.name, e.type, e.enabled, e.consecutive_server_errors, e.properties
		FROM endpoints e
		JOIN behavior_group_actions a ON a.endpoint_id = e.id
		JOIN behavior_groups g ON g.id = a.behavior_group_id
		JOIN event_type_behaviors l ON l.behavior_group_id = g.id
		WHERE l.event_type_id = $1
		  AND (g.org_id = $2 OR g.org_id IS NULL)
		  AND e.enabled
	`
	rows, err := r.db.Query(ctx, query, eventTypeID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve targets: %w", err)
	}
	defer rows.Close()

	var endpoints []model.Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan endpoint: %w", err)
		}
		endpoints = append(endpoints, *e)
	}
	return endpoints, rows.Err()
}
