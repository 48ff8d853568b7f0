package engine

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"notifgate/internal/model"
)

// Resolver answers "who should receive this event". The standard path
// unions tenant-scoped and default behavior groups; the explicit path is a
// deliberate override used when the envelope context names an endpoint.
type Resolver struct {
	targets   TargetStore
	endpoints EndpointStore
	logger    *zap.Logger
}

func NewResolver(targets TargetStore, endpoints EndpointStore, logger *zap.Logger) *Resolver {
	return &Resolver{
		targets:   targets,
		endpoints: endpoints,
		logger:    logger,
	}
}

// ResolveTargets returns the deduplicated endpoint set for (org, event
// type). An empty set is a valid answer, not an error. The store already
// dedups in SQL; the map pass keeps the at-most-one-delivery invariant
// even if a misconfigured group slips a duplicate through.
func (r *Resolver) ResolveTargets(ctx context.Context, orgID string, eventTypeID uuid.UUID) ([]model.Endpoint, error) {
	endpoints, err := r.targets.ResolveTargets(ctx, orgID, eventTypeID)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]struct{}, len(endpoints))
	deduped := endpoints[:0]
	for _, e := range endpoints {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		deduped = append(deduped, e)
	}
	return deduped, nil
}

// ResolveExplicit looks up the single endpoint named by the envelope
// context, scoped to the org. Behavior-group resolution is skipped
// entirely on this path.
func (r *Resolver) ResolveExplicit(ctx context.Context, endpointID uuid.UUID, orgID string) (*model.Endpoint, error) {
	ep, err := r.endpoints.GetByID(ctx, endpointID, orgID)
	if err != nil {
		return nil, err
	}
	if !ep.Enabled {
		r.logger.Info("Explicit target endpoint is disabled, skipping",
			zap.String("endpoint_id", endpointID.String()),
		)
		return nil, nil
	}
	return ep, nil
}
