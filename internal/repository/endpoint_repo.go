package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"notifgate/internal/model"
)

// ErrEndpointNotFound marks an endpoint id that does not exist or is not
// visible to the requesting org.
var ErrEndpointNotFound = errors.New("endpoint not found")

type EndpointRepository struct {
	db *pgxpool.Pool
}

func NewEndpointRepository(db *pgxpool.Pool) *EndpointRepository {
	return &EndpointRepository{db: db}
}

const endpointColumns = `id, org_id, name, type, enabled, consecutive_server_errors, properties`

func scanEndpoint(row pgx.Row) (*model.Endpoint, error) {
	var (
		e     model.Endpoint
		orgID *string
	)
	err := row.Scan(&e.ID, &orgID, &e.Name, &e.Type, &e.Enabled, &e.ConsecutiveServerErrors, &e.Properties)
	if err != nil {
		return nil, err
	}
	if orgID != nil {
		e.OrgID = *orgID
	}
	return &e, nil
}

// GetByID fetches an endpoint scoped to orgID. System endpoints (no owning
// org) are visible to every org.
func (r *EndpointRepository) GetByID(ctx context.Context, id uuid.UUID, orgID string) (*model.Endpoint, error) {
	query := `
		SELECT ` + endpointColumns + `
		FROM endpoints
		WHERE id = $1 AND (org_id = $2 OR org_id IS NULL)
	`
	e, err := scanEndpoint(r.db.QueryRow(ctx, query, id, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrEndpointNotFound, id)
		}
		return nil, fmt.Errorf("failed to get endpoint: %w", err)
	}
	return e, nil
}

// Get fetches an endpoint without org scoping. The reconciler uses it to
// build the disable self-event; callbacks carry no org context.
func (r *EndpointRepository) Get(ctx context.Context, id uuid.UUID) (*model.Endpoint, error) {
	query := `
		SELECT ` + endpointColumns + `
		FROM endpoints
		WHERE id = $1
	`
	e, err := scanEndpoint(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrEndpointNotFound, id)
		}
		return nil, fmt.Errorf("failed to get endpoint: %w", err)
	}
	return e, nil
}

// IncrementServerErrors bumps the consecutive-server-error counter and
// flips the endpoint to disabled when the new value reaches threshold, all
// in one statement so concurrent reconcilers cannot lose updates. It
// returns whether this call is the one that disabled the endpoint: already
// disabled endpoints match no row, so exactly one increment can cross.
func (r *EndpointRepository) IncrementServerErrors(ctx context.Context, id uuid.UUID, threshold int) (bool, error) {
	query := `
		UPDATE endpoints
		SET consecutive_server_errors = consecutive_server_errors + 1,
		    enabled = consecutive_server_errors + 1 < $2
		WHERE id = $1 AND enabled
		RETURNING enabled
	`
	var stillEnabled bool
	err := r.db.QueryRow(ctx, query, id, threshold).Scan(&stillEnabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Already disabled (or gone); nothing to count.
			return false, nil
		}
		return false, fmt.Errorf("failed to increment server errors: %w", err)
	}
	return !stillEnabled, nil
}

// ResetServerErrors zeroes the counter after a successful delivery.
func (r *EndpointRepository) ResetServerErrors(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE endpoints
		SET consecutive_server_errors = 0
		WHERE id = $1 AND consecutive_server_errors <> 0
	`
	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to reset server errors: %w", err)
	}
	return nil
}

// Disable flips the endpoint to disabled and reports whether this call did
// the flipping. The conditional WHERE makes the transition observable
// exactly once under concurrent reconcilers.
func (r *EndpointRepository) Disable(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE endpoints
		SET enabled = false
		WHERE id = $1 AND enabled
	`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to disable endpoint: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
