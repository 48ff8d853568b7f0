package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"notifgate/internal/model"
)

// The engine talks to its collaborators through narrow interfaces so the
// dispatch, reconciliation and digest paths can be exercised without a
// database or broker. The pgx repositories in internal/repository satisfy
// them in production.

type EventStore interface {
	Create(ctx context.Context, ev *model.Event) error
	ResolveEventType(ctx context.Context, bundle, application, name string) (*model.EventType, error)
}

type TargetStore interface {
	ResolveTargets(ctx context.Context, orgID string, eventTypeID uuid.UUID) ([]model.Endpoint, error)
}

type EndpointStore interface {
	GetByID(ctx context.Context, id uuid.UUID, orgID string) (*model.Endpoint, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Endpoint, error)
	IncrementServerErrors(ctx context.Context, id uuid.UUID, threshold int) (bool, error)
	ResetServerErrors(ctx context.Context, id uuid.UUID) error
	Disable(ctx context.Context, id uuid.UUID) (bool, error)
}

type DeliveryStore interface {
	Insert(ctx context.Context, rec *model.DeliveryRecord) error
	Complete(ctx context.Context, id uuid.UUID, result model.InvocationResult, durationMs int64, details map[string]any) (*model.DeliveryRecord, error)
}

type SubscriptionStore interface {
	Subscribers(ctx context.Context, orgID string, eventTypeID uuid.UUID, subType model.SubscriptionType) ([]string, error)
	Unsubscribers(ctx context.Context, orgID string, eventTypeID uuid.UUID, subType model.SubscriptionType) ([]string, error)
	OrgUsers(ctx context.Context, orgID string) ([]string, error)
	Admins(ctx context.Context, orgID string) ([]string, error)
	DailySubscribers(ctx context.Context, orgID, bundle, application string) ([]string, error)
}

type StagingStore interface {
	Insert(ctx context.Context, row *model.StagedRow) error
	Keys(ctx context.Context, start, end time.Time) ([]model.AggregationKey, error)
	Rows(ctx context.Context, key model.AggregationKey, start, end time.Time) ([]model.StagedRow, error)
	Purge(ctx context.Context, key model.AggregationKey, start, end time.Time) error
}

// Publisher is the outbound side of the message log.
type Publisher interface {
	PublishWithHeaders(ctx context.Context, routingKey string, payload any, headers amqp091.Table) error
}
