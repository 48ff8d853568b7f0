package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	contracts "notifgate/contracts/mq"
	"notifgate/internal/model"
	"notifgate/internal/processor"
	"notifgate/pkg/metrics"
)

// Dispatcher fans one event out to its resolved endpoints: renders through
// the per-type processors, records a pending delivery per (event, endpoint)
// pair and emits the connector messages.
type Dispatcher struct {
	registry      *processor.Registry
	deliveries    DeliveryStore
	subscriptions SubscriptionStore
	staging       StagingStore
	publisher     Publisher
	logger        *zap.Logger
}

func NewDispatcher(
	registry *processor.Registry,
	deliveries DeliveryStore,
	subscriptions SubscriptionStore,
	staging StagingStore,
	publisher Publisher,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		registry:      registry,
		deliveries:    deliveries,
		subscriptions: subscriptions,
		staging:       staging,
		publisher:     publisher,
		logger:        logger,
	}
}

// Dispatch delivers ev to every endpoint in the set. Render and
// configuration failures are contained per endpoint: they produce an
// immediate failure record and the siblings continue. Store and broker
// failures abort the whole dispatch so the inbound message is redelivered.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *model.Event, et *model.EventType, endpoints []model.Endpoint, recipients []contracts.RecipientSetting) error {
	staged := false

	for i := range endpoints {
		ep := &endpoints[i]

		msg, renderErr := d.render(ctx, ep, ev, et, recipients)
		if renderErr != nil {
			// Render errors are configuration problems. Record the
			// failure, skip the outbound message, leave the health
			// counters alone and keep going with the siblings.
			metrics.RenderFailures.WithLabelValues(string(ep.Type)).Inc()
			d.logger.Warn("Render failed for endpoint",
				zap.String("event_id", ev.ID.String()),
				zap.String("endpoint_id", ep.ID.String()),
				zap.String("endpoint_type", string(ep.Type)),
				zap.Error(renderErr),
			)
			rec := d.newRecord(ev, et, ep)
			rec.Result = model.InvocationFailure
			rec.Details = map[string]any{"error": renderErr.Error()}
			if err := d.deliveries.Insert(ctx, rec); err != nil {
				return fmt.Errorf("failed to record render failure: %w", err)
			}
			continue
		}

		// Email events feed the digest whether or not anyone wants the
		// instant copy; a Daily-only audience still needs the rows.
		if ep.Type == model.EndpointTypeEmail && !staged {
			if err := d.stageForDigest(ctx, ev); err != nil {
				return err
			}
			staged = true
		}

		if msg == nil {
			// Nothing to send now (e.g. no instant email recipients).
			continue
		}

		// The pending row goes in before the outbound message so a
		// callback racing the dispatch always finds a row to update.
		rec := d.newRecord(ev, et, ep)
		if err := d.deliveries.Insert(ctx, rec); err != nil {
			return fmt.Errorf("failed to create delivery record: %w", err)
		}

		proc, _ := d.registry.For(ep.Type)
		out := contracts.ConnectorMessage{
			DeliveryRecordID: rec.ID.String(),
			EndpointType:     string(ep.Type),
			RenderedPayload:  msg.Payload,
			TargetAddress:    msg.TargetAddress,
		}
		headers := amqp091.Table{contracts.ConnectorHeader: proc.TargetChannel()}
		if err := d.publisher.PublishWithHeaders(ctx, contracts.ConnectorRoutingKey, out, headers); err != nil {
			return fmt.Errorf("failed to publish connector message: %w", err)
		}
		metrics.DispatchedMessages.WithLabelValues(string(ep.Type)).Inc()
	}

	return nil
}

func (d *Dispatcher) newRecord(ev *model.Event, et *model.EventType, ep *model.Endpoint) *model.DeliveryRecord {
	return &model.DeliveryRecord{
		ID:            uuid.New(),
		EventID:       ev.ID,
		EndpointID:    ep.ID,
		EndpointType:  ep.Type,
		Result:        model.InvocationPending,
		Bundle:        ev.Bundle,
		Application:   ev.Application,
		EventTypeName: et.DisplayName,
	}
}

// render produces the outbound message for one endpoint, or (nil, nil)
// when the endpoint has no audience.
func (d *Dispatcher) render(ctx context.Context, ep *model.Endpoint, ev *model.Event, et *model.EventType, recipients []contracts.RecipientSetting) (*processor.Message, error) {
	proc, err := d.registry.For(ep.Type)
	if err != nil {
		return nil, err
	}

	msg, err := proc.Render(ep, ev)
	if err != nil {
		return nil, err
	}

	if ep.Type != model.EndpointTypeEmail {
		return &msg, nil
	}

	users, err := d.emailRecipients(ctx, ev.OrgID, et, recipients)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve email recipients: %w", err)
	}
	if len(users) == 0 {
		d.logger.Debug("No email recipients, skipping endpoint",
			zap.String("event_id", ev.ID.String()),
			zap.String("endpoint_id", ep.ID.String()),
		)
		return nil, nil
	}

	withRcpt, err := processor.WithRecipients(msg, users)
	if err != nil {
		return nil, err
	}
	return &withRcpt, nil
}

// emailRecipients combines the event type's subscribed-by-default flag
// with per-user overrides: explicit subscribe wins over an unsubscribed
// default, explicit unsubscribe wins over a subscribed default. Recipient
// settings with only_admins or ignore_user_preferences bypass all of it
// and go to the org admins (used for system notifications such as the
// integration-disabled event).
func (d *Dispatcher) emailRecipients(ctx context.Context, orgID string, et *model.EventType, recipients []contracts.RecipientSetting) ([]string, error) {
	for _, r := range recipients {
		if r.OnlyAdmins || r.IgnoreUserPreferences {
			return d.subscriptions.Admins(ctx, orgID)
		}
	}

	if et.SubscribedByDefault {
		users, err := d.subscriptions.OrgUsers(ctx, orgID)
		if err != nil {
			return nil, err
		}
		unsubscribed, err := d.subscriptions.Unsubscribers(ctx, orgID, et.ID, model.SubscriptionInstant)
		if err != nil {
			return nil, err
		}
		out := make(map[string]struct{}, len(users))
		for _, u := range users {
			out[u] = struct{}{}
		}
		for _, u := range unsubscribed {
			delete(out, u)
		}
		result := make([]string, 0, len(out))
		for u := range out {
			result = append(result, u)
		}
		return result, nil
	}

	return d.subscriptions.Subscribers(ctx, orgID, et.ID, model.SubscriptionInstant)
}

// stageForDigest appends the event payload to the aggregation staging
// table; the scheduled digest run folds and purges it later.
func (d *Dispatcher) stageForDigest(ctx context.Context, ev *model.Event) error {
	row := &model.StagedRow{
		ID:          uuid.New(),
		OrgID:       ev.OrgID,
		Bundle:      ev.Bundle,
		Application: ev.Application,
		Payload:     ev.RawPayload,
		CreatedAt:   ev.CreatedAt,
	}
	if err := d.staging.Insert(ctx, row); err != nil {
		return fmt.Errorf("failed to stage event for digest: %w", err)
	}
	return nil
}
