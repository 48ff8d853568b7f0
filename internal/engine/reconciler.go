package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	contracts "notifgate/contracts/mq"
	"notifgate/internal/model"
	"notifgate/pkg/metrics"
	"notifgate/pkg/mq"
)

// Names of the internal event type the disable self-notification rides on.
const (
	SelfEventBundle      = "console"
	SelfEventApplication = "integrations"
	SelfEventType        = "integration-disabled"
)

// Reconciler consumes connector callbacks: completes the delivery record
// and drives the per-endpoint health state machine. All counter mutations
// are single atomic statements in the endpoint store, so concurrent
// reconcilers on the same endpoint cannot lose updates.
type Reconciler struct {
	deliveries DeliveryStore
	endpoints  EndpointStore
	publisher  Publisher
	threshold  int
	logger     *zap.Logger
}

func NewReconciler(
	deliveries DeliveryStore,
	endpoints EndpointStore,
	publisher Publisher,
	disableThreshold int,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		deliveries: deliveries,
		endpoints:  endpoints,
		publisher:  publisher,
		threshold:  disableThreshold,
		logger:     logger,
	}
}

// Handle reconciles one callback. Malformed payloads and unknown history
// ids are counted and dropped; only store/broker failures propagate so
// the broker redelivers.
func (r *Reconciler) Handle(ctx context.Context, raw json.RawMessage) error {
	var cb contracts.ConnectorCallback
	if err := json.Unmarshal(raw, &cb); err != nil {
		metrics.ReconcileOutcomes.WithLabelValues("malformed").Inc()
		r.logger.Error("Unparsable connector callback", zap.Error(err))
		return nil
	}

	if cb.HistoryID == "" {
		// Fire-and-forget send (digest mail): nothing to reconcile.
		metrics.ReconcileOutcomes.WithLabelValues("untracked").Inc()
		return nil
	}

	historyID, err := uuid.Parse(cb.HistoryID)
	if err != nil {
		metrics.ReconcileOutcomes.WithLabelValues("malformed").Inc()
		r.logger.Error("Callback with invalid history id",
			zap.String("history_id", cb.HistoryID),
		)
		return nil
	}

	result := model.InvocationFailure
	if cb.Successful {
		result = model.InvocationSuccess
	}
	details := cb.Details
	if cb.Outcome != "" {
		if details == nil {
			details = map[string]any{}
		}
		details["outcome"] = cb.Outcome
	}

	rec, err := r.deliveries.Complete(ctx, historyID, result, cb.DurationMs, details)
	if err != nil {
		return fmt.Errorf("failed to complete delivery record: %w", err)
	}
	if rec == nil {
		// Purged record, an id we never issued, or a duplicate callback.
		metrics.ReconcileOutcomes.WithLabelValues("unknown_history").Inc()
		r.logger.Warn("Callback for unknown delivery record, dropping",
			zap.String("history_id", historyID.String()),
		)
		return nil
	}

	return r.trackHealth(ctx, rec, &cb)
}

func (r *Reconciler) trackHealth(ctx context.Context, rec *model.DeliveryRecord, cb *contracts.ConnectorCallback) error {
	if cb.Successful {
		metrics.ReconcileOutcomes.WithLabelValues("success").Inc()
		if err := r.endpoints.ResetServerErrors(ctx, rec.EndpointID); err != nil {
			return err
		}
		return nil
	}

	if cb.Error != nil && cb.Error.Type == contracts.ErrorTypeClient {
		metrics.ReconcileOutcomes.WithLabelValues("failure_client").Inc()
		// Client errors are one strike: the target itself rejected us.
		flipped, err := r.endpoints.Disable(ctx, rec.EndpointID)
		if err != nil {
			return err
		}
		if flipped {
			return r.emitDisabled(ctx, rec.EndpointID, contracts.ErrorTypeClient, cb.StatusCode(), 1)
		}
		return nil
	}

	// Server-classified or transport-level failure: threshold-based.
	metrics.ReconcileOutcomes.WithLabelValues("failure_server").Inc()
	crossed, err := r.endpoints.IncrementServerErrors(ctx, rec.EndpointID, r.threshold)
	if err != nil {
		return err
	}
	if crossed {
		return r.emitDisabled(ctx, rec.EndpointID, contracts.ErrorTypeServer, cb.StatusCode(), r.threshold)
	}
	return nil
}

// emitDisabled publishes the integration-disabled self-event back onto the
// ingress topic. Health notifications ride the normal delivery pipeline,
// not a side channel, so org admins get them through whatever endpoints
// their behavior groups configure.
func (r *Reconciler) emitDisabled(ctx context.Context, endpointID uuid.UUID, errorType string, statusCode, attempts int) error {
	metrics.EndpointsDisabled.WithLabelValues(errorTypeLabel(errorType)).Inc()

	ep, err := r.endpoints.Get(ctx, endpointID)
	if err != nil {
		return fmt.Errorf("failed to load disabled endpoint: %w", err)
	}

	r.logger.Info("Endpoint auto-disabled",
		zap.String("endpoint_id", endpointID.String()),
		zap.String("endpoint_name", ep.Name),
		zap.String("error_type", errorType),
		zap.Int("status_code", statusCode),
		zap.Int("attempts", attempts),
	)

	envelope := contracts.IngressEnvelope{
		Version:     "v1",
		OrgID:       ep.OrgID,
		Bundle:      SelfEventBundle,
		Application: SelfEventApplication,
		EventType:   SelfEventType,
		Timestamp:   time.Now().UTC(),
		Events: []contracts.IngressEvent{{
			Payload: map[string]any{
				"endpoint_id":   endpointID.String(),
				"endpoint_name": ep.Name,
				"error_type":    errorType,
				"status_code":   statusCode,
				"attempt_count": attempts,
			},
		}},
		Recipients: []contracts.RecipientSetting{{
			OnlyAdmins:            true,
			IgnoreUserPreferences: true,
		}},
	}

	headers := amqp091.Table{mq.MessageIDHeader: uuid.NewString()}
	if err := r.publisher.PublishWithHeaders(ctx, contracts.IngressRoutingKey, envelope, headers); err != nil {
		return fmt.Errorf("failed to publish disable self-event: %w", err)
	}
	return nil
}

func errorTypeLabel(errorType string) string {
	if errorType == contracts.ErrorTypeClient {
		return "client"
	}
	return "server"
}
