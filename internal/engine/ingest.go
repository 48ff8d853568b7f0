package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	contracts "notifgate/contracts/mq"
	"notifgate/internal/dedup"
	"notifgate/internal/model"
	"notifgate/pkg/logger"
	"notifgate/pkg/metrics"
	"notifgate/pkg/mq"
)

// Ingestor is the entry point of the pipeline: dedup, envelope validation,
// event persistence, target resolution and dispatch, in that order.
type Ingestor struct {
	deduper    *dedup.Deduper
	validator  *EnvelopeValidator
	events     EventStore
	resolver   *Resolver
	dispatcher *Dispatcher
	logger     *zap.Logger
}

func NewIngestor(
	deduper *dedup.Deduper,
	validator *EnvelopeValidator,
	events EventStore,
	resolver *Resolver,
	dispatcher *Dispatcher,
	log *zap.Logger,
) *Ingestor {
	return &Ingestor{
		deduper:    deduper,
		validator:  validator,
		events:     events,
		resolver:   resolver,
		dispatcher: dispatcher,
		logger:     log,
	}
}

// Handle processes one ingress message end to end. The return value
// follows the consumer contract: nil acks (processed, duplicate or
// malformed), an error nacks for redelivery (store or broker down).
func (i *Ingestor) Handle(ctx context.Context, msg mq.Message) error {
	start := time.Now()
	defer func() {
		metrics.RecordConsumeLatency(contracts.IngressRoutingKey, time.Since(start))
	}()

	log := logger.WithTrace(ctx, i.logger)

	if i.deduper.Accept(ctx, msg.MessageID) == dedup.Duplicate {
		// Not an error: ack and stop. No event, no dispatch.
		return nil
	}

	err := i.process(ctx, msg.Body)
	if err == nil {
		metrics.IngressMessages.WithLabelValues("accepted").Inc()
		return nil
	}

	if transient, kind := Classify(err); transient {
		// Release the dedup registration so the redelivery is not
		// dropped as a duplicate.
		i.deduper.Forget(ctx, msg.MessageID)
		log.Error("Transient ingest failure, message will be redelivered",
			zap.String("kind", kind),
			zap.Error(err),
		)
		return err
	} else {
		metrics.IngressMessages.WithLabelValues("malformed").Inc()
		log.Warn("Dropping malformed ingress message",
			zap.String("kind", kind),
			zap.Error(err),
		)
		return nil
	}
}

func (i *Ingestor) process(ctx context.Context, body []byte) error {
	if err := i.validator.Validate(body); err != nil {
		return malformed(err)
	}

	var env contracts.IngressEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return malformed(err)
	}

	et, err := i.events.ResolveEventType(ctx, env.Bundle, env.Application, env.EventType)
	if err != nil {
		return err
	}

	ev := &model.Event{
		ID:          uuid.New(),
		OrgID:       env.OrgID,
		Bundle:      env.Bundle,
		Application: env.Application,
		EventType:   env.EventType,
		EventTypeID: et.ID,
		CreatedAt:   time.Now().UTC(),
		RawPayload:  body,
	}
	if err := i.events.Create(ctx, ev); err != nil {
		return err
	}

	endpoints, err := i.resolveEndpoints(ctx, &env, et)
	if err != nil {
		return err
	}
	if len(endpoints) == 0 {
		// The event stays recorded for audit; nothing to deliver.
		i.logger.Debug("No endpoints resolved for event",
			zap.String("event_id", ev.ID.String()),
			zap.String("event_type", env.EventType),
			zap.String("org_id", env.OrgID),
		)
		return nil
	}

	return i.dispatcher.Dispatch(ctx, ev, et, endpoints, env.Recipients)
}

// resolveEndpoints picks the explicit-target path when the envelope
// context names an endpoint, otherwise runs behavior-group resolution.
// The explicit path is an override, never a union.
func (i *Ingestor) resolveEndpoints(ctx context.Context, env *contracts.IngressEnvelope, et *model.EventType) ([]model.Endpoint, error) {
	if raw, ok := env.Context[contracts.ContextEndpointID]; ok {
		idStr, ok := raw.(string)
		if !ok {
			return nil, malformed(fmt.Errorf("context %s is not a string", contracts.ContextEndpointID))
		}
		endpointID, err := uuid.Parse(idStr)
		if err != nil {
			return nil, malformed(fmt.Errorf("context %s is not a uuid: %w", contracts.ContextEndpointID, err))
		}
		ep, err := i.resolver.ResolveExplicit(ctx, endpointID, env.OrgID)
		if err != nil {
			return nil, err
		}
		if ep == nil {
			return nil, nil
		}
		return []model.Endpoint{*ep}, nil
	}

	return i.resolver.ResolveTargets(ctx, env.OrgID, et.ID)
}
