package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	contracts "notifgate/contracts/mq"
	"notifgate/internal/model"
	"notifgate/internal/processor"
	"notifgate/pkg/metrics"
)

// Accumulator folds staged event payloads into one digest context. The
// shape of the summary is application-defined and opaque to the engine.
type Accumulator interface {
	Fold(payload json.RawMessage)
	Summary() map[string]any
}

// AccumulatorFactory builds a fresh accumulator per aggregation key.
type AccumulatorFactory func(key model.AggregationKey) Accumulator

// eventCountAccumulator is the default: it counts staged events per event
// type.
type eventCountAccumulator struct {
	counts map[string]int
	total  int
}

// NewEventCountAccumulator returns the default accumulator factory.
func NewEventCountAccumulator(model.AggregationKey) Accumulator {
	return &eventCountAccumulator{counts: make(map[string]int)}
}

func (a *eventCountAccumulator) Fold(payload json.RawMessage) {
	a.total++
	var env struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(payload, &env); err != nil || env.EventType == "" {
		a.counts["unknown"]++
		return
	}
	a.counts[env.EventType]++
}

func (a *eventCountAccumulator) Summary() map[string]any {
	return map[string]any{
		"total":       a.total,
		"event_types": a.counts,
	}
}

// DigestRunner folds the staged rows of a time window into one summary
// email per aggregation key.
type DigestRunner struct {
	staging        StagingStore
	subscriptions  SubscriptionStore
	publisher      Publisher
	newAccumulator AccumulatorFactory
	keyTimeout     time.Duration
	logger         *zap.Logger
}

func NewDigestRunner(
	staging StagingStore,
	subscriptions SubscriptionStore,
	publisher Publisher,
	newAccumulator AccumulatorFactory,
	keyTimeout time.Duration,
	logger *zap.Logger,
) *DigestRunner {
	if newAccumulator == nil {
		newAccumulator = NewEventCountAccumulator
	}
	return &DigestRunner{
		staging:        staging,
		subscriptions:  subscriptions,
		publisher:      publisher,
		newAccumulator: newAccumulator,
		keyTimeout:     keyTimeout,
		logger:         logger,
	}
}

// Run processes every aggregation key with staged rows in [start, end).
// One key failing (render, recipients, publish, timeout) never stops the
// others, but Run reports it so the caller retries the same window; the
// failed key's rows stay staged and are picked up then. Rows are purged
// only after the digest for their key was published, and only within the
// processed window, so rows staged concurrently with the run survive and
// a retried window re-folds only what was never purged.
func (r *DigestRunner) Run(ctx context.Context, start, end time.Time) error {
	keys, err := r.staging.Keys(ctx, start, end)
	if err != nil {
		return fmt.Errorf("failed to list aggregation keys: %w", err)
	}

	var failed []error
	for _, key := range keys {
		if err := r.processKey(ctx, key, start, end); err != nil {
			metrics.DigestKeys.WithLabelValues("failed").Inc()
			r.logger.Error("Digest key failed",
				zap.String("org_id", key.OrgID),
				zap.String("bundle", key.Bundle),
				zap.String("application", key.Application),
				zap.Error(err),
			)
			failed = append(failed, fmt.Errorf("key %s/%s/%s: %w", key.OrgID, key.Bundle, key.Application, err))
			continue
		}
	}
	return errors.Join(failed...)
}

func (r *DigestRunner) processKey(ctx context.Context, key model.AggregationKey, start, end time.Time) error {
	// A stuck key must not block the whole scheduled run.
	ctx, cancel := context.WithTimeout(ctx, r.keyTimeout)
	defer cancel()

	rows, err := r.staging.Rows(ctx, key, start, end)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		metrics.DigestKeys.WithLabelValues("empty").Inc()
		return nil
	}

	acc := r.newAccumulator(key)
	for _, row := range rows {
		acc.Fold(row.Payload)
	}

	recipients, err := r.subscriptions.DailySubscribers(ctx, key.OrgID, key.Bundle, key.Application)
	if err != nil {
		return err
	}

	if len(recipients) > 0 {
		if err := r.publishDigest(ctx, key, acc.Summary(), recipients, start, end); err != nil {
			return err
		}
	}

	// Emission succeeded (or nobody wants this digest): consume the rows.
	if err := r.staging.Purge(ctx, key, start, end); err != nil {
		return err
	}
	metrics.DigestKeys.WithLabelValues("processed").Inc()
	return nil
}

func (r *DigestRunner) publishDigest(ctx context.Context, key model.AggregationKey, summary map[string]any, recipients []string, start, end time.Time) error {
	body, err := json.Marshal(processor.EmailPayload{
		Subject: fmt.Sprintf("Daily digest - %s/%s", key.Bundle, key.Application),
		Body: mustJSON(map[string]any{
			"org_id":       key.OrgID,
			"bundle":       key.Bundle,
			"application":  key.Application,
			"window_start": start,
			"window_end":   end,
			"aggregates":   summary,
		}),
		Recipients: recipients,
	})
	if err != nil {
		return fmt.Errorf("failed to render digest: %w", err)
	}

	// No delivery record id: digest mails are fire-and-forget and their
	// callbacks carry nothing to reconcile.
	out := contracts.ConnectorMessage{
		EndpointType:    string(model.EndpointTypeEmail),
		RenderedPayload: body,
	}
	headers := amqp091.Table{contracts.ConnectorHeader: processor.ConnectorEmail}
	if err := r.publisher.PublishWithHeaders(ctx, contracts.ConnectorRoutingKey, out, headers); err != nil {
		return fmt.Errorf("failed to publish digest: %w", err)
	}
	return nil
}

func mustJSON(v map[string]any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// Only reachable with unmarshalable values, which the engine
		// never puts in.
		panic(err)
	}
	return data
}

// DigestScheduler invokes the runner over consecutive windows on a fixed
// interval.
type DigestScheduler struct {
	runner   *DigestRunner
	interval time.Duration
	logger   *zap.Logger
}

func NewDigestScheduler(runner *DigestRunner, interval time.Duration, logger *zap.Logger) *DigestScheduler {
	return &DigestScheduler{
		runner:   runner,
		interval: interval,
		logger:   logger,
	}
}

// Start runs until ctx is canceled. Windows are contiguous: each run
// covers [previous end, now).
func (s *DigestScheduler) Start(ctx context.Context) {
	s.logger.Info("Starting digest scheduler",
		zap.Duration("interval", s.interval),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	windowStart := time.Now().UTC().Add(-s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Digest scheduler stopped")
			return
		case <-ticker.C:
			windowEnd := time.Now().UTC()
			if err := s.runner.Run(ctx, windowStart, windowEnd); err != nil {
				s.logger.Error("Digest run failed", zap.Error(err))
				// Keep the window start so the next tick retries the
				// failed keys over the extended window. Succeeded keys
				// were already purged and fold nothing twice.
				continue
			}
			windowStart = windowEnd
		}
	}
}
