package dedup

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"notifgate/pkg/metrics"
)

// Result classifies one inbound message id.
type Result int

const (
	// New: the id was registered now, or no usable id exists. Process the
	// message.
	New Result = iota
	// Duplicate: the id was already registered. Ack and stop.
	Duplicate
	// MissingID: no id on the message; dedup is impossible, processed as
	// new but counted separately so operators can tell "can't dedup" from
	// "dedup worked".
	MissingID
	// InvalidID: the id did not parse as a UUID; processed as new.
	InvalidID
)

func (r Result) String() string {
	switch r {
	case Duplicate:
		return "duplicate"
	case MissingID:
		return "missing_id"
	case InvalidID:
		return "invalid_id"
	default:
		return "new"
	}
}

const keyPrefix = "dedup:ingress:"

// Store is the pair of redis operations the deduper needs.
// *redis.Client satisfies it.
type Store interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Deduper is the engine's sole idempotence boundary. Registration and the
// already-present check are a single SET NX, so two workers racing on the
// same id cannot both see New.
type Deduper struct {
	rdb    Store
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb Store, ttl time.Duration, logger *zap.Logger) *Deduper {
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// Accept decides whether the message carrying messageID has been seen
// before. Ids are bounded by the configured TTL; after eviction a
// redelivery is accepted as new again.
func (d *Deduper) Accept(ctx context.Context, messageID string) Result {
	result := d.classify(ctx, messageID)
	if result != New {
		// Accepted messages are counted by the ingest handler once the
		// whole envelope is taken; the deduper only counts the degraded
		// and duplicate cases.
		metrics.IngressMessages.WithLabelValues(result.String()).Inc()
	}
	return result
}

// Forget releases a registered message id so a redelivery is accepted
// again. Called when processing failed transiently after Accept said New;
// without it the broker's redelivery would be dropped as a duplicate and
// the message lost. Ids that never registered (missing, invalid) are a
// no-op.
func (d *Deduper) Forget(ctx context.Context, messageID string) {
	id, err := uuid.Parse(messageID)
	if err != nil {
		return
	}
	if err := d.rdb.Del(ctx, keyPrefix+id.String()).Err(); err != nil {
		d.logger.Warn("Failed to release dedup key, redelivery may be dropped",
			zap.String("message_id", id.String()),
			zap.Error(err),
		)
	}
}

func (d *Deduper) classify(ctx context.Context, messageID string) Result {
	if messageID == "" {
		return MissingID
	}

	id, err := uuid.Parse(messageID)
	if err != nil {
		d.logger.Warn("Unparsable message id, processing as new",
			zap.String("message_id", messageID),
		)
		return InvalidID
	}

	ok, err := d.rdb.SetNX(ctx, keyPrefix+id.String(), 1, d.ttl).Result()
	if err != nil {
		// Redis down: fail open so at-least-once processing continues.
		d.logger.Warn("Dedup store unavailable, processing as new",
			zap.String("message_id", id.String()),
			zap.Error(err),
		)
		return New
	}

	if !ok {
		d.logger.Info("Skipped duplicate message",
			zap.String("message_id", id.String()),
		)
		return Duplicate
	}

	return New
}
