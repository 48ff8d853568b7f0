package mqhandler

import (
	"context"
	"time"

	"go.uber.org/zap"

	contracts "notifgate/contracts/mq"
	"notifgate/internal/engine"
	"notifgate/pkg/metrics"
	"notifgate/pkg/mq"
)

// CallbackHandler bridges the connector-callback consumer to the
// reconciler.
type CallbackHandler struct {
	reconciler *engine.Reconciler
	logger     *zap.Logger
}

func NewCallbackHandler(reconciler *engine.Reconciler, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{
		reconciler: reconciler,
		logger:     logger,
	}
}

func (h *CallbackHandler) Handle(ctx context.Context, msg mq.Message) error {
	start := time.Now()
	defer func() {
		metrics.RecordConsumeLatency(contracts.CallbackRoutingKey, time.Since(start))
	}()

	return h.reconciler.Handle(ctx, msg.Body)
}
