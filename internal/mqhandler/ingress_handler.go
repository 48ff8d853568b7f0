package mqhandler

import (
	"context"

	"go.uber.org/zap"

	"notifgate/internal/engine"
	"notifgate/pkg/mq"
)

// IngressHandler bridges the ingress consumer to the ingest pipeline.
type IngressHandler struct {
	ingestor *engine.Ingestor
	logger   *zap.Logger
}

func NewIngressHandler(ingestor *engine.Ingestor, logger *zap.Logger) *IngressHandler {
	return &IngressHandler{
		ingestor: ingestor,
		logger:   logger,
	}
}

func (h *IngressHandler) Handle(ctx context.Context, msg mq.Message) error {
	return h.ingestor.Handle(ctx, msg)
}
