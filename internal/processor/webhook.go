package processor

import (
	"encoding/json"
	"fmt"
	"time"

	"notifgate/internal/model"
)

// WebhookProcessor renders webhook-style deliveries (webhook and ansible
// endpoints) into a JSON body posted to the configured URL.
type WebhookProcessor struct {
	connector string
}

type webhookPayload struct {
	EventID     string          `json:"event_id"`
	OrgID       string          `json:"org_id"`
	Bundle      string          `json:"bundle"`
	Application string          `json:"application"`
	EventType   string          `json:"event_type"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

func (p *WebhookProcessor) Render(endpoint *model.Endpoint, ev *model.Event) (Message, error) {
	var props model.WebhookProperties
	if err := json.Unmarshal(endpoint.Properties, &props); err != nil {
		return Message{}, fmt.Errorf("invalid webhook properties: %w", err)
	}
	if props.URL == "" {
		return Message{}, fmt.Errorf("webhook endpoint %s has no target url", endpoint.ID)
	}

	body, err := json.Marshal(webhookPayload{
		EventID:     ev.ID.String(),
		OrgID:       ev.OrgID,
		Bundle:      ev.Bundle,
		Application: ev.Application,
		EventType:   ev.EventType,
		Timestamp:   ev.CreatedAt,
		Payload:     ev.RawPayload,
	})
	if err != nil {
		return Message{}, fmt.Errorf("failed to render webhook payload: %w", err)
	}

	return Message{Payload: body, TargetAddress: props.URL}, nil
}

func (p *WebhookProcessor) TargetChannel() string {
	return p.connector
}
