package processor

import (
	"encoding/json"
	"fmt"

	"notifgate/internal/model"
)

// EmailProcessor renders the subject/body pair for email deliveries. The
// recipient set is resolved by the dispatcher's email branch and attached
// afterwards with WithRecipients.
type EmailProcessor struct{}

// EmailPayload is the rendered email connector body.
type EmailPayload struct {
	Subject    string          `json:"subject"`
	Body       json.RawMessage `json:"body"`
	Recipients []string        `json:"recipients,omitempty"`
}

func (p *EmailProcessor) Render(endpoint *model.Endpoint, ev *model.Event) (Message, error) {
	payload, err := json.Marshal(EmailPayload{
		Subject: fmt.Sprintf("%s - %s - %s", ev.Bundle, ev.Application, ev.EventType),
		Body:    ev.RawPayload,
	})
	if err != nil {
		return Message{}, fmt.Errorf("failed to render email payload: %w", err)
	}
	return Message{Payload: payload}, nil
}

func (p *EmailProcessor) TargetChannel() string {
	return ConnectorEmail
}

// WithRecipients returns a copy of the rendered email message with the
// recipient list attached.
func WithRecipients(msg Message, recipients []string) (Message, error) {
	var payload EmailPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return Message{}, fmt.Errorf("failed to attach recipients: %w", err)
	}
	payload.Recipients = recipients

	body, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to attach recipients: %w", err)
	}
	return Message{Payload: body, TargetAddress: msg.TargetAddress}, nil
}
