package processor

import (
	"encoding/json"
	"fmt"

	"notifgate/internal/model"
)

// ChatProcessor renders chat-room deliveries. Chat endpoints carry the
// target room in their properties next to the webhook-style URL.
type ChatProcessor struct{}

type chatPayload struct {
	Channel string          `json:"channel,omitempty"`
	Text    string          `json:"text"`
	Payload json.RawMessage `json:"payload"`
}

func (p *ChatProcessor) Render(endpoint *model.Endpoint, ev *model.Event) (Message, error) {
	var props model.ChatProperties
	if err := json.Unmarshal(endpoint.Properties, &props); err != nil {
		return Message{}, fmt.Errorf("invalid chat properties: %w", err)
	}
	if props.URL == "" {
		return Message{}, fmt.Errorf("chat endpoint %s has no target url", endpoint.ID)
	}

	body, err := json.Marshal(chatPayload{
		Channel: props.Channel,
		Text:    fmt.Sprintf("%s/%s: %s", ev.Bundle, ev.Application, ev.EventType),
		Payload: ev.RawPayload,
	})
	if err != nil {
		return Message{}, fmt.Errorf("failed to render chat payload: %w", err)
	}

	return Message{Payload: body, TargetAddress: props.URL}, nil
}

func (p *ChatProcessor) TargetChannel() string {
	return ConnectorChat
}
