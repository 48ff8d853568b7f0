package processor

import (
	"encoding/json"
	"fmt"
	"time"

	"notifgate/internal/model"
)

// DrawerProcessor renders in-app drawer notifications.
type DrawerProcessor struct{}

type drawerPayload struct {
	EventID     string    `json:"event_id"`
	OrgID       string    `json:"org_id"`
	Bundle      string    `json:"bundle"`
	Application string    `json:"application"`
	EventType   string    `json:"event_type"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"created_at"`
}

func (p *DrawerProcessor) Render(endpoint *model.Endpoint, ev *model.Event) (Message, error) {
	body, err := json.Marshal(drawerPayload{
		EventID:     ev.ID.String(),
		OrgID:       ev.OrgID,
		Bundle:      ev.Bundle,
		Application: ev.Application,
		EventType:   ev.EventType,
		Title:       fmt.Sprintf("%s/%s: %s", ev.Bundle, ev.Application, ev.EventType),
		CreatedAt:   ev.CreatedAt,
	})
	if err != nil {
		return Message{}, fmt.Errorf("failed to render drawer payload: %w", err)
	}
	return Message{Payload: body}, nil
}

func (p *DrawerProcessor) TargetChannel() string {
	return ConnectorDrawer
}
