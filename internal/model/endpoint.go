package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// EndpointType is the closed set of delivery processor types.
type EndpointType string

const (
	EndpointTypeWebhook EndpointType = "webhook"
	EndpointTypeEmail   EndpointType = "email"
	EndpointTypeChat    EndpointType = "chat"
	EndpointTypeAnsible EndpointType = "ansible"
	EndpointTypeDrawer  EndpointType = "drawer"
)

// Endpoint is a configured delivery target. The engine mutates only
// Enabled and ConsecutiveServerErrors (through the health tracker);
// everything else belongs to the admin layer.
type Endpoint struct {
	ID                      uuid.UUID
	OrgID                   string // empty for system endpoints
	Name                    string
	Type                    EndpointType
	Enabled                 bool
	ConsecutiveServerErrors int
	Properties              json.RawMessage
}

// WebhookProperties is the typed view of a webhook/ansible endpoint's
// Properties blob.
type WebhookProperties struct {
	URL    string `json:"url"`
	Method string `json:"method,omitempty"`
}

// ChatProperties is the typed view of a chat endpoint's Properties blob.
type ChatProperties struct {
	URL     string `json:"url"`
	Channel string `json:"channel,omitempty"`
}
