package mq

import "time"

// Routing keys and queues on the notifications exchange.
const (
	IngressRoutingKey   = "ingress"
	IngressQueue        = "notifications.ingress.q"
	CallbackRoutingKey  = "connector.callback"
	CallbackQueue       = "notifications.callback.q"
	ConnectorRoutingKey = "connector.outbound"
)

// ConnectorHeader is the transport header naming which connector should
// handle an outbound message.
const ConnectorHeader = "x-connector"

// Context keys recognized on the ingress envelope.
const (
	// ContextEndpointID names an explicit target endpoint. When present,
	// behavior-group resolution is skipped entirely.
	ContextEndpointID = "integration_id"
)

// IngressEnvelope is the JSON envelope on the ingress topic.
type IngressEnvelope struct {
	Version     string             `json:"version"`
	OrgID       string             `json:"org_id"`
	Bundle      string             `json:"bundle"`
	Application string             `json:"application"`
	EventType   string             `json:"event_type"`
	Timestamp   time.Time          `json:"timestamp"`
	Context     map[string]any     `json:"context,omitempty"`
	Events      []IngressEvent     `json:"events"`
	Recipients  []RecipientSetting `json:"recipients,omitempty"`
}

// IngressEvent is one event inside an envelope.
type IngressEvent struct {
	Metadata map[string]any `json:"metadata,omitempty"`
	Payload  map[string]any `json:"payload"`
}

// RecipientSetting adjusts who an email/drawer delivery reaches.
type RecipientSetting struct {
	OnlyAdmins            bool     `json:"only_admins"`
	IgnoreUserPreferences bool     `json:"ignore_user_preferences"`
	Users                 []string `json:"users,omitempty"`
}
