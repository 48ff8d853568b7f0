package mq

import "encoding/json"

// Error classifications reported by connectors.
const (
	ErrorTypeClient = "CLIENT"
	ErrorTypeServer = "SERVER"
)

// ConnectorMessage is the payload published on the to-connector topic.
// The ConnectorHeader transport header selects the connector. An empty
// DeliveryRecordID marks a fire-and-forget send (digest mails): the
// connector still attempts delivery but no reconciliation happens.
type ConnectorMessage struct {
	DeliveryRecordID string          `json:"delivery_record_id,omitempty"`
	EndpointType     string          `json:"endpoint_type"`
	RenderedPayload  json.RawMessage `json:"rendered_payload"`
	TargetAddress    string          `json:"target_address,omitempty"`
}

// ConnectorCallback is the payload connectors publish after attempting a
// delivery.
type ConnectorCallback struct {
	HistoryID  string         `json:"history_id"`
	Successful bool           `json:"successful"`
	Outcome    string         `json:"outcome,omitempty"`
	DurationMs int64          `json:"duration"`
	Details    map[string]any `json:"details,omitempty"`
	Error      *CallbackError `json:"error,omitempty"`
}

// StatusCode returns the reported HTTP status, or 0 when the connector
// reported no error detail.
func (c *ConnectorCallback) StatusCode() int {
	if c.Error == nil {
		return 0
	}
	return c.Error.StatusCode
}

// CallbackError describes a failed delivery attempt.
type CallbackError struct {
	Type             string `json:"type"` // CLIENT or SERVER
	StatusCode       int    `json:"status_code,omitempty"`
	DeliveryAttempts int    `json:"delivery_attempts,omitempty"`
}
