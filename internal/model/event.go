package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is one accepted inbound event. Immutable after creation; it is the
// join key for delivery records.
type Event struct {
	ID          uuid.UUID
	OrgID       string
	Bundle      string
	Application string
	EventType   string
	EventTypeID uuid.UUID
	CreatedAt   time.Time
	RawPayload  json.RawMessage
}

// EventType is routing metadata looked up from the configuration store.
// Read-only to the engine.
type EventType struct {
	ID                  uuid.UUID
	Bundle              string
	Application         string
	Name                string
	DisplayName         string
	SubscribedByDefault bool
}
