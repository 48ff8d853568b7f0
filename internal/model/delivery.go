package model

import (
	"time"

	"github.com/google/uuid"
)

// InvocationResult is the per-record delivery state machine:
// pending -> success | failure (terminal).
type InvocationResult string

const (
	InvocationPending InvocationResult = "pending"
	InvocationSuccess InvocationResult = "success"
	InvocationFailure InvocationResult = "failure"
)

// DeliveryRecord is one row per (event, endpoint) recording the outcome of
// sending one event to one endpoint. The uniqueness of (EventID, EndpointID)
// is what enforces at most one logical delivery per endpoint per event.
// Bundle/application/event-type display names are denormalized so history
// survives event retention.
type DeliveryRecord struct {
	ID            uuid.UUID
	EventID       uuid.UUID
	EndpointID    uuid.UUID
	EndpointType  EndpointType
	Result        InvocationResult
	DurationMs    int64
	Details       map[string]any
	Bundle        string
	Application   string
	EventTypeName string
	CreatedAt     time.Time
}
