package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SubscriptionType distinguishes immediate mails from daily digests.
type SubscriptionType string

const (
	SubscriptionInstant SubscriptionType = "instant"
	SubscriptionDaily   SubscriptionType = "daily"
)

// EmailSubscription is a per-user override of the event type's
// subscribed-by-default flag.
type EmailSubscription struct {
	OrgID       string
	UserID      string
	EventTypeID uuid.UUID
	Type        SubscriptionType
	Subscribed  bool
}

// StagedRow is one event payload staged for digest aggregation. Written by
// the dispatcher's email-digest branch, consumed and deleted in windows by
// the digest runner.
type StagedRow struct {
	ID          uuid.UUID
	OrgID       string
	Bundle      string
	Application string
	Payload     json.RawMessage
	CreatedAt   time.Time
}

// AggregationKey identifies one digest batch.
type AggregationKey struct {
	OrgID       string
	Bundle      string
	Application string
}
