// Package processor maps endpoint types to their render/channel
// capabilities. The set is closed: webhook, email, chat, ansible and
// drawer, with ansible aliased onto the webhook connector.
package processor

import (
	"encoding/json"
	"fmt"

	"notifgate/internal/model"
)

// Connector names carried in the outbound transport header.
const (
	ConnectorWebhook = "webhook"
	ConnectorChat    = "chat"
	ConnectorEmail   = "email"
	ConnectorDrawer  = "drawer"
)

// Message is one rendered outbound payload.
type Message struct {
	Payload       json.RawMessage
	TargetAddress string
}

// Processor renders an (endpoint, event) pair into a connector message and
// names the connector that should carry it.
type Processor interface {
	Render(endpoint *model.Endpoint, ev *model.Event) (Message, error)
	TargetChannel() string
}

// Registry is the lookup table from endpoint type to processor.
type Registry struct {
	processors map[model.EndpointType]Processor
}

// NewRegistry returns the default registry covering every endpoint type.
func NewRegistry() *Registry {
	return &Registry{
		processors: map[model.EndpointType]Processor{
			model.EndpointTypeWebhook: &WebhookProcessor{connector: ConnectorWebhook},
			model.EndpointTypeChat:    &ChatProcessor{},
			// Ansible jobs travel through the webhook connector.
			model.EndpointTypeAnsible: &WebhookProcessor{connector: ConnectorWebhook},
			model.EndpointTypeEmail:   &EmailProcessor{},
			model.EndpointTypeDrawer:  &DrawerProcessor{},
		},
	}
}

// For returns the processor for an endpoint type.
func (r *Registry) For(t model.EndpointType) (Processor, error) {
	p, ok := r.processors[t]
	if !ok {
		return nil, fmt.Errorf("no processor for endpoint type %q", t)
	}
	return p, nil
}
